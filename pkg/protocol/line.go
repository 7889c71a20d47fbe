package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// ErrEmptyCommand is returned when a line carries no command name.
var ErrEmptyCommand = errors.New("bcp: empty command")

// EncodeLine renders a command in the BCP text format:
//
//	command?key=value&key2=value2
//
// Scalars carry type prefixes (int:, float:, bool:, NoneType:). When any
// parameter is a map or slice, all parameters travel as a single json=...
// parameter instead. The result never contains a newline.
func EncodeLine(c Command) ([]byte, error) {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" {
		return nil, ErrEmptyCommand
	}
	if len(c.Params) == 0 {
		return []byte(name), nil
	}
	if needsJSON(c.Params) {
		b, err := json.Marshal(c.Params)
		if err != nil {
			return nil, fmt.Errorf("bcp: encode %s: %w", name, err)
		}
		return []byte(name + "?json=" + url.QueryEscape(string(b))), nil
	}

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('?')
	for i, k := range c.Keys() {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(encodeValue(c.Params[k])))
	}
	return []byte(sb.String()), nil
}

// DecodeLine parses one BCP text line. Trailing CR/LF is ignored.
func DecodeLine(b []byte) (Command, error) {
	line := strings.TrimRight(string(b), "\r\n")
	name, query, _ := strings.Cut(line, "?")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Command{}, ErrEmptyCommand
	}
	cmd := Command{Name: name, Params: map[string]any{}}
	if query == "" {
		return cmd, nil
	}
	vals, err := url.ParseQuery(query)
	if err != nil {
		return Command{}, fmt.Errorf("bcp: decode %s: %w", name, err)
	}
	if js, ok := vals["json"]; ok && len(js) > 0 {
		dec := json.NewDecoder(strings.NewReader(js[0]))
		dec.UseNumber()
		if err := dec.Decode(&cmd.Params); err != nil {
			return Command{}, fmt.Errorf("bcp: decode %s json: %w", name, err)
		}
		IntValues(cmd.Params, false)
		return cmd, nil
	}
	for k, v := range vals {
		if len(v) == 0 {
			cmd.Params[k] = ""
			continue
		}
		cmd.Params[k] = decodeValue(v[0])
	}
	return cmd, nil
}

func needsJSON(params map[string]any) bool {
	for _, v := range params {
		if v == nil {
			continue
		}
		switch reflect.TypeOf(v).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
			return true
		}
	}
	return false
}

func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NoneType:"
	case string:
		return x
	case bool:
		if x {
			return "bool:True"
		}
		return "bool:False"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int:" + fmt.Sprint(x)
	case float32:
		return "float:" + strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return "float:" + strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func decodeValue(s string) any {
	switch {
	case strings.HasPrefix(s, "int:"):
		if n, err := strconv.Atoi(s[4:]); err == nil {
			return n
		}
	case strings.HasPrefix(s, "float:"):
		if f, err := strconv.ParseFloat(s[6:], 64); err == nil {
			return f
		}
	case strings.HasPrefix(s, "bool:"):
		return s[5:] == "True"
	case s == "NoneType:":
		return nil
	}
	return s
}
