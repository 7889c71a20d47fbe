// Package protocol defines the BCP command model and its text line format.
package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known command names handled by the interface layer.
const (
	CmdHello   = "hello"
	CmdGoodbye = "goodbye"
	CmdPing    = "ping"
	CmdPong    = "pong"
	CmdError   = "error"
)

// Command is one BCP command with named parameters.
type Command struct {
	Name   string
	Params map[string]any
}

// NewCommand builds a command; the name is normalized to lower case.
func NewCommand(name string, params map[string]any) Command {
	return Command{Name: strings.ToLower(strings.TrimSpace(name)), Params: params}
}

// Get returns a parameter value.
func (c Command) Get(key string) (any, bool) {
	v, ok := c.Params[key]
	return v, ok
}

// GetString returns a parameter formatted as string, or def when missing.
func (c Command) GetString(key, def string) string {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Keys returns parameter names in sorted order.
func (c Command) Keys() []string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Command) String() string {
	b, err := EncodeLine(c)
	if err != nil {
		return c.Name
	}
	return string(b)
}
