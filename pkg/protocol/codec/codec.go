// Package codec serializes BCP commands for the wire.
package codec

import (
	"fmt"
	"sort"
	"strings"

	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/stream"
)

// Codec encodes and decodes commands. Implementations must be safe for
// concurrent use.
type Codec interface {
	Name() string
	ContentType() string
	// Framing tells transports how to delimit encoded commands on a stream.
	Framing() stream.Framing
	Encode(protocol.Command) ([]byte, error)
	Decode([]byte) (protocol.Command, error)
}

// Default is the codec used when a spec does not select one.
const Default = "bcp"

// ErrUnknownCodec is returned by Lookup for unregistered names.
type ErrUnknownCodec string

func (e ErrUnknownCodec) Error() string { return "unknown codec: " + string(e) }

// Registry maps codec names and content types to codecs.
type Registry struct{ byName map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Codec)}
	r.Register(Line())
	r.Register(JSON())
	r.Register(Proto())
	if c, err := CBOR(); err == nil {
		r.Register(c)
	}
	return r
}

// Register adds a codec under its name and content type.
func (r *Registry) Register(c Codec) {
	r.byName[strings.ToLower(c.Name())] = c
	r.byName[strings.ToLower(c.ContentType())] = c
}

// Lookup resolves a codec by name or content type; empty selects Default.
func (r *Registry) Lookup(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = Default
	}
	if c := r.byName[name]; c != nil {
		return c, nil
	}
	return nil, ErrUnknownCodec(name)
}

// Names lists registered codec names.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range r.byName {
		if _, ok := seen[c.Name()]; ok {
			continue
		}
		seen[c.Name()] = struct{}{}
		out = append(out, c.Name())
	}
	sort.Strings(out)
	return out
}

// wireCommand is the document shape shared by the structured codecs.
type wireCommand struct {
	Cmd    string         `json:"cmd" cbor:"cmd"`
	Params map[string]any `json:"params,omitempty" cbor:"params,omitempty"`
}

func toWire(c protocol.Command) (wireCommand, error) {
	name := strings.ToLower(strings.TrimSpace(c.Name))
	if name == "" {
		return wireCommand{}, protocol.ErrEmptyCommand
	}
	return wireCommand{Cmd: name, Params: c.Params}, nil
}

func fromWire(w wireCommand) (protocol.Command, error) {
	if strings.TrimSpace(w.Cmd) == "" {
		return protocol.Command{}, protocol.ErrEmptyCommand
	}
	if w.Params == nil {
		w.Params = map[string]any{}
	}
	protocol.IntValues(w.Params, false)
	return protocol.Command{Name: strings.ToLower(w.Cmd), Params: w.Params}, nil
}

func wrap(codec string, op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", codec, op, err)
}
