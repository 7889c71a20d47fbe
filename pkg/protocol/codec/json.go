package codec

import (
	"bytes"
	"encoding/json"

	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/stream"
)

type jsonCodec struct{}

// JSON returns a JSON codec (RFC 8259). Documents are single-line so the
// codec keeps line framing.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Name() string            { return "json" }
func (jsonCodec) ContentType() string     { return "application/json" }
func (jsonCodec) Framing() stream.Framing { return stream.Line }

func (jsonCodec) Encode(c protocol.Command) ([]byte, error) {
	w, err := toWire(c)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(w)
	return b, wrap("json", "encode", err)
}

func (jsonCodec) Decode(b []byte) (protocol.Command, error) {
	var w wireCommand
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return protocol.Command{}, wrap("json", "decode", err)
	}
	return fromWire(w)
}
