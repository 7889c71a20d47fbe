package codec

import (
	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/stream"
)

type lineCodec struct{}

// Line returns the BCP text codec (command?key=value, newline framed).
func Line() Codec { return lineCodec{} }

func (lineCodec) Name() string            { return "bcp" }
func (lineCodec) ContentType() string     { return "text/x-bcp" }
func (lineCodec) Framing() stream.Framing { return stream.Line }

func (lineCodec) Encode(c protocol.Command) ([]byte, error) { return protocol.EncodeLine(c) }
func (lineCodec) Decode(b []byte) (protocol.Command, error) { return protocol.DecodeLine(b) }
