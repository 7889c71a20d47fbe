package codec

import (
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"

	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/stream"
)

var reflectMapStringAny = reflect.TypeOf(map[string]any(nil))

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949) with core profile.
// Maps decode with string keys so params match the other codecs.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{DefaultMapType: reflectMapStringAny}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) Name() string            { return "cbor" }
func (cborCodec) ContentType() string     { return "application/cbor" }
func (cborCodec) Framing() stream.Framing { return stream.LengthPrefixed }

func (c cborCodec) Encode(cmd protocol.Command) ([]byte, error) {
	w, err := toWire(cmd)
	if err != nil {
		return nil, err
	}
	b, err := c.enc.Marshal(w)
	return b, wrap("cbor", "encode", err)
}

func (c cborCodec) Decode(b []byte) (protocol.Command, error) {
	var w wireCommand
	if err := c.dec.Unmarshal(b, &w); err != nil {
		return protocol.Command{}, wrap("cbor", "decode", err)
	}
	return fromWire(w)
}
