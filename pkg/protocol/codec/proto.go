package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"bcphub/pkg/protocol"
	"bcphub/pkg/protocol/stream"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec carrying commands as a
// google.protobuf.Struct {cmd, params}, marshaled deterministically.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (protoCodec) Name() string            { return "proto" }
func (protoCodec) ContentType() string     { return "application/x-protobuf" }
func (protoCodec) Framing() stream.Framing { return stream.LengthPrefixed }

func (p protoCodec) Encode(c protocol.Command) ([]byte, error) {
	w, err := toWire(c)
	if err != nil {
		return nil, err
	}
	params, err := normalize(w.Params)
	if err != nil {
		return nil, wrap("protobuf", "encode", err)
	}
	s, err := structpb.NewStruct(map[string]any{"cmd": w.Cmd, "params": params})
	if err != nil {
		return nil, wrap("protobuf", "encode", err)
	}
	b, err := p.mo.Marshal(s)
	return b, wrap("protobuf", "encode", err)
}

func (p protoCodec) Decode(b []byte) (protocol.Command, error) {
	var s structpb.Struct
	if err := p.uo.Unmarshal(b, &s); err != nil {
		return protocol.Command{}, wrap("protobuf", "decode", err)
	}
	w := wireCommand{Cmd: s.GetFields()["cmd"].GetStringValue()}
	if ps := s.GetFields()["params"].GetStructValue(); ps != nil {
		// Struct numbers are doubles; whole values go back to int.
		w.Params = protocol.IntValues(ps.AsMap(), true).(map[string]any)
	}
	return fromWire(w)
}

// normalize converts arbitrary Go values into the JSON-like shapes structpb
// accepts ([]string → []any, ints → float64, structs → maps).
func normalize(params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("normalize params: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize params: %w", err)
	}
	return out, nil
}
