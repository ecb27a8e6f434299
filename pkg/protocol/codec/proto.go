package codec

import (
    "encoding/json"
    "fmt"

    "google.golang.org/protobuf/proto"
    "google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
    mo proto.MarshalOptions
    uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec with deterministic marshaling.
// Values that are not proto.Message are carried as a google.protobuf.Struct
// built from their JSON form, so plain Go structs round-trip as well.
// Content-Type: application/x-protobuf
func Proto() Codec {
    return protoCodec{
        mo: proto.MarshalOptions{Deterministic: true},
        uo: proto.UnmarshalOptions{},
    }
}

func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
    if msg, ok := v.(proto.Message); ok {
        return p.mo.Marshal(msg)
    }
    raw, err := json.Marshal(v)
    if err != nil { return nil, fmt.Errorf("protobuf: %w", err) }
    var fields map[string]any
    if err := json.Unmarshal(raw, &fields); err != nil {
        return nil, fmt.Errorf("protobuf: value %T is not an object: %w", v, err)
    }
    s, err := structpb.NewStruct(fields)
    if err != nil { return nil, fmt.Errorf("protobuf: %w", err) }
    return p.mo.Marshal(s)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
    if msg, ok := v.(proto.Message); ok {
        return p.uo.Unmarshal(data, msg)
    }
    var s structpb.Struct
    if err := p.uo.Unmarshal(data, &s); err != nil { return err }
    raw, err := json.Marshal(s.AsMap())
    if err != nil { return fmt.Errorf("protobuf: %w", err) }
    return json.Unmarshal(raw, v)
}
