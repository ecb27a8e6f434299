package codec

import (
    "bytes"
    "encoding/json"
    "errors"
    "io"
)

type jsonCodec struct{}

// JSON returns a JSON codec (RFC 8259). Content-Type: application/json
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal rejects trailing data after the first value.
func (jsonCodec) Unmarshal(data []byte, v any) error {
    dec := json.NewDecoder(bytes.NewReader(data))
    if err := dec.Decode(v); err != nil { return err }
    if _, err := dec.Token(); !errors.Is(err, io.EOF) {
        return errors.New("json: trailing data after value")
    }
    return nil
}
