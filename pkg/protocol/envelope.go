package protocol

import (
    "errors"
    "fmt"
    "io"
)

// MaxPayload bounds a single envelope body.
const MaxPayload = 1 << 24

// ErrPayloadTooLarge is returned when a body exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("payload too large")

// Envelope is a header + payload wrapper for a single message.
type Envelope struct {
    Header  Header
    Payload []byte
}

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint32) bool { return (e.Header.Flags & flag) != 0 }

// ReadFrom reads header + payload from r.
func (e *Envelope) ReadFrom(r io.Reader) (int64, error) {
    hb := make([]byte, headerSize)
    if _, err := io.ReadFull(r, hb); err != nil {
        return 0, err
    }
    if err := e.Header.UnmarshalBinary(hb); err != nil {
        return int64(headerSize), err
    }
    if e.Header.PayloadLen > MaxPayload {
        return int64(headerSize), fmt.Errorf("%w: %d", ErrPayloadTooLarge, e.Header.PayloadLen)
    }
    if e.Header.PayloadLen > 0 {
        e.Payload = make([]byte, int(e.Header.PayloadLen))
        if _, err := io.ReadFull(r, e.Payload); err != nil {
            return int64(headerSize), err
        }
    } else {
        e.Payload = nil
    }
    return int64(headerSize + int(e.Header.PayloadLen)), nil
}

// EncodeFrame returns header+payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
    if len(e.Payload) > MaxPayload {
        return nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(e.Payload))
    }
    if e.Header.Version == 0 { e.Header.Version = Version }
    e.Header.PayloadLen = uint32(len(e.Payload))
    out := make([]byte, headerSize+len(e.Payload))
    e.Header.put(out)
    copy(out[headerSize:], e.Payload)
    return out, nil
}

// DecodeFrame parses a single frame from buf.
func (e *Envelope) DecodeFrame(buf []byte) error {
    if len(buf) < headerSize {
        return io.ErrUnexpectedEOF
    }
    if err := e.Header.UnmarshalBinary(buf[:headerSize]); err != nil {
        return err
    }
    need := int(e.Header.PayloadLen)
    if headerSize+need > len(buf) {
        return io.ErrUnexpectedEOF
    }
    e.Payload = append(e.Payload[:0], buf[headerSize:headerSize+need]...)
    return nil
}
