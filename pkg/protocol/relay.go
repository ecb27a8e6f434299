package protocol

import (
    "fmt"

    "github.com/kixelated/warp/pkg/protocol/codec"
)

// RelayVersion is the engine/relay setup version.
const RelayVersion uint32 = 1

// SetupMsg opens a relay session (MsgSetup). The relay echoes its own
// version back or answers with MsgGoAway.
type SetupMsg struct {
    Version uint32 `cbor:"1,keyasint" json:"version"`
    Path    string `cbor:"2,keyasint,omitempty" json:"path,omitempty"`
}

// TrackMsg requests (MsgTrackSub) or stops (MsgTrackUnsub) a track. The relay
// acknowledges MsgTrackSub with the same message, Error set on refusal.
type TrackMsg struct {
    Track string `cbor:"1,keyasint" json:"track"`
    Error string `cbor:"2,keyasint,omitempty" json:"error,omitempty"`
}

// FrameMsg carries one media frame (MsgFrame). The frame sequence travels in
// the envelope header.
type FrameMsg struct {
    Track string `cbor:"1,keyasint" json:"track"`
    Data  []byte `cbor:"2,keyasint" json:"data"`
}

// GoAwayMsg ends a relay session (MsgGoAway).
type GoAwayMsg struct {
    Reason string `cbor:"1,keyasint" json:"reason"`
}

// EncodeRelay builds a CBOR-bodied envelope frame ready for a transport stream.
func EncodeRelay(reg *codec.Registry, typ uint8, seq uint64, v any) ([]byte, error) {
    env, err := NewEnvelopeWithBody(Header{Type: typ, Sequence: seq}, FormatCBOR, v, reg)
    if err != nil { return nil, err }
    return env.EncodeFrame()
}

// DecodeRelay parses a frame received from a transport stream. The body is
// left in the envelope for DecodeEnvelopeBody.
func DecodeRelay(frame []byte) (Envelope, error) {
    var env Envelope
    if err := env.DecodeFrame(frame); err != nil { return Envelope{}, err }
    if env.Header.Type < MsgSetup || env.Header.Type > MsgGoAway {
        return Envelope{}, fmt.Errorf("unexpected relay message type %#x", env.Header.Type)
    }
    return env, nil
}
