package protocol

import (
    "errors"
    "testing"
)

func TestHeaderRoundtrip(t *testing.T) {
    h := Header{
        Version:    Version,
        Type:       MsgSubscribe,
        Flags:      FlagControl | FlagTerminal,
        Sequence:   0x1122334455667788,
        PayloadLen: 1234,
    }

    b, err := h.MarshalBinary()
    if err != nil { t.Fatalf("marshal: %v", err) }
    if len(b) != headerSize { t.Fatalf("header size = %d", len(b)) }

    var h2 Header
    if err := h2.UnmarshalBinary(b); err != nil { t.Fatalf("unmarshal: %v", err) }
    if h2 != h {
        t.Fatalf("headers differ: %#v vs %#v", h2, h)
    }
}

func TestHeaderRejectsGarbage(t *testing.T) {
    var h Header
    if err := h.UnmarshalBinary(make([]byte, 4)); !errors.Is(err, ErrShortHeader) {
        t.Fatalf("want ErrShortHeader, got %v", err)
    }
    if err := h.UnmarshalBinary(make([]byte, headerSize)); !errors.Is(err, ErrBadMagic) {
        t.Fatalf("want ErrBadMagic, got %v", err)
    }
    good := Header{Version: Version + 1, Type: MsgClose}
    b, _ := good.MarshalBinary()
    if err := h.UnmarshalBinary(b); !errors.Is(err, ErrBadVersion) {
        t.Fatalf("want ErrBadVersion, got %v", err)
    }
}

func TestMessageRanges(t *testing.T) {
    for _, typ := range []uint8{MsgConnect, MsgSubscribe, MsgUnsubscribe, MsgPublish, MsgClose} {
        if !IsCommand(typ) || IsSnapshot(typ) { t.Fatalf("type %#x misclassified", typ) }
    }
    if !IsSnapshot(MsgSnapshot+6) || IsCommand(MsgSnapshot) { t.Fatalf("snapshot range misclassified") }
    if IsCommand(MsgFrame) || IsSnapshot(MsgFrame) { t.Fatalf("engine type misclassified") }
}
