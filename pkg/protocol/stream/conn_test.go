package stream

import (
    "net"
    "testing"

    "github.com/kixelated/warp/pkg/protocol"
)

func TestConnOverPipe(t *testing.T) {
    a, b := net.Pipe()
    ca, cb := New(a), New(b)
    defer ca.Close()
    defer cb.Close()

    go func() {
        for i := uint64(1); i <= 3; i++ {
            e := protocol.Envelope{Header: protocol.Header{Type: protocol.MsgConnect, Sequence: i}, Payload: []byte("x")}
            if err := ca.Send(&e); err != nil { return }
        }
    }()

    for i := uint64(1); i <= 3; i++ {
        var e protocol.Envelope
        if err := cb.Recv(&e); err != nil { t.Fatalf("recv: %v", err) }
        if e.Header.Sequence != i || string(e.Payload) != "x" { t.Fatalf("frame %d mismatch: %#v", i, e.Header) }
    }
}

func TestRecvAfterPeerClose(t *testing.T) {
    a, b := net.Pipe()
    ca, cb := New(a), New(b)
    _ = ca.Close()
    var e protocol.Envelope
    if err := cb.Recv(&e); err == nil { t.Fatalf("expected error after peer close") }
}
