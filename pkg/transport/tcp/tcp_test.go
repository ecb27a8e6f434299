package tcp

import (
    "context"
    "testing"
    "time"
)

func TestLoopbackRoundTrip(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    tr := New()
    l, err := tr.Listen(ctx, "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()

    cli, err := tr.Dial(ctx, l.Addr().String())
    if err != nil { t.Fatalf("dial: %v", err) }
    defer cli.Close()
    srv, err := l.Accept(ctx)
    if err != nil { t.Fatalf("accept: %v", err) }
    defer srv.Close()

    cs, _ := cli.OpenStream(ctx)
    ss, _ := srv.AcceptStream(ctx)
    if err := cs.SendBytes([]byte("ping")); err != nil { t.Fatalf("send: %v", err) }
    got, err := ss.RecvBytes()
    if err != nil || string(got) != "ping" { t.Fatalf("recv: %q %v", got, err) }
    if err := ss.SendBytes(nil); err != nil { t.Fatalf("send empty: %v", err) }
    got, err = cs.RecvBytes()
    if err != nil || len(got) != 0 { t.Fatalf("recv empty: %q %v", got, err) }
}
