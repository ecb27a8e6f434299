package relay

import (
    "context"
    "testing"
    "time"

    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/protocol/codec"
    "github.com/kixelated/warp/pkg/transport"
    "github.com/kixelated/warp/pkg/transport/mem"
)

type client struct {
    t   *testing.T
    st  transport.Stream
    reg *codec.Registry
}

func dial(t *testing.T, ctx context.Context, tr *mem.Transport, version uint32) *client {
    t.Helper()
    sess, err := tr.Dial(ctx, "relay")
    if err != nil { t.Fatalf("dial: %v", err) }
    t.Cleanup(func() { _ = sess.Close() })
    st, _ := sess.OpenStream(ctx)
    reg, _ := codec.DefaultRegistry()
    c := &client{t: t, st: st, reg: reg}
    c.send(protocol.MsgSetup, 0, protocol.SetupMsg{Version: version})
    return c
}

func (c *client) send(typ uint8, seq uint64, v any) {
    c.t.Helper()
    b, err := protocol.EncodeRelay(c.reg, typ, seq, v)
    if err != nil { c.t.Fatalf("encode: %v", err) }
    if err := c.st.SendBytes(b); err != nil { c.t.Fatalf("send: %v", err) }
}

func (c *client) recv() protocol.Envelope {
    c.t.Helper()
    b, err := c.st.RecvBytes()
    if err != nil { c.t.Fatalf("recv: %v", err) }
    env, err := protocol.DecodeRelay(b)
    if err != nil { c.t.Fatalf("decode: %v", err) }
    return env
}

func startRelay(t *testing.T) (context.Context, *mem.Transport, *Server) {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    t.Cleanup(cancel)
    tr := mem.New()
    l, err := tr.Listen(ctx, "relay")
    if err != nil { t.Fatalf("listen: %v", err) }
    srv, err := New(Options{})
    if err != nil { t.Fatalf("new: %v", err) }
    done := make(chan error, 1)
    go func() { done <- srv.Serve(ctx, l) }()
    t.Cleanup(func() {
        cancel()
        select {
        case <-done:
        case <-time.After(2 * time.Second):
            t.Errorf("relay did not stop")
        }
    })
    return ctx, tr, srv
}

func TestFanout(t *testing.T) {
    ctx, tr, srv := startRelay(t)

    watcher := dial(t, ctx, tr, protocol.RelayVersion)
    if env := watcher.recv(); env.Header.Type != protocol.MsgSetup { t.Fatalf("setup reply type %#x", env.Header.Type) }
    watcher.send(protocol.MsgTrackSub, 0, protocol.TrackMsg{Track: "alice"})
    env := watcher.recv()
    var ack protocol.TrackMsg
    if _, err := protocol.DecodeEnvelopeBody(&env, &ack, watcher.reg); err != nil || ack.Track != "alice" || ack.Error != "" {
        t.Fatalf("bad ack: %+v %v", ack, err)
    }

    pub := dial(t, ctx, tr, protocol.RelayVersion)
    pub.recv()
    pub.send(protocol.MsgFrame, 1, protocol.FrameMsg{Track: "bob", Data: []byte("ignored")})
    pub.send(protocol.MsgFrame, 2, protocol.FrameMsg{Track: "alice", Data: []byte("hello")})

    env = watcher.recv()
    var fm protocol.FrameMsg
    if _, err := protocol.DecodeEnvelopeBody(&env, &fm, watcher.reg); err != nil { t.Fatalf("frame: %v", err) }
    if env.Header.Sequence != 2 || fm.Track != "alice" || string(fm.Data) != "hello" {
        t.Fatalf("unexpected frame seq=%d %+v", env.Header.Sequence, fm)
    }
    if st := srv.Stats(); st.Frames != 2 { t.Fatalf("frames = %d", st.Frames) }
}

func TestRejectsEmptyTrackAndBadVersion(t *testing.T) {
    ctx, tr, _ := startRelay(t)

    c := dial(t, ctx, tr, protocol.RelayVersion)
    c.recv()
    c.send(protocol.MsgTrackSub, 0, protocol.TrackMsg{})
    env := c.recv()
    var ack protocol.TrackMsg
    _, _ = protocol.DecodeEnvelopeBody(&env, &ack, c.reg)
    if ack.Error == "" { t.Fatalf("empty track accepted") }

    old := dial(t, ctx, tr, protocol.RelayVersion+1)
    if env := old.recv(); env.Header.Type != protocol.MsgGoAway { t.Fatalf("want goaway, got %#x", env.Header.Type) }
}
