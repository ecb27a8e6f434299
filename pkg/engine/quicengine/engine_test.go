package quicengine

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/kixelated/warp/pkg/engine"
    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/protocol/codec"
    "github.com/kixelated/warp/pkg/relay"
    "github.com/kixelated/warp/pkg/session"
    "github.com/kixelated/warp/pkg/transport"
    "github.com/kixelated/warp/pkg/transport/mem"
)

func startRelay(t *testing.T, tr *mem.Transport, opts relay.Options) {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    l, err := tr.Listen(ctx, "relay.test")
    if err != nil { t.Fatalf("listen: %v", err) }
    srv, err := relay.New(opts)
    if err != nil { t.Fatalf("relay: %v", err) }
    go func() { _ = srv.Serve(ctx, l) }()
}

func newEngine(t *testing.T, tr transport.Transport) *Engine {
    t.Helper()
    e, err := New(Config{Transport: tr, RequestTimeout: time.Second})
    if err != nil { t.Fatalf("new: %v", err) }
    t.Cleanup(e.Close)
    return e
}

func TestTarget(t *testing.T) {
    cases := []struct{ kind transport.Kind; in, addr, path string }{
        {transport.KindQUIC, "https://relay.example/live", "relay.example:443", "/live"},
        {transport.KindQUIC, "http://relay.example:4443", "relay.example:4443", ""},
        {transport.KindQUIC, "moqt://[::1]:9000/x", "[::1]:9000", "/x"},
        {transport.KindMem, "https://relay.test/room", "relay.test", "/room"},
    }
    for _, tc := range cases {
        addr, path, err := target(tc.kind, tc.in)
        if err != nil || addr != tc.addr || path != tc.path {
            t.Fatalf("target(%q) = %q %q %v", tc.in, addr, path, err)
        }
    }
    if _, _, err := target(transport.KindQUIC, "ftp://relay.example"); err == nil { t.Fatalf("ftp accepted") }
}

func TestWatchReceivesPublishedFrames(t *testing.T) {
    tr := mem.New()
    startRelay(t, tr, relay.Options{})

    watcher := newEngine(t, tr)
    if err := watcher.Connect("https://relay.test/live"); err != nil { t.Fatalf("connect watcher: %v", err) }
    if err := watcher.Subscribe("alice"); err != nil { t.Fatalf("subscribe: %v", err) }

    pub := newEngine(t, tr)
    if err := pub.Connect("https://relay.test/live"); err != nil { t.Fatalf("connect publisher: %v", err) }
    for _, f := range []string{"one", "two"} {
        if err := pub.Publish("alice", []byte(f)); err != nil { t.Fatalf("publish: %v", err) }
    }

    for i, want := range []string{"one", "two"} {
        select {
        case m := <-watcher.Media():
            if m.Track != "alice" || string(m.Data) != want || m.Seq != uint64(i+1) {
                t.Fatalf("media %d: %+v", i, m)
            }
        case <-time.After(2 * time.Second):
            t.Fatalf("no media %d", i)
        }
    }
    if err := watcher.Unsubscribe("alice"); err != nil { t.Fatalf("unsubscribe: %v", err) }
}

func TestConnectRefused(t *testing.T) {
    e := newEngine(t, mem.New())
    err := e.Connect("https://nowhere.test")
    if got := engine.Classify(engine.OpConnect, err); got != session.FaultConnection {
        t.Fatalf("Classify = %s (%v)", got, err)
    }
    if !errors.Is(err, transport.ErrRefused) { t.Fatalf("want ErrRefused in chain, got %v", err) }
}

func TestIncompatibleRelayRefusesSession(t *testing.T) {
    tr := mem.New()
    startRelay(t, tr, relay.Options{Version: protocol.RelayVersion + 1})
    e := newEngine(t, tr)
    err := e.Connect("https://relay.test")
    if err == nil { t.Fatalf("connect succeeded against incompatible relay") }
    // an incompatible relay answers with goaway
    if got := engine.Classify(engine.OpConnect, err); got != session.FaultConnection {
        t.Fatalf("Classify = %s (%v)", got, err)
    }
}

func TestBadSetupReplyIsProtocolError(t *testing.T) {
    tr := mem.New()
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    l, err := tr.Listen(ctx, "odd.test")
    if err != nil { t.Fatalf("listen: %v", err) }
    go func() {
        sess, err := l.Accept(ctx)
        if err != nil { return }
        st, _ := sess.AcceptStream(ctx)
        if _, err := st.RecvBytes(); err != nil { return }
        reg, _ := codec.DefaultRegistry()
        b, _ := protocol.EncodeRelay(reg, protocol.MsgSetup, 0, protocol.SetupMsg{Version: 99})
        _ = st.SendBytes(b)
    }()
    e := newEngine(t, tr)
    err = e.Connect("https://odd.test")
    if got := engine.Classify(engine.OpConnect, err); got != session.FaultProtocol {
        t.Fatalf("Classify = %s (%v)", got, err)
    }
}

func TestCallsBeforeConnect(t *testing.T) {
    e := newEngine(t, mem.New())
    if got := engine.Classify(engine.OpSubscribe, e.Subscribe("alice")); got != session.FaultProtocol {
        t.Fatalf("subscribe before connect: %s", got)
    }
    e.Close()
    e.Close()
    if _, ok := <-e.Media(); ok { t.Fatalf("media channel open after close") }
}

func TestRelayLossFailsEngine(t *testing.T) {
    tr := mem.New()
    ctx, cancel := context.WithCancel(context.Background())
    l, err := tr.Listen(ctx, "relay.test")
    if err != nil { t.Fatalf("listen: %v", err) }
    srv, _ := relay.New(relay.Options{})
    go func() { _ = srv.Serve(ctx, l) }()

    e := newEngine(t, tr)
    if err := e.Connect("https://relay.test"); err != nil { t.Fatalf("connect: %v", err) }
    cancel()
    select {
    case <-e.Done():
        if got := engine.Classify(engine.OpRecv, e.Err()); got != session.FaultConnection {
            t.Fatalf("Classify = %s (%v)", got, e.Err())
        }
    case <-time.After(2 * time.Second):
        t.Fatalf("engine did not notice relay loss")
    }
}
