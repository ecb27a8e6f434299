package host

import (
    "context"
    "errors"
    "fmt"
    "io"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/kixelated/warp/pkg/channel"
    "github.com/kixelated/warp/pkg/engine/enginetest"
    "github.com/kixelated/warp/pkg/session"
)

type harness struct {
    t     *testing.T
    c     *channel.Controller
    f     *enginetest.Factory
    snaps chan session.Snapshot
    done  chan error
}

func start(t *testing.T, f *enginetest.Factory, opts ...Option) *harness {
    t.Helper()
    c, hep, err := channel.Pipe()
    require.NoError(t, err)
    ctx, cancel := context.WithCancel(context.Background())
    h := &harness{t: t, c: c, f: f, snaps: make(chan session.Snapshot, 64), done: make(chan error, 1)}
    c.OnSnapshot(func(s session.Snapshot) { h.snaps <- s })
    opts = append([]Option{WithCloseTimeout(200 * time.Millisecond), WithStatsInterval(10 * time.Millisecond)}, opts...)
    go func() { h.done <- New(hep, f.Func(), opts...).Run(ctx) }()
    t.Cleanup(func() {
        cancel()
        _ = c.Close()
    })
    return h
}

func (h *harness) send(cmds ...session.Command) {
    h.t.Helper()
    for _, cmd := range cmds { require.NoError(h.t, h.c.Send(cmd)) }
}

func (h *harness) next() session.Snapshot {
    h.t.Helper()
    select {
    case s := <-h.snaps:
        return s
    case <-time.After(2 * time.Second):
        h.t.Fatalf("timed out waiting for snapshot")
        return session.Snapshot{}
    }
}

func (h *harness) expect(kind session.StateKind, seq uint64) session.Snapshot {
    h.t.Helper()
    s := h.next()
    require.Equal(h.t, kind, s.Kind, "snapshot %s", s)
    require.Equal(h.t, seq, s.Seq, "snapshot %s", s)
    return s
}

func (h *harness) finished() {
    h.t.Helper()
    select {
    case err := <-h.done:
        require.NoError(h.t, err)
    case <-time.After(2 * time.Second):
        h.t.Fatalf("host did not stop")
    }
}

func TestWatchSequence(t *testing.T) {
    f := &enginetest.Factory{}
    h := start(t, f)
    h.send(session.Connect("https://relay.example/live"), session.Subscribe("alice"))

    h.expect(session.StateConnecting, 1)
    require.Empty(t, h.expect(session.StateConnected, 2).Tracks)
    require.Equal(t, []string{"alice"}, h.expect(session.StateConnected, 3).Tracks)
    require.Equal(t, 1, f.Calls())

    f.Last().Push("alice", []byte("hello"))
    f.Last().Push("bob", []byte("not subscribed"))
    s := h.expect(session.StateActive, 4)
    require.Equal(t, "alice", s.Track)
    require.Equal(t, session.Stats{Bytes: 5, Frames: 1}, s.Stats)
    require.Equal(t, "https://relay.example/live", f.Last().URL())

    h.send(session.Unsubscribe())
    require.Empty(t, h.expect(session.StateConnected, 5).Tracks)
    require.Contains(t, f.Last().Calls(), "unsubscribe")

    h.send(session.Close())
    h.expect(session.StateClosing, 6)
    h.expect(session.StateClosed, 7)
    h.finished()
}

func TestConnectFailureFaults(t *testing.T) {
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectErr = errors.New("dial: refused") }}
    h := start(t, f)
    h.send(session.Connect("https://relay.example"), session.Subscribe("alice"))

    h.expect(session.StateConnecting, 1)
    s := h.expect(session.StateFaulted, 2)
    require.Equal(t, session.FaultConnection, s.Fault)
    require.Contains(t, s.Message, "refused")
    h.finished()
    require.NotContains(t, f.Last().Calls(), "subscribe")
    select {
    case <-f.Last().Closed():
    case <-time.After(time.Second):
        t.Fatalf("faulted engine not closed")
    }
}

func TestSubscribePanicIsModuleFault(t *testing.T) {
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.SubscribePanic = "index out of range" }}
    h := start(t, f)
    h.send(session.Connect("https://relay.example"), session.Subscribe("alice"))

    h.expect(session.StateConnecting, 1)
    h.expect(session.StateConnected, 2)
    s := h.expect(session.StateFaulted, 3)
    require.Equal(t, session.FaultModule, s.Fault)
    h.finished()

    // nothing follows the fault, even with media and commands arriving
    f.Last().Push("alice", []byte("late"))
    _ = h.c.Send(session.Unsubscribe())
    _ = h.c.Send(session.Close())
    time.Sleep(100 * time.Millisecond) // ten stats intervals
    require.Empty(t, h.snaps)
}

func TestConstructionFailures(t *testing.T) {
    for name, f := range map[string]*enginetest.Factory{
        "error": {Err: errors.New("module failed to load")},
        "panic": {Panic: "bad wasm"},
    } {
        t.Run(name, func(t *testing.T) {
            h := start(t, f)
            h.send(session.Connect("https://relay.example"))
            h.expect(session.StateConnecting, 1)
            require.Equal(t, session.FaultModule, h.expect(session.StateFaulted, 2).Fault)
            h.finished()
        })
    }
}

func TestCommandBeforeConnectIsProtocolError(t *testing.T) {
    f := &enginetest.Factory{}
    h := start(t, f)
    h.send(session.Subscribe("alice"))
    require.Equal(t, session.FaultProtocol, h.expect(session.StateFaulted, 1).Fault)
    h.finished()
    require.Zero(t, f.Calls())
}

func TestCloseIsBoundedWhenEngineHangs(t *testing.T) {
    release := make(chan struct{})
    t.Cleanup(func() { close(release) })
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.CloseBlock = release }}
    h := start(t, f, WithCloseTimeout(50*time.Millisecond))
    h.send(session.Connect("https://relay.example"))
    h.expect(session.StateConnecting, 1)
    h.expect(session.StateConnected, 2)

    began := time.Now()
    h.send(session.Close())
    h.expect(session.StateClosing, 3)
    h.expect(session.StateClosed, 4)
    require.Less(t, time.Since(began), time.Second)
    h.finished()
}

func TestClosePreemptsBlockedConnect(t *testing.T) {
    block := make(chan struct{})
    t.Cleanup(func() { close(block) })
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectBlock = block }}
    h := start(t, f)
    h.send(session.Connect("https://relay.example"), session.Subscribe("alice"))
    h.expect(session.StateConnecting, 1)

    h.send(session.Close())
    h.expect(session.StateClosing, 2)
    h.expect(session.StateClosed, 3)
    h.finished()
    select {
    case <-f.Last().Closed():
    case <-time.After(time.Second):
        t.Fatalf("engine not closed")
    }
}

func TestPublishStats(t *testing.T) {
    f := &enginetest.Factory{}
    h := start(t, f)
    h.send(session.Connect("https://relay.example"))
    h.expect(session.StateConnecting, 1)
    h.expect(session.StateConnected, 2)

    h.send(session.Publish("cam", []byte("abc")), session.Publish("cam", []byte("de")))
    var s session.Snapshot
    for s.Stats.Frames < 2 {
        s = h.next()
        require.Equal(t, session.StateActive, s.Kind)
        require.Equal(t, "cam", s.Track)
    }
    require.Equal(t, session.Stats{Bytes: 5, Frames: 2}, s.Stats)
    require.Len(t, f.Last().Published(), 2)
}

func TestAsyncEngineFailure(t *testing.T) {
    f := &enginetest.Factory{}
    h := start(t, f)
    h.send(session.Connect("https://relay.example"))
    h.expect(session.StateConnecting, 1)
    h.expect(session.StateConnected, 2)

    f.Last().Fail(fmt.Errorf("connection reset: %w", io.EOF))
    s := h.expect(session.StateFaulted, 3)
    require.Equal(t, session.FaultConnection, s.Fault)
    h.finished()
}
