package controller

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/kixelated/warp/pkg/engine/enginetest"
    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/session"
)

const relayURL = "https://relay.example/live"

func testOpts(f *enginetest.Factory, extra ...Option) []Option {
    return append([]Option{
        WithEngine(f.Func()),
        WithCloseTimeout(100 * time.Millisecond),
        WithStatsInterval(10 * time.Millisecond),
        WithGrace(100 * time.Millisecond),
    }, extra...)
}

type closable interface {
    Close(ctx context.Context) error
}

func closeNow(t *testing.T, c closable) {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    require.NoError(t, c.Close(ctx))
}

func waitFor(t *testing.T, w interface {
    Wait(context.Context, func(session.Snapshot) bool) (session.Snapshot, error)
}, pred func(session.Snapshot) bool) session.Snapshot {
    t.Helper()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    s, err := w.Wait(ctx, pred)
    require.NoError(t, err, "last snapshot %s", s)
    return s
}

func kind(k session.StateKind) func(session.Snapshot) bool {
    return func(s session.Snapshot) bool { return s.Kind == k }
}

type hookLog struct {
    mu   sync.Mutex
    cmds []session.CommandKind
}

func (l *hookLog) record(cmd session.Command) {
    l.mu.Lock(); l.cmds = append(l.cmds, cmd.Kind); l.mu.Unlock()
}

func (l *hookLog) kinds() []session.CommandKind {
    l.mu.Lock(); defer l.mu.Unlock()
    return append([]session.CommandKind(nil), l.cmds...)
}

func TestWatchLifecycle(t *testing.T) {
    f := &enginetest.Factory{}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    require.Equal(t, session.RoleWatch, w.Role())
    require.Equal(t, "alice", w.Track())
    require.NotEmpty(t, w.ID())

    s := waitFor(t, w, func(s session.Snapshot) bool {
        return s.Kind == session.StateConnected && len(s.Tracks) == 1
    })
    require.Equal(t, []string{"alice"}, s.Tracks)
    require.Equal(t, uint64(3), s.Seq)

    eng := f.Last()
    require.NotNil(t, eng)
    require.Equal(t, relayURL, eng.URL())
    eng.Push("alice", []byte("frame-1"))
    eng.Push("alice", []byte("frame-2"))
    s = waitFor(t, w, func(s session.Snapshot) bool {
        return s.Kind == session.StateActive && s.Stats.Frames == 2
    })
    require.Equal(t, "alice", s.Track)
    require.Equal(t, uint64(14), s.Stats.Bytes)

    closeNow(t, w)
    require.Equal(t, session.StateClosed, w.State().Kind)
    select {
    case <-w.Done():
    default:
        t.Fatalf("Done not closed after Close")
    }
    select {
    case <-eng.Closed():
    default:
        t.Fatalf("engine not closed")
    }
}

func TestFirstSnapshotFollowsIdle(t *testing.T) {
    block := make(chan struct{})
    t.Cleanup(func() { close(block) })
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectBlock = block }}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    t.Cleanup(func() { closeNow(t, w) })

    idle := session.Idle()
    s := waitFor(t, w, kind(session.StateConnecting))
    require.Equal(t, idle.Seq+1, s.Seq)
}

func TestConnectFailureFaults(t *testing.T) {
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectErr = errors.New("relay refused") }}
    hooks := &hookLog{}
    w, err := NewWatch(relayURL, "alice", testOpts(f, WithSendHook(hooks.record))...)
    require.NoError(t, err)

    s := waitFor(t, w, kind(session.StateFaulted))
    require.Equal(t, session.FaultConnection, s.Fault)
    require.Contains(t, s.Message, "relay refused")

    err = w.StopTrack()
    require.ErrorIs(t, err, session.ErrLocalMisuse)
    closeNow(t, w)
    require.Equal(t, session.StateFaulted, w.State().Kind)
    require.Equal(t, []session.CommandKind{session.CmdConnect, session.CmdSubscribe}, hooks.kinds())
}

func TestSubscribePanicIsModuleFault(t *testing.T) {
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.SubscribePanic = "boom" }}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    t.Cleanup(func() { closeNow(t, w) })

    s := waitFor(t, w, kind(session.StateFaulted))
    require.Equal(t, session.FaultModule, s.Fault)
    sub := w.Subscribe(8)

    f.Last().Push("alice", []byte("late"))
    time.Sleep(100 * time.Millisecond)
    require.Equal(t, s.Seq, w.State().Seq)
    require.Equal(t, session.StateFaulted, w.State().Kind)
    require.ErrorIs(t, w.StopTrack(), session.ErrLocalMisuse)
    _, open := <-sub.C
    require.False(t, open, "snapshot delivered after fault")
}

func TestStaleSnapshotsDropped(t *testing.T) {
    m := newMirror()
    require.True(t, m.apply(session.Connecting().WithSeq(1)))
    require.True(t, m.apply(session.Connected("alice").WithSeq(3)))
    require.False(t, m.apply(session.Connected().WithSeq(2)))
    require.False(t, m.apply(session.Connected("bob").WithSeq(3)))
    s := m.load()
    require.Equal(t, uint64(3), s.Seq)
    require.Equal(t, []string{"alice"}, s.Tracks)

    require.True(t, m.apply(session.Faulted(session.FaultProtocol, "bad frame").WithSeq(4)))
    require.False(t, m.apply(session.Active("alice", session.Stats{Frames: 1}).WithSeq(5)))
    require.Equal(t, session.StateFaulted, m.load().Kind)
}

func TestSynthesizedCloseFollowsCurrent(t *testing.T) {
    m := newMirror()
    require.True(t, m.apply(session.Connecting().WithSeq(1)))
    s, ok := m.synthesize(session.Closed())
    require.True(t, ok)
    require.Equal(t, uint64(2), s.Seq)
    require.Equal(t, session.StateClosed, m.load().Kind)

    _, ok = m.synthesize(session.Closed())
    require.False(t, ok)
}

func TestWaitReturnsOnTerminal(t *testing.T) {
    m := newMirror()
    done := make(chan error, 1)
    go func() {
        _, err := m.wait(context.Background(), kind(session.StateActive))
        done <- err
    }()
    m.apply(session.Connecting().WithSeq(1))
    m.apply(session.Closed().WithSeq(2))
    select {
    case err := <-done:
        require.ErrorIs(t, err, ErrTerminated)
    case <-time.After(2 * time.Second):
        t.Fatalf("wait did not return")
    }
}

func TestCloseBoundedWhenEngineHangs(t *testing.T) {
    block := make(chan struct{})
    t.Cleanup(func() { close(block) })
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.CloseBlock = block }}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    waitFor(t, w, func(s session.Snapshot) bool { return s.Kind == session.StateConnected && len(s.Tracks) == 1 })

    start := time.Now()
    closeNow(t, w)
    require.Less(t, time.Since(start), time.Second)
    require.Equal(t, session.StateClosed, w.State().Kind)
}

func TestClosePreemptsConnect(t *testing.T) {
    block := make(chan struct{})
    t.Cleanup(func() { close(block) })
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectBlock = block }}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    sub := w.Subscribe(16)
    waitFor(t, w, kind(session.StateConnecting))

    closeNow(t, w)
    require.Equal(t, session.StateClosed, w.State().Kind)
    var kinds []session.StateKind
    for s := range sub.C { kinds = append(kinds, s.Kind) }
    require.GreaterOrEqual(t, len(kinds), 2)
    require.Equal(t, []session.StateKind{session.StateClosing, session.StateClosed}, kinds[len(kinds)-2:])
    require.ErrorIs(t, w.StopTrack(), session.ErrLocalMisuse)
}

func TestCloseIdempotent(t *testing.T) {
    f := &enginetest.Factory{}
    hooks := &hookLog{}
    w, err := NewWatch(relayURL, "alice", testOpts(f, WithSendHook(hooks.record))...)
    require.NoError(t, err)
    waitFor(t, w, func(s session.Snapshot) bool { return s.Kind == session.StateConnected && len(s.Tracks) == 1 })

    var wg sync.WaitGroup
    errs := make([]error, 3)
    for i := range errs {
        i := i
        wg.Add(1)
        go func() {
            defer wg.Done()
            ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
            defer cancel()
            errs[i] = w.Close(ctx)
        }()
    }
    wg.Wait()
    for _, err := range errs { require.NoError(t, err) }
    closeNow(t, w)

    closes := 0
    for _, k := range hooks.kinds() {
        if k == session.CmdClose { closes++ }
    }
    require.Equal(t, 1, closes)
    require.Equal(t, session.StateClosed, w.State().Kind)
}

func TestNoSendsAfterClose(t *testing.T) {
    f := &enginetest.Factory{}
    hooks := &hookLog{}
    p, err := NewPublish(relayURL, "cam", testOpts(f, WithSendHook(hooks.record))...)
    require.NoError(t, err)
    waitFor(t, p, kind(session.StateConnected))
    closeNow(t, p)

    before := len(hooks.kinds())
    require.ErrorIs(t, p.Publish([]byte("late")), session.ErrLocalMisuse)
    require.Len(t, hooks.kinds(), before)
    require.Equal(t, session.CmdClose, hooks.kinds()[before-1])
}

func TestCloseRacingPublishSendsCloseLast(t *testing.T) {
    f := &enginetest.Factory{}
    hooks := &hookLog{}
    p, err := NewPublish(relayURL, "cam", testOpts(f, WithSendHook(hooks.record))...)
    require.NoError(t, err)
    waitFor(t, p, kind(session.StateConnected))

    var wg sync.WaitGroup
    for i := 0; i < 4; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for j := 0; j < 40; j++ {
                if err := p.Publish([]byte("frame")); err != nil { return }
            }
        }()
    }
    closeNow(t, p)
    wg.Wait()

    kinds := hooks.kinds()
    require.Equal(t, session.CmdClose, kinds[len(kinds)-1], "commands %v", kinds)
    for _, k := range kinds[:len(kinds)-1] { require.NotEqual(t, session.CmdClose, k) }
}

func TestOversizedFrameIsMisuse(t *testing.T) {
    f := &enginetest.Factory{}
    hooks := &hookLog{}
    p, err := NewPublish(relayURL, "cam", testOpts(f, WithSendHook(hooks.record))...)
    require.NoError(t, err)
    t.Cleanup(func() { closeNow(t, p) })
    waitFor(t, p, kind(session.StateConnected))

    err = p.Publish(make([]byte, protocol.MaxPayload+1))
    require.ErrorIs(t, err, session.ErrLocalMisuse)
    require.Equal(t, []session.CommandKind{session.CmdConnect}, hooks.kinds())
    require.NoError(t, p.Publish([]byte("ok")))
    require.NotEqual(t, session.StateFaulted, p.State().Kind)
}

func TestPublishCountsFrames(t *testing.T) {
    f := &enginetest.Factory{}
    p, err := NewPublish(relayURL, "cam", testOpts(f)...)
    require.NoError(t, err)
    require.Equal(t, session.RolePublish, p.Role())
    waitFor(t, p, kind(session.StateConnected))

    frame := []byte("0123456789")
    for i := 0; i < 3; i++ {
        require.NoError(t, p.Publish(frame))
    }
    s := waitFor(t, p, func(s session.Snapshot) bool {
        return s.Kind == session.StateActive && s.Stats.Frames == 3
    })
    require.Equal(t, "cam", s.Track)
    require.Equal(t, uint64(30), s.Stats.Bytes)
    require.Len(t, f.Last().Published(), 3)
    closeNow(t, p)
}

func TestPublishErrorFaults(t *testing.T) {
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.PublishErr = errors.New("stream reset") }}
    p, err := NewPublish(relayURL, "cam", testOpts(f)...)
    require.NoError(t, err)
    t.Cleanup(func() { closeNow(t, p) })
    waitFor(t, p, kind(session.StateConnected))

    require.NoError(t, p.Publish([]byte("x")))
    s := waitFor(t, p, kind(session.StateFaulted))
    require.Equal(t, session.FaultProtocol, s.Fault)
}

func TestStopTrack(t *testing.T) {
    f := &enginetest.Factory{}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    t.Cleanup(func() { closeNow(t, w) })
    waitFor(t, w, func(s session.Snapshot) bool { return s.Kind == session.StateConnected && len(s.Tracks) == 1 })

    require.NoError(t, w.StopTrack())
    s := waitFor(t, w, func(s session.Snapshot) bool { return s.Kind == session.StateConnected && len(s.Tracks) == 0 })
    require.Equal(t, uint64(4), s.Seq)
    require.Empty(t, f.Last().Tracks())
}

func TestCreateRejectsBadInput(t *testing.T) {
    f := &enginetest.Factory{}
    for _, tc := range []struct{ addr, track string }{
        {"ftp://relay.example", "alice"},
        {"https://", "alice"},
        {relayURL, ""},
        {relayURL, " alice"},
    } {
        _, err := NewWatch(tc.addr, tc.track, testOpts(f)...)
        require.ErrorIs(t, err, session.ErrLocalMisuse, "%q %q", tc.addr, tc.track)
        var me *session.MisuseError
        require.ErrorAs(t, err, &me)
        _, err = NewPublish(tc.addr, tc.track, testOpts(f)...)
        require.ErrorIs(t, err, session.ErrLocalMisuse)
    }
    require.Zero(t, f.Calls())
}

func TestSubscriptionClosesOnTerminal(t *testing.T) {
    block := make(chan struct{})
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectBlock = block }}
    w, err := NewWatch(relayURL, "alice", testOpts(f)...)
    require.NoError(t, err)
    sub := w.Subscribe(16)
    waitFor(t, w, kind(session.StateConnecting))
    close(block)
    waitFor(t, w, func(s session.Snapshot) bool { return s.Kind == session.StateConnected && len(s.Tracks) == 1 })
    closeNow(t, w)

    var last session.Snapshot
    for s := range sub.C {
        require.Greater(t, s.Seq, last.Seq)
        last = s
    }
    require.Equal(t, session.StateClosed, last.Kind)

    late := w.Subscribe(1)
    _, ok := <-late.C
    require.False(t, ok)
}

func TestBridge(t *testing.T) {
    f := &enginetest.Factory{}
    b := NewBridge(time.Minute, testOpts(f)...)

    w, err := b.Watch(relayURL, "alice")
    require.NoError(t, err)
    p, err := b.Publish(relayURL, "cam")
    require.NoError(t, err)
    waitFor(t, w, func(s session.Snapshot) bool { return s.Kind == session.StateConnected && len(s.Tracks) == 1 })
    waitFor(t, p, kind(session.StateConnected))

    require.Equal(t, 2, b.Live())
    infos := b.Sessions()
    require.Len(t, infos, 2)
    require.Eventually(t, func() bool { return b.Store().Active() == 2 }, time.Second, 5*time.Millisecond)

    closeNow(t, b)
    for _, info := range b.Sessions() {
        require.Equal(t, session.StateClosed, info.State, "session %s", info.ID)
    }
    require.Eventually(t, func() bool { return b.Live() == 0 }, time.Second, 5*time.Millisecond)

    _, err = b.Watch(relayURL, "alice")
    require.ErrorIs(t, err, session.ErrLocalMisuse)
    require.NoError(t, b.Close(context.Background()))
}

func TestBridgeForgetsEndedSessions(t *testing.T) {
    f := &enginetest.Factory{Configure: func(e *enginetest.Fake) { e.ConnectErr = errors.New("no route") }}
    b := NewBridge(time.Minute, testOpts(f)...)
    t.Cleanup(func() { closeNow(t, b) })

    w, err := b.Watch(relayURL, "alice")
    require.NoError(t, err)
    waitFor(t, w, kind(session.StateFaulted))
    require.Eventually(t, func() bool { return b.Live() == 0 }, time.Second, 5*time.Millisecond)

    info, ok := b.Store().Get(w.ID())
    require.True(t, ok)
    require.Equal(t, session.StateFaulted, info.State)
    require.Equal(t, session.FaultConnection, info.Fault)
}
