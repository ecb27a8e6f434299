// Package host runs a transport engine on behalf of one session. A Host owns
// exactly one engine, receives commands from its channel endpoint, drives the
// engine from its own goroutines and reports every state change as a
// sequenced snapshot. Engine errors and panics end the session with a single
// Faulted snapshot; they never escape Run.
package host

import (
    "context"
    "fmt"
    "slices"
    "sync"
    "time"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/channel"
    "github.com/kixelated/warp/pkg/engine"
    "github.com/kixelated/warp/pkg/session"
)

type Host struct {
    ep      *channel.Host
    factory engine.Factory
    opts    options
    log     *zap.Logger

    in        *inbox
    closeReq  chan struct{}
    closeOnce sync.Once

    // owned by the Run goroutine
    eng       engine.Engine
    connected bool
    tracks    []string
    stats     map[string]*counter
    seq       uint64
    state     session.StateKind
    media     <-chan engine.Media
    failed    <-chan struct{}
}

type counter struct {
    stats session.Stats
    dirty bool
}

func New(ep *channel.Host, factory engine.Factory, opts ...Option) *Host {
    o := options{closeTimeout: DefaultCloseTimeout, statsInterval: DefaultStatsInterval}
    for _, fn := range opts { fn(&o) }
    log := o.logger
    if log == nil { log = zap.L() }
    if o.sessionID != "" { log = log.With(zap.String("session", o.sessionID)) }
    return &Host{
        ep:       ep,
        factory:  factory,
        opts:     o,
        log:      log,
        in:       newInbox(),
        closeReq: make(chan struct{}),
        stats:    make(map[string]*counter),
        state:    session.StateIdle,
    }
}

// Run processes commands until the session reaches Closed or Faulted, or
// ctx is done. It returns ctx.Err() in the latter case.
func (h *Host) Run(ctx context.Context) error {
    h.ep.OnCommand(func(cmd session.Command, err error) {
        if err == nil && cmd.Kind == session.CmdClose {
            h.closeOnce.Do(func() { close(h.closeReq) })
            return
        }
        h.in.push(inboxItem{cmd: cmd, err: err})
    })

    ticker := time.NewTicker(h.opts.statsInterval)
    defer ticker.Stop()
    defer h.flush()

    for {
        if h.closing() {
            h.shutdown()
            return nil
        }
        select {
        case <-ctx.Done():
            h.shutdown()
            h.flush()
            _ = h.ep.Close()
            return ctx.Err()
        case <-h.closeReq:
            h.shutdown()
            return nil
        case <-h.in.signal:
            for !h.state.Terminal() && !h.closing() {
                it, ok := h.in.pop()
                if !ok { break }
                if !h.handle(it) { break }
            }
            if h.state.Terminal() { return nil }
        case m, ok := <-h.media:
            if !ok {
                h.media = nil
                continue
            }
            h.count(m.Track, len(m.Data), true)
        case <-h.failed:
            h.fault(engine.OpRecv, h.eng.(engine.Failer).Err())
            return nil
        case <-ticker.C:
            h.reportStats()
        }
    }
}

func (h *Host) closing() bool {
    select {
    case <-h.closeReq:
        return true
    default:
        return false
    }
}

// handle runs one command; false stops draining the inbox.
func (h *Host) handle(it inboxItem) bool {
    if it.err != nil {
        h.fault("decode", engine.Errorf(session.FaultProtocol, "decode", "%v", it.err))
        return false
    }
    cmd := it.cmd
    h.log.Debug("command", zap.Stringer("cmd", cmd))
    switch cmd.Kind {
    case session.CmdConnect:
        return h.connect(cmd.URL)
    case session.CmdSubscribe:
        return h.subscribe(cmd.Track)
    case session.CmdUnsubscribe:
        return h.unsubscribe(cmd.Track)
    case session.CmdPublish:
        return h.publish(cmd.Track, cmd.Frame)
    default:
        h.fault("dispatch", engine.Errorf(session.FaultProtocol, "dispatch", "unknown command %d", cmd.Kind))
        return false
    }
}

func (h *Host) connect(url string) bool {
    if h.state != session.StateIdle {
        h.fault(engine.OpConnect, engine.Errorf(session.FaultProtocol, engine.OpConnect, "connect in state %s", h.state))
        return false
    }
    h.emit(session.Connecting())

    eng, preempted, err := h.construct()
    if preempted { return false }
    if err != nil {
        h.fault(engine.OpConstruct, err)
        return false
    }
    h.eng = eng

    preempted, err = h.call(engine.OpConnect, func() error { return eng.Connect(url) })
    if preempted { return false }
    if err != nil {
        h.fault(engine.OpConnect, err)
        return false
    }
    h.connected = true
    if ms, ok := eng.(engine.MediaSource); ok { h.media = ms.Media() }
    if f, ok := eng.(engine.Failer); ok { h.failed = f.Done() }
    h.log.Info("engine connected", zap.String("url", url))
    h.emit(session.Connected(h.tracks...))
    return true
}

// construct builds the engine. An engine finished after a Close preempted
// construction is closed as soon as it appears.
func (h *Host) construct() (engine.Engine, bool, error) {
    type built struct {
        eng engine.Engine
        err error
    }
    res := make(chan built, 1)
    go func() {
        var e engine.Engine
        err := engine.Call(engine.OpConstruct, func() error {
            var err error
            e, err = h.factory()
            if err == nil && e == nil { err = fmt.Errorf("factory returned no engine") }
            return err
        })
        res <- built{eng: e, err: err}
    }()
    select {
    case b := <-res:
        return b.eng, false, b.err
    case <-h.closeReq:
        go func() {
            if b := <-res; b.eng != nil { closeEngine(b.eng) }
        }()
        return nil, true, nil
    }
}

func closeEngine(eng engine.Engine) error {
    return engine.Call("close", func() error { eng.Close(); return nil })
}

func (h *Host) requireConnection(op string) bool {
    if h.connected { return true }
    h.fault(op, engine.Errorf(session.FaultProtocol, op, "%s before connect", op))
    return false
}

func (h *Host) subscribe(track string) bool {
    if !h.requireConnection(engine.OpSubscribe) { return false }
    eng := h.eng
    preempted, err := h.call(engine.OpSubscribe, func() error { return eng.Subscribe(track) })
    if preempted { return false }
    if err != nil {
        h.fault(engine.OpSubscribe, err)
        return false
    }
    if !slices.Contains(h.tracks, track) { h.tracks = append(h.tracks, track) }
    h.emit(session.Connected(h.tracks...))
    return true
}

// unsubscribe drops track, or every track when it is empty.
func (h *Host) unsubscribe(track string) bool {
    if !h.requireConnection(engine.OpUnsubscribe) { return false }
    drop := h.tracks
    if track != "" { drop = []string{track} }
    if u, ok := h.eng.(engine.Unsubscriber); ok {
        for _, t := range drop {
            if !slices.Contains(h.tracks, t) { continue }
            preempted, err := h.call(engine.OpUnsubscribe, func() error { return u.Unsubscribe(t) })
            if preempted { return false }
            if err != nil {
                h.fault(engine.OpUnsubscribe, err)
                return false
            }
        }
    }
    h.tracks = slices.DeleteFunc(slices.Clone(h.tracks), func(t string) bool { return slices.Contains(drop, t) })
    h.emit(session.Connected(h.tracks...))
    return true
}

func (h *Host) publish(track string, frame []byte) bool {
    if !h.requireConnection(engine.OpPublish) { return false }
    eng := h.eng
    preempted, err := h.call(engine.OpPublish, func() error { return eng.Publish(track, frame) })
    if preempted { return false }
    if err != nil {
        h.fault(engine.OpPublish, err)
        return false
    }
    h.count(track, len(frame), false)
    return true
}

// call runs fn on its own goroutine so a Close can preempt it.
func (h *Host) call(op string, fn func() error) (preempted bool, err error) {
    res := make(chan error, 1)
    go func() { res <- engine.Call(op, fn) }()
    select {
    case err := <-res:
        return false, err
    case <-h.closeReq:
        h.log.Debug("engine call preempted by close", zap.String("op", op))
        return true, nil
    }
}

func (h *Host) count(track string, n int, received bool) {
    if received && !slices.Contains(h.tracks, track) { return }
    c := h.stats[track]
    if c == nil {
        c = &counter{}
        h.stats[track] = c
    }
    c.stats.Bytes += uint64(n)
    c.stats.Frames++
    c.dirty = true
}

func (h *Host) reportStats() {
    if !h.connected || h.state.Stopping() { return }
    var dirty []string
    for t, c := range h.stats {
        if c.dirty { dirty = append(dirty, t) }
    }
    slices.Sort(dirty)
    for _, t := range dirty {
        c := h.stats[t]
        c.dirty = false
        h.emit(session.Active(t, c.stats))
    }
}

// emit sequences s and sends it unless the transition is illegal.
func (h *Host) emit(s session.Snapshot) bool {
    if !session.CanTransition(h.state, s.Kind) {
        h.log.Warn("dropping illegal transition", zap.Stringer("from", h.state), zap.Stringer("to", s.Kind))
        return false
    }
    h.seq++
    s = s.WithSeq(h.seq)
    h.state = s.Kind
    if err := h.ep.Emit(s); err != nil {
        h.log.Debug("snapshot not delivered", zap.Stringer("snapshot", s), zap.Error(err))
    }
    return true
}

// fault ends the session with one Faulted snapshot and discards the engine.
func (h *Host) fault(op string, err error) {
    kind := engine.Classify(op, err)
    h.log.Warn("session faulted", zap.String("op", op), zap.Stringer("kind", kind), zap.Error(err))
    h.emit(session.Faulted(kind, err.Error()))
    if eng := h.eng; eng != nil {
        h.eng = nil
        go closeEngine(eng)
    }
}

// shutdown emits Closing, closes the engine within the close timeout and
// emits Closed.
func (h *Host) shutdown() {
    if h.state.Terminal() { return }
    h.emit(session.Closing())
    if eng := h.eng; eng != nil {
        h.eng = nil
        done := make(chan struct{})
        go func() {
            defer close(done)
            if err := closeEngine(eng); err != nil {
                h.log.Warn("engine close panicked", zap.Error(err))
            }
        }()
        timer := time.NewTimer(h.opts.closeTimeout)
        defer timer.Stop()
        select {
        case <-done:
        case <-timer.C:
            h.log.Warn("engine close timed out", zap.Duration("timeout", h.opts.closeTimeout))
        }
    }
    h.emit(session.Closed())
}

// flush hands queued snapshots to the controller before Run returns.
func (h *Host) flush() {
    ctx, cancel := context.WithTimeout(context.Background(), h.opts.closeTimeout)
    defer cancel()
    _ = h.ep.Flush(ctx)
}
