// Package controller is the caller-facing side of the session bridge. A
// controller never blocks on I/O: it validates input, enqueues commands for
// its engine host and mirrors the host's snapshots as immutable values.
// Engine failures surface only as Faulted snapshots; methods return errors
// for local misuse alone.
package controller

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/channel"
    "github.com/kixelated/warp/pkg/host"
    "github.com/kixelated/warp/pkg/session"
)

// ErrTerminated is returned by Wait when the session ended before the
// predicate held.
var ErrTerminated = errors.New("controller: session terminated")

// base is the machinery shared by Watch and Publish.
type base struct {
    id      string
    role    session.Role
    address string
    track   string
    opts    options
    log     *zap.Logger

    ch     *channel.Controller
    m      *mirror
    bus    *bus
    cancel context.CancelFunc

    hostDone  chan struct{}
    sendMu    sync.Mutex // orders sends against Close
    stopping  atomic.Bool
    closeOnce sync.Once
    closeDone chan struct{}
}

func newBase(role session.Role, address, track string, opts []Option) (*base, error) {
    if err := session.ValidateAddress(address); err != nil { return nil, err }
    if err := session.ValidateTrack(track); err != nil { return nil, err }
    o := defaultOptions()
    for _, fn := range opts { fn(&o) }
    root := o.logger
    if root == nil { root = zap.L() }

    id := uuid.NewString()
    log := root.With(zap.String("session", id), zap.Stringer("role", role))
    chOpts := []channel.Option{channel.WithFormat(o.format), channel.WithLogger(log)}
    if o.sendBuffer > 0 { chOpts = append(chOpts, channel.WithSendBuffer(o.sendBuffer)) }
    if o.sendHook != nil { chOpts = append(chOpts, channel.WithSendHook(o.sendHook)) }
    ch, hep, err := channel.Pipe(chOpts...)
    if err != nil { return nil, err }

    ctx, cancel := context.WithCancel(context.Background())
    b := &base{
        id:        id,
        role:      role,
        address:   address,
        track:     track,
        opts:      o,
        log:       log,
        ch:        ch,
        m:         newMirror(),
        bus:       newBus(),
        cancel:    cancel,
        hostDone:  make(chan struct{}),
        closeDone: make(chan struct{}),
    }
    if o.store != nil {
        o.store.Add(session.Info{ID: id, Role: role, Address: address, Track: track, State: session.StateIdle})
    }
    h := host.New(hep, o.engineFactory(),
        host.WithCloseTimeout(o.closeTimeout),
        host.WithStatsInterval(o.statsInterval),
        host.WithLogger(root),
        host.WithSessionID(id),
    )
    go func() {
        defer close(b.hostDone)
        _ = h.Run(ctx)
    }()
    ch.OnSnapshot(b.onSnapshot)
    log.Debug("session created", zap.String("address", address), zap.String("track", track))
    return b, nil
}

func (b *base) onSnapshot(s session.Snapshot) {
    if !b.m.apply(s) {
        b.log.Debug("dropping stale snapshot", zap.Stringer("snapshot", s))
        return
    }
    b.applied(s)
}

func (b *base) applied(s session.Snapshot) {
    if b.opts.store != nil { b.opts.store.Apply(b.id, s) }
    b.bus.publish(s)
    switch s.Kind {
    case session.StateFaulted:
        b.log.Debug("session faulted", zap.Stringer("fault", s.Fault), zap.String("message", s.Message))
        b.bus.close()
    case session.StateClosed:
        b.log.Debug("session closed", zap.Uint64("seq", s.Seq))
        b.bus.close()
    }
    if s.Kind.Terminal() { b.m.finish() }
}

// send enqueues cmd unless the session is stopping. No command is enqueued
// after Close's.
func (b *base) send(op string, cmd session.Command) error {
    b.sendMu.Lock()
    defer b.sendMu.Unlock()
    if b.stopping.Load() { return session.Misuse(op, "session is closing") }
    if k := b.m.load().Kind; k.Stopping() { return session.Misuse(op, "session is %s", k) }
    return b.enqueue(op, cmd)
}

func (b *base) enqueue(op string, cmd session.Command) error {
    err := b.ch.Send(cmd)
    switch {
    case err == nil:
        return nil
    case errors.Is(err, channel.ErrClosed):
        return session.Misuse(op, "session is closed")
    case errors.Is(err, channel.ErrBackpressure), errors.Is(err, channel.ErrTooLarge):
        return fmt.Errorf("%s: %w: %w", op, session.ErrLocalMisuse, err)
    default:
        return fmt.Errorf("%s: %w", op, err)
    }
}

func (b *base) ID() string         { return b.id }
func (b *base) Role() session.Role { return b.role }
func (b *base) Address() string    { return b.address }
func (b *base) Track() string      { return b.track }

// State returns a copy of the latest applied snapshot.
func (b *base) State() session.Snapshot { return b.m.load() }

// Subscribe returns a subscription receiving every applied snapshot that
// fits its buffer. Its channel is closed after the terminal snapshot.
func (b *base) Subscribe(bufSize int) *Subscription { return b.bus.subscribe(bufSize) }

func (b *base) Unsubscribe(sub *Subscription) { b.bus.unsubscribe(sub) }

// Wait blocks until pred holds for the current snapshot, the session ends
// (ErrTerminated) or ctx is done.
func (b *base) Wait(ctx context.Context, pred func(session.Snapshot) bool) (session.Snapshot, error) {
    return b.m.wait(ctx, pred)
}

// Done is closed once a Closed or Faulted snapshot was applied and
// delivered to subscribers.
func (b *base) Done() <-chan struct{} { return b.m.terminal }

// Close asks the host to close the session and releases it. It returns once
// the session is terminal and torn down, or when ctx is done. Every call
// waits for the same teardown.
func (b *base) Close(ctx context.Context) error {
    b.closeOnce.Do(func() {
        b.sendMu.Lock()
        b.stopping.Store(true)
        b.sendMu.Unlock()
        go b.teardown()
    })
    select {
    case <-b.closeDone:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (b *base) teardown() {
    defer close(b.closeDone)
    if !b.m.load().Kind.Stopping() {
        if err := b.enqueue("close", session.Close()); err != nil {
            b.log.Debug("close not delivered", zap.Error(err))
        }
    }

    deadline := time.NewTimer(b.opts.closeTimeout + b.opts.grace)
    defer deadline.Stop()
    select {
    case <-b.m.terminal:
    case <-deadline.C:
        if s, ok := b.m.synthesize(session.Closed()); ok {
            b.log.Warn("host did not confirm close, closing locally", zap.Duration("timeout", b.opts.closeTimeout))
            b.applied(s)
        }
        <-b.m.terminal
    }

    b.cancel()
    grace := time.NewTimer(b.opts.grace)
    defer grace.Stop()
    select {
    case <-b.hostDone:
    case <-grace.C:
        b.log.Warn("host still running after close")
    }
    _ = b.ch.Close()
}
