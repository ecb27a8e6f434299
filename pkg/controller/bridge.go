package controller

import (
    "context"
    "sync"
    "time"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/kixelated/warp/pkg/memkv"
    "github.com/kixelated/warp/pkg/session"
    "github.com/kixelated/warp/pkg/sessions"
)

// closer is implemented by Watch and Publish.
type closer interface {
    ID() string
    Done() <-chan struct{}
    Close(ctx context.Context) error
}

// Bridge creates controllers that share options and a session store, and
// closes whatever is still live when it is closed.
type Bridge struct {
    opts  []Option
    kv    *memkv.Store
    store *sessions.Store

    mu     sync.Mutex
    live   map[string]closer
    closed bool
}

// NewBridge builds a bridge whose sessions stay listed for retention after
// they end. opts apply to every session it creates.
func NewBridge(retention time.Duration, opts ...Option) *Bridge {
    kv := memkv.New(memkv.Options{})
    store := sessions.NewStore(kv, retention)
    return &Bridge{
        opts:  append(append([]Option(nil), opts...), WithStore(store)),
        kv:    kv,
        store: store,
        live:  make(map[string]closer),
    }
}

func (b *Bridge) Watch(address, track string, opts ...Option) (*Watch, error) {
    if err := b.check("watch"); err != nil { return nil, err }
    w, err := NewWatch(address, track, b.merge(opts)...)
    if err != nil { return nil, err }
    b.track(w)
    return w, nil
}

func (b *Bridge) Publish(address, track string, opts ...Option) (*Publish, error) {
    if err := b.check("publish"); err != nil { return nil, err }
    p, err := NewPublish(address, track, b.merge(opts)...)
    if err != nil { return nil, err }
    b.track(p)
    return p, nil
}

// Sessions lists live and recently ended sessions, oldest first.
func (b *Bridge) Sessions() []session.Info { return b.store.List() }

// Store exposes the shared session records.
func (b *Bridge) Store() *sessions.Store { return b.store }

// Live is the number of sessions not yet terminal.
func (b *Bridge) Live() int {
    b.mu.Lock()
    defer b.mu.Unlock()
    return len(b.live)
}

// Close closes every live session concurrently and releases the store.
func (b *Bridge) Close(ctx context.Context) error {
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        return nil
    }
    b.closed = true
    live := make([]closer, 0, len(b.live))
    for _, c := range b.live { live = append(live, c) }
    b.mu.Unlock()

    g, gctx := errgroup.WithContext(ctx)
    for _, c := range live {
        c := c
        g.Go(func() error { return c.Close(gctx) })
    }
    err := g.Wait()
    if err != nil {
        zap.L().Warn("bridge close incomplete", zap.Int("sessions", len(live)), zap.Error(err))
    }
    b.kv.Close()
    return err
}

func (b *Bridge) check(op string) error {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.closed { return session.Misuse(op, "bridge is closed") }
    return nil
}

func (b *Bridge) merge(opts []Option) []Option {
    return append(append([]Option(nil), b.opts...), opts...)
}

func (b *Bridge) track(c closer) {
    b.mu.Lock()
    b.live[c.ID()] = c
    b.mu.Unlock()
    go func() {
        <-c.Done()
        b.mu.Lock()
        delete(b.live, c.ID())
        b.mu.Unlock()
    }()
}
