package controller

import (
    "context"
    "sync"
    "sync/atomic"

    "github.com/kixelated/warp/pkg/session"
)

// mirror holds the latest applied snapshot. Reads are lock free; apply is
// serialized and closes the current signal channel on every change.
type mirror struct {
    cur atomic.Pointer[session.Snapshot]

    mu       sync.Mutex
    signal   chan struct{}
    terminal chan struct{}
    termOnce sync.Once
}

func newMirror() *mirror {
    m := &mirror{signal: make(chan struct{}), terminal: make(chan struct{})}
    idle := session.Idle()
    m.cur.Store(&idle)
    return m
}

func (m *mirror) load() session.Snapshot { return m.cur.Load().Clone() }

// apply stores s unless it is stale or the mirror is already terminal.
func (m *mirror) apply(s session.Snapshot) bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.applyLocked(s)
}

func (m *mirror) applyLocked(s session.Snapshot) bool {
    cur := m.cur.Load()
    if cur.Kind.Terminal() || s.Seq <= cur.Seq { return false }
    next := s.Clone()
    m.cur.Store(&next)
    close(m.signal)
    m.signal = make(chan struct{})
    return true
}

// finish closes the terminal channel once the terminal snapshot has been
// handed to every observer.
func (m *mirror) finish() { m.termOnce.Do(func() { close(m.terminal) }) }

// synthesize applies s right after the current snapshot unless the mirror
// is already terminal.
func (m *mirror) synthesize(s session.Snapshot) (session.Snapshot, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s = s.WithSeq(m.cur.Load().Seq + 1)
    return s, m.applyLocked(s)
}

func (m *mirror) wait(ctx context.Context, pred func(session.Snapshot) bool) (session.Snapshot, error) {
    for {
        m.mu.Lock()
        sig := m.signal
        m.mu.Unlock()
        s := m.load()
        if pred(s) { return s, nil }
        if s.Kind.Terminal() { return s, ErrTerminated }
        select {
        case <-sig:
        case <-ctx.Done():
            return s, ctx.Err()
        }
    }
}
