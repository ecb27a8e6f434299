package controller

import (
    "sync"

    "github.com/kixelated/warp/pkg/session"
)

// Subscription receives snapshots applied by a controller.
type Subscription struct {
    C  <-chan session.Snapshot
    ch chan session.Snapshot
}

// bus fans out snapshots to all active subscribers. A subscriber whose
// buffer is full misses the snapshot; State always has the latest one.
type bus struct {
    mu     sync.RWMutex
    subs   map[*Subscription]struct{}
    closed bool
}

func newBus() *bus { return &bus{subs: make(map[*Subscription]struct{})} }

func (b *bus) subscribe(bufSize int) *Subscription {
    if bufSize <= 0 { bufSize = 1 }
    ch := make(chan session.Snapshot, bufSize)
    sub := &Subscription{C: ch, ch: ch}
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.closed {
        close(ch)
        return sub
    }
    b.subs[sub] = struct{}{}
    return sub
}

func (b *bus) unsubscribe(sub *Subscription) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if _, ok := b.subs[sub]; ok {
        delete(b.subs, sub)
        close(sub.ch)
    }
}

func (b *bus) publish(s session.Snapshot) {
    b.mu.RLock()
    defer b.mu.RUnlock()
    for sub := range b.subs {
        select {
        case sub.ch <- s.Clone():
        default:
        }
    }
}

// close ends every subscription after the terminal snapshot.
func (b *bus) close() {
    b.mu.Lock()
    defer b.mu.Unlock()
    b.closed = true
    for sub := range b.subs {
        delete(b.subs, sub)
        close(sub.ch)
    }
}
