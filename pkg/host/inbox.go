package host

import (
    "sync"

    "github.com/kixelated/warp/pkg/session"
)

type inboxItem struct {
    cmd session.Command
    err error
}

// inbox is an unbounded FIFO so the channel reader never waits on a busy
// engine call.
type inbox struct {
    mu     sync.Mutex
    items  []inboxItem
    signal chan struct{}
}

func newInbox() *inbox { return &inbox{signal: make(chan struct{}, 1)} }

func (b *inbox) push(it inboxItem) {
    b.mu.Lock()
    b.items = append(b.items, it)
    b.mu.Unlock()
    select {
    case b.signal <- struct{}{}:
    default:
    }
}

func (b *inbox) pop() (inboxItem, bool) {
    b.mu.Lock(); defer b.mu.Unlock()
    if len(b.items) == 0 { return inboxItem{}, false }
    it := b.items[0]
    b.items[0] = inboxItem{}
    b.items = b.items[1:]
    return it, true
}
