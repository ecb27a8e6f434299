// Package priocq provides the outbound queueing used by session links:
// strict priority between classes, deficit round robin between flows.
package priocq

import (
    "errors"
    "sync"
    "time"
)

// Class is a priority class: L0 control > L1 realtime > L2 bulk
type Class int

const (
    L0Control Class = iota
    L1Realtime
    L2Bulk
    numClasses
)

var (
    ErrFull   = errors.New("priocq: queue full")
    ErrClosed = errors.New("priocq: queue closed")
)

type Item struct {
    Bytes   []byte
    Flow    string // DRR flow key, e.g. a track name
    Size    int
    Class   Class
    Arrived time.Time
}

// flow implements a DRR queue per flow key
type flow struct {
    key     string
    q       []Item
    deficit int
    quantum int
}

type level struct {
    flows map[string]*flow
    order []string // round robin order
    idx   int
}

// MultiLevelQueue: strict priority between levels, DRR within level, FIFO
// within a flow. It is safe for many producers and a single consumer.
type MultiLevelQueue struct {
    mu     sync.Mutex
    lvls   [numClasses]*level
    n      int
    max    int
    closed bool
    signal chan struct{}
}

// New returns a queue holding at most max items (0 = unbounded).
func New(max int) *MultiLevelQueue {
    mlq := &MultiLevelQueue{max: max, signal: make(chan struct{}, 1)}
    for i := 0; i < int(numClasses); i++ {
        mlq.lvls[i] = &level{flows: make(map[string]*flow), order: make([]string, 0, 8)}
    }
    return mlq
}

// Enqueue appends an item to the appropriate class/flow.
func (q *MultiLevelQueue) Enqueue(it Item) error {
    if it.Class < 0 || it.Class >= numClasses { it.Class = L2Bulk }
    if it.Size == 0 { it.Size = len(it.Bytes) }
    q.mu.Lock()
    if q.closed {
        q.mu.Unlock()
        return ErrClosed
    }
    if q.max > 0 && q.n >= q.max {
        q.mu.Unlock()
        return ErrFull
    }
    lvl := q.lvls[it.Class]
    f := lvl.flows[it.Flow]
    if f == nil {
        f = &flow{key: it.Flow, quantum: chooseQuantum(it.Class)}
        lvl.flows[it.Flow] = f
        lvl.order = append(lvl.order, it.Flow)
    }
    f.q = append(f.q, it)
    q.n++
    q.mu.Unlock()
    select { case q.signal <- struct{}{}: default: }
    return nil
}

func chooseQuantum(c Class) int {
    switch c {
    case L0Control:
        return 2048 // small packets, quick turn
    case L1Realtime:
        return 8192
    case L2Bulk:
        return 65536
    default:
        return 4096
    }
}

// Dequeue selects the next item using strict priority and DRR within a level.
// Blocks until an item is available, stop is closed, or the queue is closed.
func (q *MultiLevelQueue) Dequeue(stop <-chan struct{}) (Item, bool) {
    for {
        q.mu.Lock()
        if it, ok := q.popLocked(); ok {
            q.mu.Unlock()
            return it, true
        }
        closed := q.closed
        q.mu.Unlock()
        if closed {
            return Item{}, false
        }
        select {
        case <-q.signal:
        case <-stop:
            return Item{}, false
        }
    }
}

// Len returns the number of queued items.
func (q *MultiLevelQueue) Len() int {
    q.mu.Lock(); defer q.mu.Unlock()
    return q.n
}

// Close drops every queued item, wakes the consumer and rejects further
// Enqueue calls. It returns the number of dropped items.
func (q *MultiLevelQueue) Close() int {
    q.mu.Lock()
    dropped := q.n
    q.closed = true
    for i := range q.lvls {
        q.lvls[i] = &level{flows: make(map[string]*flow)}
    }
    q.n = 0
    q.mu.Unlock()
    select { case q.signal <- struct{}{}: default: }
    return dropped
}

func (q *MultiLevelQueue) popLocked() (Item, bool) {
    if q.n == 0 { return Item{}, false }
    for li := 0; li < int(numClasses); li++ {
        lvl := q.lvls[li]
        if len(lvl.order) == 0 { continue }
        // Every pass tops up each backlogged flow, so some flow eventually
        // accumulates enough deficit for its head item.
        for {
            n := len(lvl.order)
            for i := 0; i < n; i++ {
                j := (lvl.idx + i) % n
                f := lvl.flows[lvl.order[j]]
                if f.deficit < f.q[0].Size {
                    f.deficit += f.quantum
                    if f.deficit < f.q[0].Size { continue }
                }
                it := f.q[0]
                f.q[0] = Item{}
                f.q = f.q[1:]
                f.deficit -= it.Size
                q.n--
                if len(f.q) == 0 {
                    delete(lvl.flows, f.key)
                    lvl.order = append(lvl.order[:j], lvl.order[j+1:]...)
                    if len(lvl.order) == 0 { lvl.idx = 0 } else { lvl.idx = j % len(lvl.order) }
                } else {
                    lvl.idx = (j + 1) % n
                }
                return it, true
            }
        }
    }
    return Item{}, false
}
