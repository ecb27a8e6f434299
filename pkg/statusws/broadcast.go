// Package statusws pushes session records to read-only websocket clients: a
// full snapshot when a client connects, throttled deltas afterwards.
package statusws

import (
    "encoding/json"
    "sync"
    "time"

    "github.com/gorilla/websocket"
    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/session"
    "github.com/kixelated/warp/pkg/sessions"
)

// DefaultThrottle bounds how often deltas are sent.
const DefaultThrottle = 100 * time.Millisecond

const clientBuffer = 64

type client struct {
    conn *websocket.Conn
    send chan []byte
}

func newClient(conn *websocket.Conn) *client {
    c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
    go c.writePump()
    return c
}

func (c *client) writePump() {
    defer c.conn.Close()
    for msg := range c.send {
        if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil { return }
    }
}

type Broadcaster struct {
    store    *sessions.Store
    throttle time.Duration
    log      *zap.Logger

    mu      sync.RWMutex
    clients map[*client]struct{}
    closed  bool

    flushMu    sync.Mutex
    pending    map[string]struct{}
    flushTimer *time.Timer
}

func NewBroadcaster(store *sessions.Store, throttle time.Duration, log *zap.Logger) *Broadcaster {
    if throttle <= 0 { throttle = DefaultThrottle }
    if log == nil { log = zap.L() }
    return &Broadcaster{
        store:    store,
        throttle: throttle,
        log:      log,
        clients:  make(map[*client]struct{}),
        pending:  make(map[string]struct{}),
    }
}

// AddClient registers conn and queues the current snapshot for it.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
    c := newClient(conn)
    b.mu.Lock()
    if b.closed {
        b.mu.Unlock()
        close(c.send)
        return c
    }
    b.clients[c] = struct{}{}
    b.mu.Unlock()

    data, err := json.Marshal(Message{Type: MsgSnapshot, Payload: SnapshotPayload{Sessions: b.store.List()}})
    if err != nil {
        b.log.Error("status snapshot marshal failed", zap.Error(err))
        return c
    }
    select {
    case c.send <- data:
    default:
    }
    return c
}

func (b *Broadcaster) RemoveClient(c *client) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if _, ok := b.clients[c]; ok {
        delete(b.clients, c)
        close(c.send)
    }
}

// QueueUpdate schedules the record of id for the next delta.
func (b *Broadcaster) QueueUpdate(id string) {
    b.flushMu.Lock()
    defer b.flushMu.Unlock()
    b.pending[id] = struct{}{}
    if b.flushTimer == nil { b.flushTimer = time.AfterFunc(b.throttle, b.flush) }
}

// Follow queues an update for id on every snapshot received from ch until it
// is closed.
func (b *Broadcaster) Follow(id string, ch <-chan session.Snapshot) {
    go func() {
        for range ch { b.QueueUpdate(id) }
        b.QueueUpdate(id)
    }()
}

func (b *Broadcaster) flush() {
    b.flushMu.Lock()
    ids := b.pending
    b.pending = make(map[string]struct{})
    b.flushTimer = nil
    b.flushMu.Unlock()
    if len(ids) == 0 { return }

    var delta DeltaPayload
    for id := range ids {
        if info, ok := b.store.Get(id); ok {
            delta.Updates = append(delta.Updates, info)
        } else {
            delta.Removed = append(delta.Removed, id)
        }
    }
    b.broadcast(Message{Type: MsgDelta, Payload: delta})
}

func (b *Broadcaster) broadcast(msg Message) {
    data, err := json.Marshal(msg)
    if err != nil {
        b.log.Error("status marshal failed", zap.Error(err))
        return
    }
    b.mu.RLock()
    clients := make([]*client, 0, len(b.clients))
    for c := range b.clients { clients = append(clients, c) }
    b.mu.RUnlock()

    for _, c := range clients {
        select {
        case c.send <- data:
        default:
            b.log.Warn("status client too slow, disconnecting", zap.Stringer("remote", c.conn.RemoteAddr()))
            b.RemoveClient(c)
        }
    }
}

func (b *Broadcaster) ClientCount() int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return len(b.clients)
}

// Close disconnects every client and stops pending deltas.
func (b *Broadcaster) Close() {
    b.flushMu.Lock()
    if b.flushTimer != nil {
        b.flushTimer.Stop()
        b.flushTimer = nil
    }
    b.flushMu.Unlock()

    b.mu.Lock()
    defer b.mu.Unlock()
    b.closed = true
    for c := range b.clients {
        delete(b.clients, c)
        close(c.send)
    }
}
