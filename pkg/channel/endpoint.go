package channel

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/core/priocq"
    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/protocol/codec"
    "github.com/kixelated/warp/pkg/protocol/stream"
)

var (
    ErrClosed       = errors.New("channel: closed")
    ErrBackpressure = errors.New("channel: send buffer full")
    ErrTooLarge     = errors.New("channel: message too large")
)

// endpoint is one side of a link: a queue drained by a writer goroutine and a
// reader goroutine started once a handler is registered.
type endpoint struct {
    conn   *stream.Conn
    reg    *codec.Registry
    format protocol.Format
    q      *priocq.MultiLevelQueue
    log    *zap.Logger

    seq     atomic.Uint64
    pending atomic.Int64 // enqueued but not yet written

    closed    chan struct{}
    closeOnce sync.Once
    startOnce sync.Once
}

func newEndpoint(side string, c net.Conn, reg *codec.Registry, o options) *endpoint {
    log := o.logger
    if log == nil { log = zap.L() }
    e := &endpoint{
        conn:   stream.NewNetConn(c),
        reg:    reg,
        format: o.format,
        q:      priocq.New(o.sendBuffer),
        log:    log.With(zap.String("side", side)),
        closed: make(chan struct{}),
    }
    go e.writeLoop()
    return e
}

func (e *endpoint) nextSeq() uint64 { return e.seq.Add(1) }

// enqueue places env in the control class when FlagControl is set and in the
// realtime class under flow otherwise.
func (e *endpoint) enqueue(env protocol.Envelope, flow string) error {
    if e.isClosed() { return ErrClosed }
    frame, err := env.EncodeFrame()
    if errors.Is(err, protocol.ErrPayloadTooLarge) { return fmt.Errorf("%w: %w", ErrTooLarge, err) }
    if err != nil { return err }
    cls := priocq.L1Realtime
    if env.HasFlag(protocol.FlagControl) { cls, flow = priocq.L0Control, "" }
    e.pending.Add(1)
    err = e.q.Enqueue(priocq.Item{Bytes: frame, Flow: flow, Class: cls, Arrived: time.Now()})
    if err != nil {
        e.pending.Add(-1)
        if errors.Is(err, priocq.ErrFull) { return ErrBackpressure }
        return ErrClosed
    }
    return nil
}

func (e *endpoint) writeLoop() {
    for {
        it, ok := e.q.Dequeue(e.closed)
        if !ok { return }
        err := e.conn.WriteFrame(it.Bytes)
        e.pending.Add(-1)
        if err != nil {
            if !isClosedErr(err) { e.log.Debug("channel write failed", zap.Error(err)) }
            e.close()
            return
        }
    }
}

// start launches the reader once; deliver runs on the reader goroutine in
// arrival order. The reader stops and releases the link when deliver
// returns false.
func (e *endpoint) start(deliver func(protocol.Envelope) bool) {
    e.startOnce.Do(func() {
        go func() {
            defer e.close()
            for {
                var env protocol.Envelope
                if err := e.conn.Recv(&env); err != nil {
                    if !isClosedErr(err) { e.log.Debug("channel read failed", zap.Error(err)) }
                    return
                }
                if e.isClosed() { return }
                if !deliver(env) { return }
            }
        }()
    })
}

// flush waits until every queued message was handed to the peer.
func (e *endpoint) flush(ctx context.Context) error {
    t := time.NewTicker(2 * time.Millisecond)
    defer t.Stop()
    for e.pending.Load() > 0 {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case <-e.closed:
            return ErrClosed
        case <-t.C:
        }
    }
    return nil
}

func (e *endpoint) close() error {
    e.closeOnce.Do(func() {
        close(e.closed)
        if n := e.q.Close(); n > 0 {
            e.log.Debug("dropped buffered messages", zap.Int("count", n))
        }
        _ = e.conn.Close()
    })
    return nil
}

func (e *endpoint) isClosed() bool {
    select {
    case <-e.closed:
        return true
    default:
        return false
    }
}

func isClosedErr(err error) bool {
    return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
