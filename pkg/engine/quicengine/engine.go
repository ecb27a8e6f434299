// Package quicengine is an engine.Engine that talks to a media relay over a
// pkg/transport session: a setup exchange, then track subscriptions and
// media frames as protocol envelopes with CBOR bodies.
package quicengine

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/core/priocq"
    "github.com/kixelated/warp/pkg/engine"
    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/protocol/codec"
    "github.com/kixelated/warp/pkg/session"
    "github.com/kixelated/warp/pkg/transport"
    "github.com/kixelated/warp/pkg/transport/mem"
    "github.com/kixelated/warp/pkg/transport/quic"
    "github.com/kixelated/warp/pkg/transport/tcp"
)

var errClosed = errors.New("quicengine: closed")

type Engine struct {
    cfg Config
    tr  transport.Transport
    reg *codec.Registry
    log *zap.Logger

    ctx    context.Context
    cancel context.CancelFunc
    bucket *priocq.TokenBucket

    mu      sync.Mutex
    sess    transport.Session
    st      transport.Stream
    pending map[string]chan protocol.TrackMsg
    tracks  map[string]struct{}

    wmu   sync.Mutex // serializes stream writes
    seq   atomic.Uint64
    media chan engine.Media

    done      chan struct{}
    failOnce  sync.Once
    err       error
    closeOnce sync.Once
}

var (
    _ engine.Engine       = (*Engine)(nil)
    _ engine.Unsubscriber = (*Engine)(nil)
    _ engine.MediaSource  = (*Engine)(nil)
    _ engine.Failer       = (*Engine)(nil)
)

func New(cfg Config) (*Engine, error) {
    cfg = cfg.withDefaults()
    tr := cfg.Transport
    if tr == nil {
        switch cfg.Kind {
        case transport.KindQUIC, transport.KindUnknown:
            tr = quic.New(quic.Options{ALPN: cfg.ALPN, InsecureSkipVerify: cfg.InsecureSkipVerify})
        case transport.KindTCP:
            tr = tcp.New()
        case transport.KindMem:
            tr = mem.Default
        default:
            return nil, fmt.Errorf("quicengine: unsupported transport %s", cfg.Kind)
        }
    }
    reg, err := codec.DefaultRegistry()
    if err != nil { return nil, err }
    ctx, cancel := context.WithCancel(context.Background())
    e := &Engine{
        cfg:     cfg,
        tr:      tr,
        reg:     reg,
        log:     cfg.Logger.With(zap.Stringer("transport", tr.Kind())),
        ctx:     ctx,
        cancel:  cancel,
        pending: make(map[string]chan protocol.TrackMsg),
        tracks:  make(map[string]struct{}),
        media:   make(chan engine.Media, cfg.MediaBuffer),
        done:    make(chan struct{}),
    }
    if cfg.PublishRate > 0 { e.bucket = priocq.NewTokenBucket(cfg.PublishRate, cfg.PublishBurst) }
    return e, nil
}

// Factory returns an engine.Factory building engines from cfg.
func Factory(cfg Config) engine.Factory {
    return func() (engine.Engine, error) { return New(cfg) }
}

func (e *Engine) Connect(url string) error {
    addr, path, err := target(e.tr.Kind(), url)
    if err != nil { return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: err} }

    e.mu.Lock()
    if e.sess != nil {
        e.mu.Unlock()
        return engine.Errorf(session.FaultProtocol, engine.OpConnect, "already connected")
    }
    e.mu.Unlock()

    ctx, cancel := context.WithTimeout(e.ctx, e.cfg.DialTimeout)
    defer cancel()
    sess, err := e.tr.Dial(ctx, addr)
    if err != nil { return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: err} }
    st, err := sess.OpenStream(ctx)
    if err != nil {
        _ = sess.Close()
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: err}
    }
    if err := e.setup(st, path); err != nil {
        _ = sess.Close()
        return err
    }

    e.mu.Lock()
    if e.ctx.Err() != nil {
        e.mu.Unlock()
        _ = sess.Close()
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: errClosed}
    }
    e.sess, e.st = sess, st
    e.mu.Unlock()
    e.log.Debug("relay connected", zap.String("addr", addr), zap.String("path", path))
    go e.recvLoop(st)
    return nil
}

// setup runs the version exchange before the receive loop starts.
func (e *Engine) setup(st transport.Stream, path string) error {
    if err := e.send(st, protocol.MsgSetup, 0, protocol.SetupMsg{Version: protocol.RelayVersion, Path: path}); err != nil {
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: err}
    }
    type result struct {
        env protocol.Envelope
        err error
    }
    ch := make(chan result, 1)
    go func() {
        b, err := st.RecvBytes()
        if err != nil { ch <- result{err: err}; return }
        env, err := protocol.DecodeRelay(b)
        ch <- result{env: env, err: err}
    }()
    timer := time.NewTimer(e.cfg.RequestTimeout)
    defer timer.Stop()
    var r result
    select {
    case r = <-ch:
    case <-timer.C:
        return engine.Errorf(session.FaultConnection, engine.OpConnect, "setup: no answer within %s", e.cfg.RequestTimeout)
    case <-e.ctx.Done():
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: errClosed}
    }
    if r.err != nil { return &engine.Error{Kind: session.FaultConnection, Op: engine.OpConnect, Err: r.err} }
    switch r.env.Header.Type {
    case protocol.MsgSetup:
        var sm protocol.SetupMsg
        if _, err := protocol.DecodeEnvelopeBody(&r.env, &sm, e.reg); err != nil {
            return &engine.Error{Kind: session.FaultProtocol, Op: engine.OpConnect, Err: err}
        }
        if sm.Version != protocol.RelayVersion {
            return engine.Errorf(session.FaultProtocol, engine.OpConnect, "relay version %d, want %d", sm.Version, protocol.RelayVersion)
        }
        return nil
    case protocol.MsgGoAway:
        var ga protocol.GoAwayMsg
        _, _ = protocol.DecodeEnvelopeBody(&r.env, &ga, e.reg)
        return engine.Errorf(session.FaultConnection, engine.OpConnect, "relay refused session: %s", ga.Reason)
    default:
        return engine.Errorf(session.FaultProtocol, engine.OpConnect, "unexpected setup reply %#x", r.env.Header.Type)
    }
}

func (e *Engine) Subscribe(track string) error {
    st, err := e.stream(engine.OpSubscribe)
    if err != nil { return err }
    ack := make(chan protocol.TrackMsg, 1)
    e.mu.Lock()
    if _, dup := e.pending[track]; dup {
        e.mu.Unlock()
        return engine.Errorf(session.FaultProtocol, engine.OpSubscribe, "subscribe %q already pending", track)
    }
    e.pending[track] = ack
    e.mu.Unlock()
    defer func() { e.mu.Lock(); delete(e.pending, track); e.mu.Unlock() }()

    if err := e.send(st, protocol.MsgTrackSub, 0, protocol.TrackMsg{Track: track}); err != nil {
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpSubscribe, Err: err}
    }
    timer := time.NewTimer(e.cfg.RequestTimeout)
    defer timer.Stop()
    select {
    case m := <-ack:
        if m.Error != "" { return engine.Errorf(session.FaultProtocol, engine.OpSubscribe, "relay refused %q: %s", track, m.Error) }
        e.mu.Lock(); e.tracks[track] = struct{}{}; e.mu.Unlock()
        return nil
    case <-timer.C:
        return engine.Errorf(session.FaultConnection, engine.OpSubscribe, "subscribe %q: no answer within %s", track, e.cfg.RequestTimeout)
    case <-e.done:
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpSubscribe, Err: e.Err()}
    case <-e.ctx.Done():
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpSubscribe, Err: errClosed}
    }
}

func (e *Engine) Unsubscribe(track string) error {
    st, err := e.stream(engine.OpUnsubscribe)
    if err != nil { return err }
    e.mu.Lock(); delete(e.tracks, track); e.mu.Unlock()
    if err := e.send(st, protocol.MsgTrackUnsub, 0, protocol.TrackMsg{Track: track}); err != nil {
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpUnsubscribe, Err: err}
    }
    return nil
}

func (e *Engine) Publish(track string, frame []byte) error {
    st, err := e.stream(engine.OpPublish)
    if err != nil { return err }
    if e.bucket != nil {
        if err := e.bucket.Wait(e.ctx, int64(len(frame))); err != nil {
            return &engine.Error{Kind: session.FaultConnection, Op: engine.OpPublish, Err: errClosed}
        }
    }
    if err := e.send(st, protocol.MsgFrame, e.seq.Add(1), protocol.FrameMsg{Track: track, Data: frame}); err != nil {
        return &engine.Error{Kind: session.FaultConnection, Op: engine.OpPublish, Err: err}
    }
    return nil
}

// Close tears the relay session down. It never blocks on the network.
func (e *Engine) Close() {
    e.closeOnce.Do(func() {
        e.cancel()
        e.mu.Lock()
        sess := e.sess
        e.mu.Unlock()
        if sess != nil {
            if st, err := e.stream(""); err == nil { e.trySend(st, protocol.MsgGoAway, protocol.GoAwayMsg{Reason: "closed"}) }
            _ = sess.Close()
        } else {
            close(e.media)
        }
    })
}

func (e *Engine) Media() <-chan engine.Media { return e.media }
func (e *Engine) Done() <-chan struct{}      { return e.done }

func (e *Engine) Err() error {
    e.mu.Lock(); defer e.mu.Unlock()
    return e.err
}

func (e *Engine) stream(op string) (transport.Stream, error) {
    e.mu.Lock(); defer e.mu.Unlock()
    if e.st == nil { return nil, engine.Errorf(session.FaultProtocol, op, "not connected") }
    if e.err != nil { return nil, &engine.Error{Kind: session.FaultConnection, Op: op, Err: e.err} }
    return e.st, nil
}

func (e *Engine) send(st transport.Stream, typ uint8, seq uint64, v any) error {
    frame, err := protocol.EncodeRelay(e.reg, typ, seq, v)
    if err != nil { return err }
    e.wmu.Lock(); defer e.wmu.Unlock()
    return st.SendBytes(frame)
}

// trySend writes without waiting for a stuck peer.
func (e *Engine) trySend(st transport.Stream, typ uint8, v any) {
    done := make(chan struct{})
    go func() { _ = e.send(st, typ, 0, v); close(done) }()
    select {
    case <-done:
    case <-time.After(100 * time.Millisecond):
    }
}

func (e *Engine) fail(err error) {
    e.failOnce.Do(func() {
        e.mu.Lock(); e.err = err; e.mu.Unlock()
        close(e.done)
    })
}

func (e *Engine) recvLoop(st transport.Stream) {
    defer close(e.media)
    for {
        b, err := st.RecvBytes()
        if err != nil {
            if e.ctx.Err() == nil { e.fail(&engine.Error{Kind: session.FaultConnection, Op: engine.OpRecv, Err: err}) }
            return
        }
        env, err := protocol.DecodeRelay(b)
        if err != nil {
            e.fail(&engine.Error{Kind: session.FaultProtocol, Op: engine.OpRecv, Err: err})
            return
        }
        switch env.Header.Type {
        case protocol.MsgFrame:
            var fm protocol.FrameMsg
            if _, err := protocol.DecodeEnvelopeBody(&env, &fm, e.reg); err != nil {
                e.fail(&engine.Error{Kind: session.FaultProtocol, Op: engine.OpRecv, Err: err})
                return
            }
            e.mu.Lock(); _, want := e.tracks[fm.Track]; e.mu.Unlock()
            if !want { continue }
            select {
            case e.media <- engine.Media{Track: fm.Track, Seq: env.Header.Sequence, Data: fm.Data, At: time.Now()}:
            case <-e.ctx.Done():
                return
            }
        case protocol.MsgTrackSub:
            var tm protocol.TrackMsg
            if _, err := protocol.DecodeEnvelopeBody(&env, &tm, e.reg); err != nil {
                e.fail(&engine.Error{Kind: session.FaultProtocol, Op: engine.OpRecv, Err: err})
                return
            }
            e.mu.Lock(); ack := e.pending[tm.Track]; e.mu.Unlock()
            if ack != nil {
                select { case ack <- tm: default: }
            }
        case protocol.MsgGoAway:
            var ga protocol.GoAwayMsg
            _, _ = protocol.DecodeEnvelopeBody(&env, &ga, e.reg)
            e.fail(engine.Errorf(session.FaultConnection, engine.OpRecv, "relay going away: %s", ga.Reason))
            return
        default:
            e.log.Debug("ignoring relay message", zap.Uint8("type", env.Header.Type))
        }
    }
}
