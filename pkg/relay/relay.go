// Package relay is a minimal media relay: engines connect, subscribe to
// tracks and publish frames, and every frame is fanned out to the sessions
// subscribed to its track. It backs the warp relay command and engine tests.
package relay

import (
    "context"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/protocol/codec"
    "github.com/kixelated/warp/pkg/transport"
)

type Options struct {
    // Version answered during setup (default protocol.RelayVersion).
    Version uint32
    // OutBuffer bounds frames queued per subscriber before dropping.
    OutBuffer int
    Logger    *zap.Logger
}

type Server struct {
    opts Options
    reg  *codec.Registry
    log  *zap.Logger

    mu   sync.Mutex
    subs map[string]map[*conn]struct{}

    frames  atomic.Uint64
    dropped atomic.Uint64
}

// Stats are cumulative relay counters.
type Stats struct {
    Frames  uint64
    Dropped uint64
}

func New(opts Options) (*Server, error) {
    if opts.Version == 0 { opts.Version = protocol.RelayVersion }
    if opts.OutBuffer <= 0 { opts.OutBuffer = 256 }
    if opts.Logger == nil { opts.Logger = zap.L() }
    reg, err := codec.DefaultRegistry()
    if err != nil { return nil, err }
    return &Server{opts: opts, reg: reg, log: opts.Logger, subs: make(map[string]map[*conn]struct{})}, nil
}

func (s *Server) Stats() Stats { return Stats{Frames: s.frames.Load(), Dropped: s.dropped.Load()} }

// Serve accepts sessions from l until ctx is done or l fails.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
    ctx, cancel := context.WithCancel(ctx)
    defer cancel()
    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        <-gctx.Done()
        return l.Close()
    })
    s.log.Info("relay listening", zap.Stringer("addr", l.Addr()))
    var acceptErr error
    for {
        sess, err := l.Accept(gctx)
        if err != nil {
            if gctx.Err() == nil { acceptErr = err }
            break
        }
        g.Go(func() error {
            s.handle(gctx, sess)
            return nil
        })
    }
    cancel()
    _ = g.Wait()
    return acceptErr
}

type conn struct {
    st   transport.Stream
    out  chan []byte
    done chan struct{}
}

func (c *conn) writeLoop() {
    for {
        select {
        case b := <-c.out:
            if err := c.st.SendBytes(b); err != nil { return }
        case <-c.done:
            return
        }
    }
}

// control queues b, waiting for room.
func (c *conn) control(b []byte) bool {
    select {
    case c.out <- b:
        return true
    case <-c.done:
        return false
    }
}

func (s *Server) handle(ctx context.Context, sess transport.Session) {
    log := s.log.With(zap.Stringer("remote", sess.RemoteAddr()))
    defer sess.Close()
    st, err := sess.AcceptStream(ctx)
    if err != nil { return }

    c := &conn{st: st, out: make(chan []byte, s.opts.OutBuffer), done: make(chan struct{})}
    defer close(c.done)
    go c.writeLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = sess.Close()
        case <-c.done:
        }
    }()

    if !s.setup(c, log) { return }
    defer s.dropConn(c)

    for {
        b, err := st.RecvBytes()
        if err != nil { return }
        env, err := protocol.DecodeRelay(b)
        if err != nil {
            log.Debug("bad relay message", zap.Error(err))
            return
        }
        switch env.Header.Type {
        case protocol.MsgTrackSub:
            var tm protocol.TrackMsg
            if _, err := protocol.DecodeEnvelopeBody(&env, &tm, s.reg); err != nil { return }
            if tm.Track == "" {
                tm.Error = "empty track name"
            } else {
                s.subscribe(tm.Track, c)
                log.Debug("track subscribed", zap.String("track", tm.Track))
            }
            ack, err := protocol.EncodeRelay(s.reg, protocol.MsgTrackSub, 0, tm)
            if err != nil || !c.control(ack) { return }
        case protocol.MsgTrackUnsub:
            var tm protocol.TrackMsg
            if _, err := protocol.DecodeEnvelopeBody(&env, &tm, s.reg); err != nil { return }
            s.unsubscribe(tm.Track, c)
        case protocol.MsgFrame:
            var fm protocol.FrameMsg
            if _, err := protocol.DecodeEnvelopeBody(&env, &fm, s.reg); err != nil { return }
            s.fanout(fm.Track, b)
        case protocol.MsgGoAway:
            return
        }
    }
}

func (s *Server) setup(c *conn, log *zap.Logger) bool {
    b, err := c.st.RecvBytes()
    if err != nil { return false }
    env, err := protocol.DecodeRelay(b)
    if err != nil || env.Header.Type != protocol.MsgSetup { return false }
    var sm protocol.SetupMsg
    if _, err := protocol.DecodeEnvelopeBody(&env, &sm, s.reg); err != nil { return false }
    if sm.Version != s.opts.Version {
        log.Info("setup version mismatch", zap.Uint32("got", sm.Version), zap.Uint32("want", s.opts.Version))
        if ga, err := protocol.EncodeRelay(s.reg, protocol.MsgGoAway, 0, protocol.GoAwayMsg{Reason: "unsupported version"}); err == nil {
            _ = c.st.SendBytes(ga)
        }
        return false
    }
    reply, err := protocol.EncodeRelay(s.reg, protocol.MsgSetup, 0, protocol.SetupMsg{Version: s.opts.Version})
    if err != nil { return false }
    log.Debug("relay session", zap.String("path", sm.Path))
    return c.control(reply)
}

func (s *Server) subscribe(track string, c *conn) {
    s.mu.Lock(); defer s.mu.Unlock()
    set := s.subs[track]
    if set == nil {
        set = make(map[*conn]struct{})
        s.subs[track] = set
    }
    set[c] = struct{}{}
}

func (s *Server) unsubscribe(track string, c *conn) {
    s.mu.Lock(); defer s.mu.Unlock()
    if set := s.subs[track]; set != nil {
        delete(set, c)
        if len(set) == 0 { delete(s.subs, track) }
    }
}

func (s *Server) dropConn(c *conn) {
    s.mu.Lock(); defer s.mu.Unlock()
    for track, set := range s.subs {
        delete(set, c)
        if len(set) == 0 { delete(s.subs, track) }
    }
}

// fanout forwards a frame unchanged; slow subscribers lose frames.
func (s *Server) fanout(track string, frame []byte) {
    s.frames.Add(1)
    s.mu.Lock(); defer s.mu.Unlock()
    for c := range s.subs[track] {
        select {
        case c.out <- frame:
        default:
            s.dropped.Add(1)
        }
    }
}
