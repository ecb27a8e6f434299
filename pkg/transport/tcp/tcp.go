package tcp

import (
    "bufio"
    "context"
    "errors"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "github.com/kixelated/warp/pkg/transport"
)

// Transport implements a stream-based TCP transport with length-prefixed frames (u32 LE).
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    var lc net.ListenConfig
    l, err := lc.Listen(ctx, "tcp", address)
    if err != nil { return nil, err }
    tl := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go tl.acceptLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = tl.Close()
        case <-tl.closeCh:
        }
    }()
    return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Session, error) {
    var d net.Dialer
    c, err := d.DialContext(ctx, "tcp", address)
    if err != nil { return nil, err }
    return newSession(c), nil
}

type listener struct {
    l       net.Listener
    newCh   chan *session
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("tcp listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    var err error
    l.once.Do(func() {
        close(l.closeCh)
        err = l.l.Close()
    })
    return err
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil { return }
        s := newSession(c)
        select { case l.newCh <- s: default: _ = s.Close() }
    }
}

type session struct {
    mu sync.Mutex
    c  net.Conn
    br *bufio.Reader
    bw *bufio.Writer

    establishedAt time.Time
    lastSeen      atomic.Int64 // unix nano
}

func newSession(c net.Conn) *session {
    return &session{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), establishedAt: time.Now()}
}

func (s *session) TransportKind() transport.Kind { return transport.KindTCP }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(context.Context) (transport.Stream, error)   { return s, nil }
func (s *session) AcceptStream(context.Context) (transport.Stream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
    q := transport.Quality{EstablishedAt: s.establishedAt}
    if n := s.lastSeen.Load(); n != 0 { q.LastSeen = time.Unix(0, n) }
    return q
}

func (s *session) Close() error { return s.c.Close() }

func (s *session) SendBytes(b []byte) error {
    s.mu.Lock(); defer s.mu.Unlock()
    if err := transport.WriteFrame(s.bw, b); err != nil { return err }
    s.lastSeen.Store(time.Now().UnixNano())
    return nil
}

func (s *session) RecvBytes() ([]byte, error) {
    b, err := transport.ReadFrame(s.br)
    if err != nil { return nil, err }
    s.lastSeen.Store(time.Now().UnixNano())
    return b, nil
}
