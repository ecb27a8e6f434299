package mem

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "sync/atomic"
    "time"

    "github.com/kixelated/warp/pkg/transport"
)

// Default is the process-wide in-memory network.
var Default = New()

// Transport is an in-process transport using net.Pipe. Useful for tests and
// for running an engine against a relay in the same process.
type Transport struct {
    mu        sync.Mutex
    listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
    t.mu.Lock(); defer t.mu.Unlock()
    if _, ok := t.listeners[name]; ok {
        return nil, fmt.Errorf("mem: listener %q already exists", name)
    }
    l := &listener{name: name, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    t.listeners[name] = l
    go func() {
        select {
        case <-ctx.Done():
        case <-l.closeCh:
        }
        _ = l.Close()
        t.mu.Lock()
        if t.listeners[name] == l { delete(t.listeners, name) }
        t.mu.Unlock()
    }()
    return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string) (transport.Session, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    t.mu.Lock(); l := t.listeners[name]; t.mu.Unlock()
    if l == nil { return nil, fmt.Errorf("mem: dial %q: %w", name, transport.ErrRefused) }
    c1, c2 := net.Pipe()
    now := time.Now()
    srv := newSession(c1, now)
    cli := newSession(c2, now)
    select {
    case l.newCh <- srv:
        return cli, nil
    case <-l.closeCh:
    case <-ctx.Done():
        _ = srv.Close()
        return nil, ctx.Err()
    default:
    }
    _ = srv.Close()
    return nil, fmt.Errorf("mem: dial %q: %w", name, transport.ErrRefused)
}

type listener struct {
    name    string
    newCh   chan *session
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, errors.New("mem listener closed")
    case s := <-l.newCh:
        return s, nil
    }
}

func (l *listener) Close() error {
    l.once.Do(func() { close(l.closeCh) })
    return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// session carries a single stream; it is its own Stream.
type session struct {
    wmu sync.Mutex
    c   net.Conn
    br  *bufio.Reader
    bw  *bufio.Writer

    establishedAt time.Time
    lastSeen      atomic.Int64 // unix nano
}

func newSession(c net.Conn, now time.Time) *session {
    return &session{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), establishedAt: now}
}

func (s *session) TransportKind() transport.Kind { return transport.KindMem }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(context.Context) (transport.Stream, error)   { return s, nil }
func (s *session) AcceptStream(context.Context) (transport.Stream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
    return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: unixNano(s.lastSeen.Load())}
}

func (s *session) Close() error { return s.c.Close() }

func (s *session) SendBytes(b []byte) error {
    s.wmu.Lock(); defer s.wmu.Unlock()
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

func unixNano(n int64) time.Time {
    if n == 0 { return time.Time{} }
    return time.Unix(0, n)
}
