package quic

import (
    "bufio"
    "context"
    "crypto/ecdsa"
    "crypto/elliptic"
    "crypto/rand"
    "crypto/tls"
    "crypto/x509"
    "errors"
    "math/big"
    "net"
    "sync"
    "sync/atomic"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "github.com/kixelated/warp/pkg/transport"
)

// DefaultALPN is negotiated when Options.ALPN is empty.
const DefaultALPN = "warp"

type Options struct {
    ALPN               string
    InsecureSkipVerify bool
    // Certificate serves listeners; a self-signed one is generated when nil.
    Certificate  *tls.Certificate
    IdleTimeout  time.Duration
    KeepAlive    time.Duration
}

// Transport implements QUIC sessions with length-prefixed frames on a single
// bidirectional control stream opened by the dialer.
type Transport struct {
    opts     Options
    quicConf *quicgo.Config
}

func New(opts Options) *Transport {
    if opts.ALPN == "" { opts.ALPN = DefaultALPN }
    qconf := &quicgo.Config{MaxIdleTimeout: opts.IdleTimeout, KeepAlivePeriod: opts.KeepAlive}
    return &Transport{opts: opts, quicConf: qconf}
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    cert := t.opts.Certificate
    if cert == nil {
        c, err := SelfSignedCert()
        if err != nil { return nil, err }
        cert = &c
    }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{*cert},
        NextProtos:   []string{t.opts.ALPN},
        MinVersion:   tls.VersionTLS13,
    }
    l, err := quicgo.ListenAddr(address, tlsConf, t.quicConf)
    if err != nil { return nil, err }
    ql := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
    go ql.acceptLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = ql.Close()
        case <-ql.closeCh:
        }
    }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Session, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: t.opts.InsecureSkipVerify,
        NextProtos:         []string{t.opts.ALPN},
        MinVersion:         tls.VersionTLS13,
    }
    if host, _, err := net.SplitHostPort(address); err == nil { tlsClient.ServerName = host }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    return newSession(c), nil
}

// ---- Listener ----

type listener struct {
    l       *quicgo.Listener
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
        return nil, errors.New("quic listener closed")
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
        c, err := l.l.Accept(context.Background())
        if err != nil { return }
        s := newSession(c)
        select { case l.newCh <- s: default: _ = s.Close() }
    }
}

// ---- Session/Streams ----

type session struct {
    c quicgo.Connection

    establishedAt time.Time
    lastSeen      atomic.Int64 // unix nano

    mu   sync.Mutex
    ctrl *qstream
}

func newSession(c quicgo.Connection) *session {
    return &session{c: c, establishedAt: time.Now()}
}

func (s *session) TransportKind() transport.Kind { return transport.KindQUIC }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(ctx context.Context) (transport.Stream, error) {
    s.mu.Lock(); defer s.mu.Unlock()
    if s.ctrl != nil { return s.ctrl, nil }
    qs, err := s.c.OpenStreamSync(ctx)
    if err != nil { return nil, err }
    s.ctrl = wrapStream(qs, s)
    return s.ctrl, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
    qs, err := s.c.AcceptStream(ctx)
    if err != nil { return nil, err }
    return wrapStream(qs, s), nil
}

func (s *session) Quality() transport.Quality {
    q := transport.Quality{EstablishedAt: s.establishedAt}
    if n := s.lastSeen.Load(); n != 0 { q.LastSeen = time.Unix(0, n) }
    return q
}

func (s *session) Close() error { return s.c.CloseWithError(0, "") }

// qstream implements transport.Stream over a QUIC bidirectional stream with u32 LE framing.
type qstream struct {
    mu     sync.Mutex
    qs     quicgo.Stream
    br     *bufio.Reader
    bw     *bufio.Writer
    parent *session
}

func wrapStream(qs quicgo.Stream, parent *session) *qstream {
    return &qstream{qs: qs, br: bufio.NewReader(qs), bw: bufio.NewWriter(qs), parent: parent}
}

func (st *qstream) SendBytes(b []byte) error {
    st.mu.Lock(); defer st.mu.Unlock()
    if err := transport.WriteFrame(st.bw, b); err != nil { return err }
    st.parent.lastSeen.Store(time.Now().UnixNano())
    return nil
}

func (st *qstream) RecvBytes() ([]byte, error) {
    b, err := transport.ReadFrame(st.br)
    if err != nil { return nil, err }
    st.parent.lastSeen.Store(time.Now().UnixNano())
    return b, nil
}

func (st *qstream) Close() error { return st.qs.Close() }

// ---- Helpers ----

// SelfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func SelfSignedCert() (tls.Certificate, error) {
    priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
        IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
