package transport

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strings"
    "time"
)

// Kind identifies the link type an engine dials a relay over.
type Kind int

const (
    KindUnknown Kind = iota
    KindQUIC
    KindTCP
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindQUIC:
        return "quic"
    case KindTCP:
        return "tcp"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// ParseKind maps a config name to a Kind.
func ParseKind(s string) (Kind, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "", "quic":
        return KindQUIC, nil
    case "tcp":
        return KindTCP, nil
    case "mem":
        return KindMem, nil
    default:
        return KindUnknown, fmt.Errorf("unknown transport kind %q", s)
    }
}

// ErrRefused is returned by Dial when nothing listens on the address.
var ErrRefused = errors.New("transport: connection refused")

// Quality captures link liveness for monitoring.
type Quality struct {
    EstablishedAt time.Time
    LastSeen      time.Time
}

// Stream is a bidirectional message stream.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
    // SendBytes sends one message frame as opaque bytes.
    SendBytes([]byte) error
    // RecvBytes receives the next message frame.
    RecvBytes() ([]byte, error)
    Close() error
}

// Session is one connection between an engine and a relay.
type Session interface {
    TransportKind() Kind
    LocalAddr() net.Addr
    RemoteAddr() net.Addr

    // OpenStream opens the session's control stream. Transports without
    // multiplexing return the same stream every time.
    OpenStream(ctx context.Context) (Stream, error)
    // AcceptStream waits for the stream opened by the remote side.
    AcceptStream(ctx context.Context) (Stream, error)

    Quality() Quality
    Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
    // Accept blocks until an inbound session is available or ctx is done.
    Accept(ctx context.Context) (Session, error)
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen accepts inbound sessions on address until ctx is done.
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound session. ctx bounds only the dial itself.
    Dial(ctx context.Context, address string) (Session, error)
}
