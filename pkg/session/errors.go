package session

import (
    "errors"
    "fmt"
    "net/url"
    "strings"
)

// FaultKind classifies why a session failed.
type FaultKind uint8

const (
    FaultNone FaultKind = iota
    // FaultConnection: the transport could not be established or was lost.
    FaultConnection
    // FaultProtocol: malformed protocol data was received or produced.
    FaultProtocol
    // FaultModule: the engine raised an unexpected internal fault.
    FaultModule
    // FaultLocalMisuse: the caller violated the controller contract.
    FaultLocalMisuse
)

func (k FaultKind) String() string {
    switch k {
    case FaultConnection:
        return "ConnectionError"
    case FaultProtocol:
        return "ProtocolError"
    case FaultModule:
        return "ModuleFault"
    case FaultLocalMisuse:
        return "LocalMisuse"
    default:
        return "None"
    }
}

// ErrLocalMisuse is matched by every error a controller reports synchronously.
var ErrLocalMisuse = errors.New("local misuse")

// MisuseError describes a controller-side contract violation.
type MisuseError struct {
    Op     string
    Reason string
}

func (e *MisuseError) Error() string { return fmt.Sprintf("%s: %s: %s", e.Op, ErrLocalMisuse, e.Reason) }
func (e *MisuseError) Unwrap() error { return ErrLocalMisuse }

// Misuse builds a MisuseError for op.
func Misuse(op, format string, args ...any) error {
    return &MisuseError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// ValidateAddress checks that addr is an absolute URL the engine can dial.
func ValidateAddress(addr string) error {
    u, err := url.Parse(strings.TrimSpace(addr))
    if err != nil {
        return Misuse("create", "invalid address %q: %v", addr, err)
    }
    switch u.Scheme {
    case "http", "https", "moqt":
    default:
        return Misuse("create", "unsupported scheme %q", u.Scheme)
    }
    if u.Host == "" {
        return Misuse("create", "address %q has no host", addr)
    }
    return nil
}

// ValidateTrack rejects empty or whitespace-padded track names.
func ValidateTrack(track string) error {
    if track == "" || strings.TrimSpace(track) != track {
        return Misuse("create", "invalid track name %q", track)
    }
    if strings.ContainsAny(track, "\x00\n") {
        return Misuse("create", "track name %q contains control characters", track)
    }
    return nil
}
