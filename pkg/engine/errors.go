package engine

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"

    "github.com/kixelated/warp/pkg/session"
)

const (
    OpConstruct   = "construct"
    OpConnect     = "connect"
    OpSubscribe   = "subscribe"
    OpUnsubscribe = "unsubscribe"
    OpPublish     = "publish"
    OpRecv        = "recv"
)

// Error lets an engine classify its own failures.
type Error struct {
    Kind session.FaultKind
    Op   string
    Err  error
}

func (e *Error) Error() string {
    if e.Err == nil { return fmt.Sprintf("%s: %s", e.Op, e.Kind) }
    return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified engine error.
func Errorf(kind session.FaultKind, op, format string, args ...any) error {
    return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// PanicError carries a value recovered from an engine panic.
type PanicError struct {
    Op    string
    Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("%s: engine panic: %v", e.Op, e.Value) }

// Classify maps an error raised by op to a fault kind.
//
// Explicit *Error kinds win; panics and construction failures are module
// faults; connect failures and network errors are connection errors;
// anything else is a protocol error.
func Classify(op string, err error) session.FaultKind {
    if err == nil { return session.FaultNone }
    var ee *Error
    if errors.As(err, &ee) && ee.Kind != session.FaultNone { return ee.Kind }
    var pe *PanicError
    if errors.As(err, &pe) { return session.FaultModule }
    if op == OpConstruct { return session.FaultModule }
    if op == OpConnect { return session.FaultConnection }
    var ne net.Error
    if errors.As(err, &ne) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) ||
        errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
        return session.FaultConnection
    }
    return session.FaultProtocol
}

// Call runs fn and converts a panic into a *PanicError.
func Call(op string, fn func() error) (err error) {
    defer func() {
        if r := recover(); r != nil { err = &PanicError{Op: op, Value: r} }
    }()
    return fn()
}
