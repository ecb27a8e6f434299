// Package channel implements the ordered, serialized link between a session
// controller and its engine host. The two endpoints share no memory: every
// command and snapshot is encoded into a protocol envelope and written
// through an in-memory pipe.
package channel

import (
    "context"
    "fmt"
    "net"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/protocol/codec"
    "github.com/kixelated/warp/pkg/session"
)

// Controller is the endpoint owned by a session controller. It sends
// commands and receives snapshots.
type Controller struct {
    ep   *endpoint
    hook func(session.Command)
}

// Host is the endpoint owned by an engine host. It receives commands and
// emits snapshots.
type Host struct {
    ep *endpoint
}

// Pipe creates a connected pair of endpoints.
func Pipe(opts ...Option) (*Controller, *Host, error) {
    o := defaultOptions()
    for _, fn := range opts { fn(&o) }
    reg, err := codec.DefaultRegistry()
    if err != nil { return nil, nil, fmt.Errorf("channel: codecs: %w", err) }
    a, b := net.Pipe()
    c := &Controller{ep: newEndpoint("controller", a, reg, o), hook: o.sendHook}
    h := &Host{ep: newEndpoint("host", b, reg, o)}
    return c, h, nil
}

// Send queues cmd for delivery. It never blocks on the peer.
func (c *Controller) Send(cmd session.Command) error {
    hdr := protocol.Header{Type: uint8(cmd.Kind), Sequence: c.ep.nextSeq()}
    if cmd.Kind.Control() { hdr.Flags |= protocol.FlagControl }
    env, err := protocol.NewEnvelopeWithBody(hdr, c.ep.format, cmd, c.ep.reg)
    if err != nil { return fmt.Errorf("channel: encode %s: %w", cmd.Kind, err) }
    if err := c.ep.enqueue(env, cmd.Track); err != nil { return err }
    if c.hook != nil { c.hook(cmd) }
    return nil
}

// OnSnapshot registers the snapshot handler and starts delivery. Only the
// first registration takes effect; fn is called once per snapshot, in send
// order. The link is released after a terminal snapshot was delivered.
func (c *Controller) OnSnapshot(fn func(session.Snapshot)) {
    c.ep.start(func(env protocol.Envelope) bool {
        if !protocol.IsSnapshot(env.Header.Type) {
            c.ep.log.Warn("unexpected message on controller endpoint", zap.Uint8("type", env.Header.Type))
            return true
        }
        var snap session.Snapshot
        if _, err := protocol.DecodeEnvelopeBody(&env, &snap, c.ep.reg); err != nil {
            c.ep.log.Warn("undecodable snapshot", zap.Uint64("seq", env.Header.Sequence), zap.Error(err))
            return !env.HasFlag(protocol.FlagTerminal)
        }
        snap.Kind = session.StateKind(env.Header.Type - protocol.MsgSnapshot)
        snap.Seq = env.Header.Sequence
        fn(snap)
        return !env.HasFlag(protocol.FlagTerminal)
    })
}

// Flush waits until every queued command was handed to the host.
func (c *Controller) Flush(ctx context.Context) error { return c.ep.flush(ctx) }

// Close releases both endpoints and their buffered messages.
func (c *Controller) Close() error { return c.ep.close() }

// Done is closed once the link is down on this side.
func (c *Controller) Done() <-chan struct{} { return c.ep.closed }

// Emit queues snap for delivery to the controller. Snapshots share one
// class and flow, so they arrive in emit order.
func (h *Host) Emit(snap session.Snapshot) error {
    hdr := protocol.Header{Type: protocol.MsgSnapshot + uint8(snap.Kind), Flags: protocol.FlagControl, Sequence: snap.Seq}
    if snap.Kind.Terminal() { hdr.Flags |= protocol.FlagTerminal }
    env, err := protocol.NewEnvelopeWithBody(hdr, h.ep.format, snap, h.ep.reg)
    if err != nil { return fmt.Errorf("channel: encode snapshot: %w", err) }
    return h.ep.enqueue(env, "")
}

// OnCommand registers the command handler and starts delivery. err is set
// instead of cmd when a message could not be decoded.
func (h *Host) OnCommand(fn func(cmd session.Command, err error)) {
    h.ep.start(func(env protocol.Envelope) bool {
        if !protocol.IsCommand(env.Header.Type) {
            fn(session.Command{}, fmt.Errorf("unexpected message type %#x", env.Header.Type))
            return true
        }
        var cmd session.Command
        if _, err := protocol.DecodeEnvelopeBody(&env, &cmd, h.ep.reg); err != nil {
            fn(session.Command{}, fmt.Errorf("decode %s: %w", session.CommandKind(env.Header.Type), err))
            return true
        }
        cmd.Kind = session.CommandKind(env.Header.Type)
        fn(cmd, nil)
        return true
    })
}

// Flush waits until every queued snapshot was handed to the controller.
func (h *Host) Flush(ctx context.Context) error { return h.ep.flush(ctx) }

// Close releases both endpoints and their buffered messages.
func (h *Host) Close() error { return h.ep.close() }

// Done is closed once the link is down on this side.
func (h *Host) Done() <-chan struct{} { return h.ep.closed }
