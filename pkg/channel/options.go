package channel

import (
    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/session"
)

type Option func(*options)

type options struct {
    format     protocol.Format
    sendBuffer int
    logger     *zap.Logger
    sendHook   func(session.Command)
}

func defaultOptions() options {
    return options{
        format:     protocol.FormatCBOR,
        sendBuffer: 256,
    }
}

// WithFormat selects the body encoding of every envelope sent.
func WithFormat(f protocol.Format) Option {
    return func(o *options) {
        if f != protocol.FormatUnknown {
            o.format = f
        }
    }
}

// WithSendBuffer bounds the number of messages queued per direction.
func WithSendBuffer(n int) Option {
    return func(o *options) {
        if n > 0 {
            o.sendBuffer = n
        }
    }
}

func WithLogger(l *zap.Logger) Option {
    return func(o *options) { o.logger = l }
}

// WithSendHook observes every command accepted for delivery by the
// controller endpoint.
func WithSendHook(fn func(session.Command)) Option {
    return func(o *options) { o.sendHook = fn }
}
