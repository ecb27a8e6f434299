package controller

import (
    "time"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/engine"
    "github.com/kixelated/warp/pkg/engine/quicengine"
    "github.com/kixelated/warp/pkg/host"
    "github.com/kixelated/warp/pkg/protocol"
    "github.com/kixelated/warp/pkg/session"
    "github.com/kixelated/warp/pkg/sessions"
)

// DefaultGrace is added to the close timeout before a controller stops
// waiting for the host.
const DefaultGrace = 500 * time.Millisecond

type Option func(*options)

type options struct {
    factory       engine.Factory
    closeTimeout  time.Duration
    statsInterval time.Duration
    grace         time.Duration
    sendBuffer    int
    format        protocol.Format
    logger        *zap.Logger
    sendHook      func(session.Command)
    store         *sessions.Store
}

func defaultOptions() options {
    return options{
        closeTimeout:  host.DefaultCloseTimeout,
        statsInterval: host.DefaultStatsInterval,
        grace:         DefaultGrace,
        format:        protocol.FormatCBOR,
    }
}

func (o *options) engineFactory() engine.Factory {
    if o.factory != nil { return o.factory }
    return quicengine.Factory(quicengine.Config{Logger: o.logger})
}

// WithEngine selects the engine every session constructs. The default is
// the QUIC engine.
func WithEngine(f engine.Factory) Option { return func(o *options) { o.factory = f } }

func WithCloseTimeout(d time.Duration) Option {
    return func(o *options) {
        if d > 0 { o.closeTimeout = d }
    }
}

func WithStatsInterval(d time.Duration) Option {
    return func(o *options) {
        if d > 0 { o.statsInterval = d }
    }
}

// WithGrace sets how long past the close timeout Close waits for the host.
func WithGrace(d time.Duration) Option {
    return func(o *options) {
        if d > 0 { o.grace = d }
    }
}

func WithSendBuffer(n int) Option { return func(o *options) { o.sendBuffer = n } }

func WithFormat(f protocol.Format) Option { return func(o *options) { o.format = f } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithSendHook observes every command the controller hands to its channel.
func WithSendHook(fn func(session.Command)) Option { return func(o *options) { o.sendHook = fn } }

// WithStore records the session in s.
func WithStore(s *sessions.Store) Option { return func(o *options) { o.store = s } }
