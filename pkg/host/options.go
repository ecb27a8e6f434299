package host

import (
    "time"

    "go.uber.org/zap"
)

const (
    DefaultCloseTimeout  = 2 * time.Second
    DefaultStatsInterval = 250 * time.Millisecond
)

type Option func(*options)

type options struct {
    closeTimeout  time.Duration
    statsInterval time.Duration
    logger        *zap.Logger
    sessionID     string
}

// WithCloseTimeout bounds how long Close waits for the engine.
func WithCloseTimeout(d time.Duration) Option {
    return func(o *options) {
        if d > 0 { o.closeTimeout = d }
    }
}

// WithStatsInterval sets the cadence of Active snapshots.
func WithStatsInterval(d time.Duration) Option {
    return func(o *options) {
        if d > 0 { o.statsInterval = d }
    }
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

func WithSessionID(id string) Option { return func(o *options) { o.sessionID = id } }
