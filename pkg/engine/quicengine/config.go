package quicengine

import (
    "time"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/transport"
)

type Config struct {
    // Kind selects the transport when Transport is nil.
    Kind transport.Kind
    // Transport overrides Kind, e.g. a shared mem network in tests.
    Transport transport.Transport

    ALPN               string
    InsecureSkipVerify bool

    DialTimeout    time.Duration // default 10s
    RequestTimeout time.Duration // setup and subscribe acknowledgements, default 5s
    // PublishRate paces outgoing frames in bytes/s (0 = unpaced).
    PublishRate  int64
    PublishBurst int64 // default one second of PublishRate
    MediaBuffer  int     // received frames queued for the host, default 256

    Logger *zap.Logger
}

func (c Config) withDefaults() Config {
    if c.DialTimeout <= 0 { c.DialTimeout = 10 * time.Second }
    if c.RequestTimeout <= 0 { c.RequestTimeout = 5 * time.Second }
    if c.PublishRate > 0 && c.PublishBurst <= 0 { c.PublishBurst = c.PublishRate }
    if c.MediaBuffer <= 0 { c.MediaBuffer = 256 }
    if c.Logger == nil { c.Logger = zap.L() }
    return c
}
