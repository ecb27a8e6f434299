package main

import (
    "context"
    "fmt"
    "io"
    "net"

    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/config"
    "github.com/kixelated/warp/pkg/controller"
    "github.com/kixelated/warp/pkg/engine/quicengine"
    "github.com/kixelated/warp/pkg/observability"
    "github.com/kixelated/warp/pkg/session"
    "github.com/kixelated/warp/pkg/statusws"
    "github.com/kixelated/warp/pkg/transport"
)

// app carries what every subcommand shares once flags are parsed.
type app struct {
    configPath string
    logLevel   string

    cfg     *config.Config
    log     *zap.Logger
    restore func()
}

func (a *app) setup() error {
    cfg, err := config.Load(a.configPath)
    if err != nil { return fmt.Errorf("load config: %w", err) }
    if a.logLevel != "" { cfg.Log.Level = a.logLevel }
    logger, restore, err := observability.SetupLogger(cfg.Log)
    if err != nil { return fmt.Errorf("setup logger: %w", err) }
    a.cfg, a.log, a.restore = cfg, logger, restore
    return nil
}

func (a *app) teardown() {
    if a.restore != nil { a.restore() }
}

func (a *app) engineConfig() (quicengine.Config, error) {
    kind, err := transport.ParseKind(a.cfg.Engine.Kind)
    if err != nil { return quicengine.Config{}, fmt.Errorf("engine: %w", err) }
    return quicengine.Config{
        Kind:               kind,
        ALPN:               a.cfg.Engine.ALPN,
        InsecureSkipVerify: a.cfg.Engine.InsecureSkipVerify,
        DialTimeout:        a.cfg.Engine.DialTimeout,
        RequestTimeout:     a.cfg.Engine.RequestTimeout,
        PublishRate:        a.cfg.Engine.PublishRate,
        PublishBurst:       a.cfg.Engine.PublishBurst,
        Logger:             a.log,
    }, nil
}

// bridge builds a controller bridge from the loaded configuration.
func (a *app) bridge() (*controller.Bridge, error) {
    ec, err := a.engineConfig()
    if err != nil { return nil, err }
    s := a.cfg.Session
    return controller.NewBridge(s.Retention,
        controller.WithEngine(quicengine.Factory(ec)),
        controller.WithCloseTimeout(s.CloseTimeout),
        controller.WithStatsInterval(s.StatsInterval),
        controller.WithGrace(s.Grace),
        controller.WithSendBuffer(s.SendBuffer),
        controller.WithFormat(a.cfg.Codec()),
        controller.WithLogger(a.log),
    ), nil
}

// serveStatus starts the websocket status server when configured. The
// returned broadcaster is nil otherwise.
func (a *app) serveStatus(ctx context.Context, b *controller.Bridge) (*statusws.Broadcaster, error) {
    if a.cfg.Status.Listen == "" { return nil, nil }
    l, err := net.Listen("tcp", a.cfg.Status.Listen)
    if err != nil { return nil, fmt.Errorf("status listen: %w", err) }
    bc := statusws.NewBroadcaster(b.Store(), a.cfg.Status.Throttle, a.log)
    srv := statusws.NewServer(bc, a.log)
    go func() {
        if err := srv.Serve(ctx, l); err != nil { a.log.Warn("status server stopped", zap.Error(err)) }
    }()
    return bc, nil
}

type observed interface {
    ID() string
    Subscribe(int) *controller.Subscription
}

// follow prints every snapshot of s to w and feeds the status server. The
// returned channel yields the last snapshot once the session has ended.
func follow(s observed, w io.Writer, bc *statusws.Broadcaster) <-chan session.Snapshot {
    sub := s.Subscribe(64)
    var status chan session.Snapshot
    if bc != nil {
        status = make(chan session.Snapshot, 64)
        bc.Follow(s.ID(), status)
    }
    last := make(chan session.Snapshot, 1)
    go func() {
        var cur session.Snapshot
        for snap := range sub.C {
            cur = snap
            fmt.Fprintln(w, snap)
            if status != nil {
                select {
                case status <- snap:
                default:
                }
            }
        }
        if status != nil { close(status) }
        last <- cur
    }()
    return last
}
