package main

import (
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/relay"
    "github.com/kixelated/warp/pkg/transport"
    "github.com/kixelated/warp/pkg/transport/mem"
    "github.com/kixelated/warp/pkg/transport/quic"
    "github.com/kixelated/warp/pkg/transport/tcp"
)

func newRelayCmd(a *app) *cobra.Command {
    var listen string
    cmd := &cobra.Command{
        Use:   "relay",
        Short: "Run a relay fanning published tracks out to watchers",
        RunE: func(cmd *cobra.Command, _ []string) error {
            if listen == "" { listen = a.cfg.Relay.Listen }
            kind, err := transport.ParseKind(a.cfg.Relay.Transport)
            if err != nil { return err }
            var tr transport.Transport
            switch kind {
            case transport.KindTCP:
                tr = tcp.New()
            case transport.KindMem:
                tr = mem.Default
            default:
                tr = quic.New(quic.Options{ALPN: a.cfg.Engine.ALPN})
            }

            ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
            defer stop()
            l, err := tr.Listen(ctx, listen)
            if err != nil { return err }
            srv, err := relay.New(relay.Options{OutBuffer: a.cfg.Relay.OutBuffer, Logger: a.log})
            if err != nil { return err }
            a.log.Info("relay listening", zap.Stringer("addr", l.Addr()), zap.Stringer("transport", kind))
            err = srv.Serve(ctx, l)
            st := srv.Stats()
            a.log.Info("relay stopped", zap.Uint64("frames", st.Frames), zap.Uint64("dropped", st.Dropped))
            if ctx.Err() != nil { return nil }
            return err
        },
    }
    cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides relay.listen")
    return cmd
}
