package main

import (
    "context"
    "errors"
    "fmt"
    "os/signal"
    "syscall"

    "github.com/spf13/cobra"

    "github.com/kixelated/warp/pkg/session"
)

func newWatchCmd(a *app) *cobra.Command {
    var url, track string
    cmd := &cobra.Command{
        Use:   "watch",
        Short: "Subscribe to a track and print session state until interrupted",
        RunE: func(cmd *cobra.Command, _ []string) error {
            ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
            defer stop()

            b, err := a.bridge()
            if err != nil { return err }
            defer closeBridge(a, b)
            bc, err := a.serveStatus(ctx, b)
            if err != nil { return err }

            w, err := b.Watch(url, track)
            if err != nil { return err }
            last := follow(w, cmd.OutOrStdout(), bc)

            select {
            case <-ctx.Done():
            case <-w.Done():
            }
            if err := closeSession(a, w); err != nil { return err }
            return faultErr(<-last)
        },
    }
    cmd.Flags().StringVar(&url, "url", "", "relay address (https://host:port/path)")
    cmd.Flags().StringVar(&track, "track", "", "track name to watch")
    _ = cmd.MarkFlagRequired("url")
    _ = cmd.MarkFlagRequired("track")
    return cmd
}

type closer interface {
    Close(ctx context.Context) error
}

func closeSession(a *app, c closer) error {
    ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Session.CloseTimeout+2*a.cfg.Session.Grace)
    defer cancel()
    return c.Close(ctx)
}

func closeBridge(a *app, c closer) {
    if err := closeSession(a, c); err != nil && !errors.Is(err, context.DeadlineExceeded) {
        a.log.Sugar().Warnf("bridge close: %v", err)
    }
}

// faultErr turns a Faulted final snapshot into the command's error.
func faultErr(s session.Snapshot) error {
    if s.Kind != session.StateFaulted { return nil }
    return fmt.Errorf("session faulted: %s: %s", s.Fault, s.Message)
}
