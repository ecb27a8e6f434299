package main

import (
    "errors"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/kixelated/warp/pkg/channel"
    "github.com/kixelated/warp/pkg/session"
)

const defaultFrameSize = 16 * 1024

func newPublishCmd(a *app) *cobra.Command {
    var url, track, file string
    var frameSize int
    cmd := &cobra.Command{
        Use:   "publish",
        Short: "Publish a file or stdin to a track in fixed-size frames",
        RunE: func(cmd *cobra.Command, _ []string) error {
            if frameSize <= 0 { return fmt.Errorf("invalid --frame-size %d", frameSize) }
            in := io.Reader(cmd.InOrStdin())
            if file != "-" {
                f, err := os.Open(file)
                if err != nil { return err }
                defer f.Close()
                in = f
            }

            ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
            defer stop()
            b, err := a.bridge()
            if err != nil { return err }
            defer closeBridge(a, b)
            bc, err := a.serveStatus(ctx, b)
            if err != nil { return err }

            p, err := b.Publish(url, track)
            if err != nil { return err }
            last := follow(p, cmd.ErrOrStderr(), bc)

            _, err = p.Wait(ctx, func(s session.Snapshot) bool { return s.Kind == session.StateConnected })
            if err == nil {
                err = pump(a, in, frameSize, p.Publish)
            }
            if cerr := closeSession(a, p); cerr != nil && err == nil { err = cerr }
            if ferr := faultErr(<-last); ferr != nil { return ferr }
            return err
        },
    }
    cmd.Flags().StringVar(&url, "url", "", "relay address (https://host:port/path)")
    cmd.Flags().StringVar(&track, "track", "", "track name to publish")
    cmd.Flags().StringVar(&file, "file", "-", "input file, - for stdin")
    cmd.Flags().IntVar(&frameSize, "frame-size", defaultFrameSize, "bytes per published frame")
    _ = cmd.MarkFlagRequired("url")
    _ = cmd.MarkFlagRequired("track")
    return cmd
}

// pump reads in frame by frame and hands each to publish, backing off while
// the session channel is full.
func pump(a *app, in io.Reader, frameSize int, publish func([]byte) error) error {
    buf := make([]byte, frameSize)
    frames := 0
    for {
        n, rerr := io.ReadFull(in, buf)
        if n > 0 {
            for {
                err := publish(buf[:n])
                if err == nil { break }
                if !errors.Is(err, channel.ErrBackpressure) { return err }
                time.Sleep(5 * time.Millisecond)
            }
            frames++
        }
        switch {
        case rerr == nil:
        case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
            a.log.Info("input drained", zap.Int("frames", frames))
            return nil
        default:
            return rerr
        }
    }
}
