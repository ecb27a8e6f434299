// Command warp watches and publishes media tracks through a relay.
package main

import (
    "fmt"
    "os"

    "github.com/spf13/cobra"
)

func main() {
    if err := newRootCmd().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
}

func newRootCmd() *cobra.Command {
    a := &app{}
    root := &cobra.Command{
        Use:           "warp",
        Short:         "Watch and publish media tracks over QUIC",
        SilenceUsage:  true,
        SilenceErrors: true,
        PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
            return a.setup()
        },
        PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
    }
    root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML config file")
    root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level")
    root.AddCommand(newWatchCmd(a), newPublishCmd(a), newRelayCmd(a), newConfigCmd(a))
    return root
}
