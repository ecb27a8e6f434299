package main

import (
    "github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
    return &cobra.Command{
        Use:   "config",
        Short: "Print the effective configuration as YAML",
        RunE: func(cmd *cobra.Command, _ []string) error {
            out, err := a.cfg.Dump()
            if err != nil { return err }
            _, err = cmd.OutOrStdout().Write(out)
            return err
        },
    }
}
