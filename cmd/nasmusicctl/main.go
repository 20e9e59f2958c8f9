package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nasmusic.dev/internal/obs"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "nasmusicctl",
		Short:         "Operator tooling for the NAS music downloader",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := obs.NewLogger(debug)
			if err != nil {
				return err
			}
			obs.SetLogger(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = obs.Logger().Sync()
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(healthCmd())
	return root
}

func logger() *zap.Logger { return obs.Logger() }
