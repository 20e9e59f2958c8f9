package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nasmusic.dev/internal/audit"
	"nasmusic.dev/internal/auth"
	"nasmusic.dev/internal/config"
	"nasmusic.dev/internal/store/pg"
	"nasmusic.dev/internal/sweep"
)

func sweepCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Prune expired revocations and fail interrupted downloads",
		Long: `Runs one maintenance pass:

  - deletes token_blacklist rows whose tokens have expired
  - marks downloads stuck in "downloading" longer than
    STUCK_DOWNLOAD_AFTER_MINUTES as failed ("download interrupted")`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.CheckStuckThreshold(); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := pg.Open(ctx, cfg.DatabaseURL, 2)
			if err != nil {
				return err
			}
			defer store.Close()

			tokens, err := auth.NewTokens(cfg.SecretKey, cfg.JWTAlgorithm, cfg.JWTIssuer, cfg.AccessTokenTTL)
			if err != nil {
				return err
			}
			authSvc, err := auth.NewService(store.Auth(), tokens, audit.NewLogger(store.Audit()), auth.WithLogger(logger()))
			if err != nil {
				return err
			}
			rep, err := sweep.New(authSvc, store.History(), cfg.StuckDownloadAfter).Run(ctx)
			if err != nil {
				logger().Error("sweep", zap.Error(err))
			}
			fmt.Printf("revoked tokens pruned: %d\nstuck downloads failed: %d\n", rep.RevokedPruned, rep.StuckFailed)
			return err
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default $NASMUSIC_CONFIG or config.yaml)")
	return cmd
}
