package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nasmusic.dev/internal/probe"
)

func healthCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the API's gRPC health service; exits non-zero unless SERVING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := probe.Dial(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := client.Check(ctx, service); err != nil {
				return fmt.Errorf("health %s: %w", addr, err)
			}
			fmt.Println("SERVING")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("GRPC_ADDR", "localhost:9090"), "gRPC health address")
	cmd.Flags().StringVar(&service, "service", "", "service name (empty for overall status)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
