package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nasmusic.dev/internal/migrate"
	"nasmusic.dev/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	var (
		dsn     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the embedded schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN (default $DATABASE_URL)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")

	withManager := func(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return errors.New("missing DSN: provide via --dsn or DATABASE_URL")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			store, err := pg.Open(ctx, dsn, 2)
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(ctx, migrate.NewManager(store.DB(), nil))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			if len(applied) == 0 {
				fmt.Println("schema is up to date")
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if errors.Is(err, migrate.ErrNothingToRollback) {
				fmt.Println("nothing to roll back")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Println("rolled back", name)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			states, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("migrate status: %w", err)
			}
			for _, st := range states {
				mark := "pending"
				if st.Applied {
					mark = "applied"
				}
				fmt.Printf("%-8s %s\n", mark, st.Name)
			}
			return nil
		}),
	})
	return cmd
}
