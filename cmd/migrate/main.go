package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"SpotLedger/internal/config"
	"SpotLedger/internal/observability"
	"SpotLedger/internal/persistence"
)

func main() {
	var cfgFile string

	withMigrator := func(fn func(ctx context.Context, m *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger := observability.NewLoggerWithLevel("migrate", observability.ParseLogLevel(cfg.Logging.Level))

			db, err := sql.Open("postgres", cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			return fn(cmd.Context(), persistence.NewMigrator(db, os.DirFS(cfg.Postgres.MigrationsDir), logger))
		}
	}

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back SpotLedger schema migrations",
		Long:         "Reads SPOT_POSTGRES_DSN and SPOT_POSTGRES_MIGRATIONS_DIR (or --config).",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Println("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Println("last migration rolled back")
				return nil
			}),
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
