package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nextday/nextday-api/internal/config"
	"github.com/nextday/nextday-api/internal/pkg/database"
	"github.com/nextday/nextday-api/internal/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var databaseURL string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or inspect the database schema",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if databaseURL == "" {
				databaseURL = cfg.DatabaseURL
			}
			return logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})
		},
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")

	run := func(command string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), databaseURL, command, args...)
		}
	}

	root.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply all pending migrations", Args: cobra.NoArgs, RunE: run("up")},
		&cobra.Command{Use: "down", Short: "Roll back the latest migration", Args: cobra.NoArgs, RunE: run("down")},
		&cobra.Command{Use: "status", Short: "Show applied and pending migrations", Args: cobra.NoArgs, RunE: run("status")},
		&cobra.Command{Use: "version", Short: "Print the current schema version", Args: cobra.NoArgs, RunE: run("version")},
		&cobra.Command{Use: "up-to VERSION", Short: "Migrate up to VERSION", Args: cobra.ExactArgs(1), RunE: run("up-to")},
		&cobra.Command{Use: "down-to VERSION", Short: "Roll back to VERSION", Args: cobra.ExactArgs(1), RunE: run("down-to")},
	)
	return root
}

func migrate(ctx context.Context, databaseURL, command string, args ...string) error {
	db, err := database.NewPostgres(databaseURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to PostgreSQL")
		return err
	}
	defer database.ClosePostgres(db)

	if err := database.Migrate(ctx, db.DB, command, args...); err != nil {
		log.Error().Err(err).Str("command", command).Msg("Migration failed")
		return err
	}
	log.Info().Str("command", command).Msg("Migration finished")
	return nil
}
