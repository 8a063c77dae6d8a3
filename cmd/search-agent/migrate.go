package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/search-agent/internal/database"
)

func migrateCmd(a *app) *cobra.Command {
	var migrationsPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage checkpoint database migrations",
	}
	cmd.PersistentFlags().StringVar(&migrationsPath, "path", "", "Read migrations from this directory instead of the embedded set")

	// withMigrator connects to the database and runs fn against a migrator.
	withMigrator := func(cmd *cobra.Command, fn func(*database.Migrator, zerolog.Logger) error) error {
		logger := a.logger.With().Str("component", "migrate").Logger()

		migrationDir := a.cfg.Database.MigrationPath
		if migrationsPath != "" {
			migrationDir = migrationsPath
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		db, err := database.New(ctx, &a.cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		migrator, err := database.NewMigrator(db, migrationDir, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := fn(migrator, logger); err != nil {
			return err
		}
		printStatus(migrator, logger)
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Info().Msg("running all pending migrations")
				if err := m.Up(); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Warn().Msg("rolling back all migrations")
				if err := m.Down(); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Run N migration steps (positive=up, negative=down)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n == 0 {
				return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
			}
			return withMigrator(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Info().Int("steps", n).Msg("running migration steps")
				if err := m.Steps(n); err != nil {
					return fmt.Errorf("migrate steps: %w", err)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(*database.Migrator, zerolog.Logger) error { return nil })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force V",
		Short: "Force set migration version (use to recover from failed migrations)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
			}
			return withMigrator(cmd, func(m *database.Migrator, logger zerolog.Logger) error {
				logger.Warn().Int("version", v).Msg("forcing migration version")
				if err := m.Force(v); err != nil {
					return fmt.Errorf("force version: %w", err)
				}
				return nil
			})
		},
	})

	return cmd
}

// printStatus logs the current migration version.
func printStatus(migrator *database.Migrator, logger zerolog.Logger) {
	status, err := migrator.Status()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	if !status.Applied {
		logger.Info().Msg("no migrations applied")
		return
	}
	logger.Info().
		Uint("version", status.Version).
		Bool("dirty", status.Dirty).
		Msg("current migration version")
}
