package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"planner/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
	Long: `Apply or roll back the SQL migrations in the migrations directory.
SQLite databases carry an embedded schema and need no migrations.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPostgres(cmd.Context(), func(ctx context.Context, db *store.SQLStore) error {
			applied, err := store.ApplyMigrations(ctx, db.DB(), cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, version := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", version)
			}
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest applied migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPostgres(cmd.Context(), func(ctx context.Context, db *store.SQLStore) error {
			version, err := store.RollbackMigration(ctx, db.DB(), cfg.MigrationsDir)
			if err != nil {
				return err
			}
			if version == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back", version)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

func withPostgres(ctx context.Context, fn func(context.Context, *store.SQLStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.DatabaseDriver != store.DriverPostgres {
		slog.Info("migrations skipped", "driver", cfg.DatabaseDriver)
		return nil
	}
	db, dataStore, err := store.Connect(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	return fn(ctx, dataStore)
}
