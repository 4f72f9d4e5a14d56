package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		ctx := cmd.Context()
		if err := store.ApplyMigrations(ctx, e.db); err != nil {
			return err
		}
		return printVersion(cmd, e, "migrated")
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		if err := store.RollbackMigration(cmd.Context(), e.db); err != nil {
			return err
		}
		return printVersion(cmd, e, "rolled back")
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, _ []string, e env) error {
		return printVersion(cmd, e, "schema")
	}),
}

func printVersion(cmd *cobra.Command, e env, verb string) error {
	version, err := store.SchemaVersion(cmd.Context(), e.db)
	if err != nil {
		return err
	}
	logging.Info(cmd.Context(), "schema version", slog.Int64("version", version))
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: version %d\n", verb, version); err != nil {
		return errs.Wrap(err, "write migrate output")
	}
	return nil
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
