package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirbyniko/research-platform-sub006/internal/config"
	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "casectl",
	Short:        "Maintenance CLI for the casefile API",
	SilenceUsage: true,
}

// Execute runs the command tree and logs a failing command once.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	logging.Setup(rootCmd.ErrOrStderr(), "info")
	ctx = logging.WithAttrs(ctx, slog.String("app", "casectl"))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("error", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file path")
}

// env is what a maintenance command gets to work with.
type env struct {
	cfg   config.Config
	db    *sql.DB
	store *store.PostgresStore
}

// withStore loads config and opens the database around run.
func withStore(run func(cmd *cobra.Command, args []string, e env) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)
		cmd.SetContext(ctx)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return errs.Wrap(err, "load config")
		}
		logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel)

		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return errs.Wrap(err, "open database")
		}
		defer func() {
			if err := db.Close(); err != nil {
				logging.Warn(ctx, "close database", slog.Any("error", errs.Loggable(err)))
			}
		}()

		if err := run(cmd, args, env{cfg: cfg, db: db, store: store.NewPostgresStore(db)}); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
