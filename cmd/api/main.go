package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirbyniko/research-platform-sub006/internal/app"
	"github.com/kirbyniko/research-platform-sub006/internal/assist"
	"github.com/kirbyniko/research-platform-sub006/internal/config"
	"github.com/kirbyniko/research-platform-sub006/internal/errs"
	"github.com/kirbyniko/research-platform-sub006/internal/events"
	"github.com/kirbyniko/research-platform-sub006/internal/evidence"
	"github.com/kirbyniko/research-platform-sub006/internal/history"
	"github.com/kirbyniko/research-platform-sub006/internal/logging"
	"github.com/kirbyniko/research-platform-sub006/internal/ratelimit"
	"github.com/kirbyniko/research-platform-sub006/internal/search"
	"github.com/kirbyniko/research-platform-sub006/internal/session"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("load config", slog.Any("error", errs.Loggable(err)))
		os.Exit(1)
	}
	logging.Setup(os.Stderr, cfg.LogLevel)
	ctx := logging.WithAttrs(context.Background(), slog.String("app", "casefile-api"))

	if err := run(ctx, cfg); err != nil {
		logging.Error(ctx, "api exited", slog.Any("error", errs.Loggable(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return errs.Wrap(err, "database connection")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		return errs.Wrap(err, "apply migrations")
	}
	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		return errs.Wrap(err, "create repos dir")
	}

	dataStore := store.NewPostgresStore(db)
	deps := app.Deps{History: history.New(cfg.ReposDir)}

	var meiliClient *search.Meili
	if cfg.MeiliURL != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, search.NewPgFTS(db))

	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return errs.Wrap(err, "redis connection")
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Limiter = ratelimit.NewRedis(redisStore.Client(), time.Minute)
		logging.Info(ctx, "refresh sessions and ai rate limits in redis")
	} else {
		logging.Info(ctx, "refresh sessions in postgres, ai rate limits disabled")
	}

	if cfg.MinIOEndpoint != "" {
		objects, err := evidence.NewMinioStore(ctx, evidence.MinioConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return errs.Wrap(err, "evidence storage")
		}
		deps.Evidence = evidence.NewService(objects, cfg.EvidenceMaxBytes)
	}

	if cfg.NATSURL != "" {
		publisher, err := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			logging.Warn(ctx, "nats unavailable, events disabled", slog.Any("error", errs.Loggable(err)))
		} else {
			defer publisher.Close()
			deps.Events = publisher
		}
	}

	if cfg.OpenAIAPIKey != "" {
		deps.Assist = assist.New(assist.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
	}

	service := app.New(cfg, dataStore, deps)
	if err := service.Bootstrap(ctx); err != nil {
		logging.Warn(ctx, "bootstrap failed, will retry on next restart", slog.Any("error", errs.Loggable(err)))
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info(ctx, "api listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logging.Info(ctx, "shutting down", slog.String("signal", sig.String()))
	case err, ok := <-serveErr:
		if ok {
			return errs.Wrap(err, "serve")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(err, "shutdown")
	}
	return nil
}
