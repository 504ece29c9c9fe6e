package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-coordination/internal/auth"
	"github.com/example/ride-coordination/internal/challenge"
	"github.com/example/ride-coordination/internal/config"
	"github.com/example/ride-coordination/internal/dispatch"
	"github.com/example/ride-coordination/internal/events"
	"github.com/example/ride-coordination/internal/fleet"
	httpapi "github.com/example/ride-coordination/internal/http"
	"github.com/example/ride-coordination/internal/lifecycle"
	"github.com/example/ride-coordination/internal/logging"
	"github.com/example/ride-coordination/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	challenges, closeChallenges := openChallenges(cfg, logger)
	defer closeChallenges()

	registry := dispatch.NewRegistry(logger)
	notifier := dispatch.NewNotifier(registry, logger)

	opts := []lifecycle.Option{lifecycle.WithLogger(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.EventsTopic, logger)
		defer pub.Close()
		opts = append(opts, lifecycle.WithPublisher(pub))
		logger.Info("event_stream_enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.EventsTopic)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	srv := httpapi.NewServer(httpapi.Deps{
		Rides:            lifecycle.NewService(store, notifier, opts...),
		Auth:             auth.NewService(store, challenges, tokens, auth.LogSender{Log: logger}),
		Fleet:            fleet.NewService(store),
		Registry:         registry,
		Health:           store,
		Logger:           logger,
		WSSendQueue:      cfg.WSSendQueue,
		WSWriteTimeout:   cfg.WSWriteTimeout,
		WSAllowedOrigins: cfg.WSAllowedOrigins,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ride-coordination listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		script, err := os.ReadFile(filepath.Join("migrations", "001_init.sql"))
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		if err := ps.Migrate(ctx, string(script)); err != nil {
			_ = ps.Close()
			return nil, err
		}
		logger.Info("migration applied", "file", "001_init.sql")
	}
	return ps, nil
}

func openChallenges(cfg config.ServerConfig, logger *slog.Logger) (challenge.Store, func()) {
	opts := []challenge.Option{challenge.WithTTL(cfg.OTPTTL)}
	if cfg.OTPSingle {
		opts = append(opts, challenge.WithSingleUse())
	}
	if cfg.RedisAddr == "" {
		return challenge.NewMemoryStore(opts...), func() {}
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	logger.Info("using redis challenge store", "addr", cfg.RedisAddr)
	return challenge.NewRedisStore(rc, opts...), func() { _ = rc.Close() }
}
