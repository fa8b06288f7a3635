package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/api"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/config"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/metrics"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/pricing"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/services/auth"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/services/trading"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/session"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage/postgres"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage/sqlite"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("storage", cfg.Storage.Driver),
	)

	if cfg.Pricing.APIKey == "" {
		log.Warn("API_KEY not set, quote lookups will likely be rejected")
	}

	store, err := openStorage(cfg)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	var (
		gateway  pricing.Gateway = pricing.New(cfg.Pricing, log)
		sessions session.Store   = session.NewMemoryStore()
		rdb      *redis.Client
	)

	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}

		gateway = pricing.NewCache(gateway, rdb, cfg.Redis.QuoteTTL, log)
		sessions = session.NewRedisStore(rdb)
		log.Info("Using redis for sessions and quote cache", slog.String("addr", cfg.Redis.Addr))
	}

	manager := session.NewManager(sessions, cfg.Session.Secret, cfg.Session.TTL, log)
	authService := auth.New(store, manager, cfg.Trading.Cash(), log)
	engine := trading.New(store, gateway, log)

	apiServer := api.New(cfg, log, authService, engine, metrics.New())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", "error", err)
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error("Closing redis error", "error", err)
		}
	}
	if err := store.Stop(); err != nil {
		log.Error("Closing database error", "error", err)
	}
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	if cfg.Storage.Driver == config.DriverPostgres {
		return postgres.New(cfg.Postgres.DSN())
	}
	return sqlite.New(cfg.Storage.SQLitePath)
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.Kitchen}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
