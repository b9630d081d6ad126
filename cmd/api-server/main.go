package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/consultation-scheduling/internal/api"
	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/notify"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
	"github.com/hackgods/consultation-scheduling/internal/storage"
	"github.com/hackgods/consultation-scheduling/internal/telemetry"
)

const serviceName = "scheduling-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, serviceName, cfg.Env, cfg.Version)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("api-server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(rootCtx, cfg.OTel, serviceName, cfg.Version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	store, err := storage.Open(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(rootCtx); err != nil {
		return err
	}

	checks := []api.ReadyCheck{{Name: store.Driver, Critical: true, Check: store.Ping}}

	var rateLimit func(http.Handler) http.Handler
	rdb := connectRedis(rootCtx, cfg, logger)
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		checks = append(checks, api.ReadyCheck{Name: "redis", Check: redisclient.Ping(rdb)})
		store.CacheDirectory(rdb, cfg.DirectoryCacheTTL, logger)
		if cfg.HTTP.RateLimitPerMinute > 0 {
			rateLimit = redisclient.NewRateLimiter(rdb, cfg.HTTP.RateLimitPerMinute, time.Minute, logger).Middleware
		}
	}

	dispatcher := notify.NewDispatcher(newSender(cfg.Notify, logger), logger, notify.DispatcherConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(ctx); err != nil {
			logger.Warn("notifications still queued at shutdown", "error", err)
		}
	}()

	svc := appointment.NewService(store.Repo, appointment.Collaborators{
		Topics:   store.Topics,
		Users:    store.Users,
		Notifier: dispatcher,
		Logger:   logger,
	}, cfg)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:     svc,
			Logger:      logger,
			Location:    cfg.Location,
			Env:         cfg.Env,
			Version:     cfg.Version,
			ReadyChecks: checks,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			RateLimit:   rateLimit,
			Tracing:     cfg.OTel.Enabled,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", "timeout", cfg.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// connectRedis returns nil when redis is disabled or unreachable; the API
// then runs without the directory cache and the rate limiter.
func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if !cfg.RedisEnabled {
		return nil
	}
	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn("redis unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
		return nil
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return rdb
}

func newSender(cfg config.NotifyConfig, logger *slog.Logger) notify.Sender {
	if cfg.Driver != config.NotifySMTP {
		return notify.NewLogSender(logger)
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		UseTLS:   cfg.SMTPUseTLS,
		Timeout:  cfg.Timeout,
	})
}
