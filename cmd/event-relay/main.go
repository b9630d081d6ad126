package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/events"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
	"github.com/hackgods/consultation-scheduling/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, "event-relay", cfg.Env, cfg.Version)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("event-relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("event-relay starting up",
		"sink", cfg.Events.Sink,
		"interval", cfg.Events.RelayInterval.String(),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(rootCtx); err != nil {
		return err
	}

	pub, err := newPublisher(rootCtx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("error closing publisher", "error", err)
		}
	}()

	// Without redis only one relay may run; with it, replicas take turns
	// holding the lock.
	var locker redisclient.Locker
	if cfg.RedisEnabled {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", "error", err)
			}
		}()
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	}

	relay := events.NewRelay(store.Outbox, pub, locker, logger, events.RelayConfig{
		Interval:  cfg.Events.RelayInterval,
		BatchSize: cfg.Events.RelayBatch,
	})
	relay.Run(rootCtx)

	logger.Info("shutting down event-relay")
	return nil
}

func newPublisher(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Sink {
	case config.SinkKafka:
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := events.KafkaReadyCheck(cfg.KafkaBrokers)(checkCtx); err != nil {
			logger.Warn("kafka not reachable yet, relay will retry", "brokers", cfg.KafkaBrokers, "error", err)
		}
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.SinkAMQP:
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	default:
		return events.NewLogPublisher(logger), nil
	}
}
