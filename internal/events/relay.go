package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

const relayLockKey = "event-relay"

// Store is the outbox side of the appointment store.
type Store interface {
	FetchUnpublishedEvents(ctx context.Context, limit int) ([]appointment.EventLog, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error
}

type Publisher interface {
	Publish(ctx context.Context, ev appointment.EventLog) error
	Close() error
}

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay moves committed event_logs rows to the message broker in id order.
// Rows are marked published only after the broker accepted them, so a crash
// between the two steps republishes: delivery is at least once.
type Relay struct {
	store    Store
	pub      Publisher
	locker   redisclient.Locker
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

// NewRelay builds a relay. locker may be nil when a single relay process runs.
func NewRelay(store Store, pub Publisher, locker redisclient.Locker, logger *slog.Logger, cfg RelayConfig) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Relay{
		store:    store,
		pub:      pub,
		locker:   locker,
		logger:   logger,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
}

// Run publishes on every tick until ctx ends.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("event relay started", "interval", r.interval.String(), "batch", r.batch)

	for {
		if n, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("event relay batch failed", "error", err)
		} else if n > 0 {
			r.logger.Info("events published", "count", n)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("event relay stopping")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce publishes at most one batch and reports how many events went out.
// When another instance holds the relay lock it does nothing.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if r.locker == nil {
		return r.publishBatch(ctx)
	}

	var published int
	err := r.locker.WithLock(ctx, relayLockKey, func(lockCtx context.Context) error {
		n, err := r.publishBatch(lockCtx)
		published = n
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		r.logger.Debug("event relay lock held elsewhere")
		return 0, nil
	}
	return published, err
}

func (r *Relay) publishBatch(ctx context.Context) (int, error) {
	evs, err := r.store.FetchUnpublishedEvents(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	if len(evs) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(evs))
	var pubErr error
	for _, ev := range evs {
		if err := r.pub.Publish(ctx, ev); err != nil {
			pubErr = fmt.Errorf("publish event %d: %w", ev.ID, err)
			break
		}
		ids = append(ids, ev.ID)
	}

	if err := r.store.MarkEventsPublished(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), pubErr
}
