package events

import (
	"context"
	"log/slog"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

// LogPublisher logs events instead of sending them. The relay still marks
// them published, which keeps the outbox from growing when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, ev appointment.EventLog) error {
	p.logger.InfoContext(ctx, "event",
		"event_id", ev.ID,
		"event_type", ev.EventType,
		"payload", string(ev.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
