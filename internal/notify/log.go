package notify

import (
	"context"
	"log/slog"
)

// LogSender renders notifications and writes them to the log instead of
// delivering them. Used in development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return ErrNoRecipient
	}
	msg, err := render(n)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "notification",
		"recipient", n.Recipient,
		"kind", string(n.Kind),
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}
