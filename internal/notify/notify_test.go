package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *recordingSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type blockingSender struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSender) Send(ctx context.Context, _ Notification) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func confirmed(to string) Notification {
	return Notification{
		Recipient: to,
		Kind:      KindAppointmentConfirmed,
		Payload: map[string]string{
			KeyCustomerName:  "Linh",
			KeyTopic:         "Study stress",
			KeyDate:          "01/05/2025",
			KeyTime:          "09:00",
			KeyAppointmentID: "abc",
		},
	}
}

func TestRender(t *testing.T) {
	msg, err := render(confirmed("linh@example.com"))
	require.NoError(t, err)

	assert.Equal(t, "Your consultation is confirmed", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Linh")
	assert.Contains(t, msg.Body, "01/05/2025 at 09:00")
	assert.NotContains(t, msg.Body, "Join here")

	n := confirmed("linh@example.com")
	n.Payload[KeyMeetingURL] = "https://meet.example.com/x"
	msg, err = render(n)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Join here: https://meet.example.com/x")

	_, err = render(Notification{Recipient: "a@b.c", Kind: "unknown"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDispatcher_DeliversQueued(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, nil, DispatcherConfig{Workers: 2, QueueSize: 8})

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), confirmed("guest@example.com")))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 5, sender.count())
	assert.ErrorIs(t, d.Notify(context.Background(), confirmed("guest@example.com")), ErrClosed)
}

func TestDispatcher_RejectsWithoutRecipient(t *testing.T) {
	d := NewDispatcher(&recordingSender{}, nil, DispatcherConfig{})
	defer d.Close(context.Background())

	assert.ErrorIs(t, d.Notify(context.Background(), Notification{Kind: KindStatusChanged}), ErrNoRecipient)
}

func TestDispatcher_QueueFull(t *testing.T) {
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(sender, nil, DispatcherConfig{Workers: 1, QueueSize: 1, Timeout: 5 * time.Second})

	require.NoError(t, d.Notify(context.Background(), confirmed("a@example.com")))
	<-sender.started

	require.NoError(t, d.Notify(context.Background(), confirmed("b@example.com")))
	err := d.Notify(context.Background(), confirmed("c@example.com"))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(sender.release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_BreakerOpensAfterFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	d := NewDispatcher(sender, nil, DispatcherConfig{
		Workers:          1,
		QueueSize:        8,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, d.Notify(context.Background(), confirmed("guest@example.com")))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 2, sender.count())
}

func TestLogSender(t *testing.T) {
	s := NewLogSender(nil)
	assert.NoError(t, s.Send(context.Background(), confirmed("guest@example.com")))
	assert.ErrorIs(t, s.Send(context.Background(), Notification{Kind: KindAppointmentConfirmed}), ErrNoRecipient)
}

func TestSMTPSender_BuildMessage(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com"})

	_, err := s.buildMessage(Notification{Kind: KindAppointmentCancelled})
	assert.ErrorIs(t, err, ErrNoRecipient)

	msg, err := s.buildMessage(confirmed("guest@example.com"))
	require.NoError(t, err)
	assert.Equal(t, []string{"guest@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Your consultation is confirmed"}, msg.GetHeader("Subject"))
}
