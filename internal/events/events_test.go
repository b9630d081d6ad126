package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/db"
	redisclient "github.com/hackgods/consultation-scheduling/internal/redis"
)

type fakePublisher struct {
	published []appointment.EventLog
	failOn    int64
}

func (p *fakePublisher) Publish(_ context.Context, ev appointment.EventLog) error {
	if ev.ID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type passLocker struct{ keys []string }

func (l *passLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

func setupStore(t *testing.T, n int) *appointment.SQLiteRepository {
	t.Helper()

	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.MigrateSQLite(ctx, sqlDB))

	repo := appointment.NewSQLiteRepository(sqlDB)
	for i := 0; i < n; i++ {
		id := uuid.New()
		require.NoError(t, repo.InsertEvent(ctx, appointment.EventLog{
			EventType:     appointment.EventAppointmentCreated,
			AppointmentID: &id,
			Payload:       []byte(`{"status":"CONFIRMED"}`),
		}))
	}
	return repo
}

func TestRelay_PublishesInOrderAndMarks(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 3)
	pub := &fakePublisher{}
	locker := &passLocker{}

	relay := NewRelay(store, pub, locker, nil, RelayConfig{BatchSize: 10})

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.published, 3)
	assert.Less(t, pub.published[0].ID, pub.published[2].ID)
	assert.Equal(t, []string{"event-relay"}, locker.keys)

	n, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 3)

	evs, err := store.FetchUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evs, 3)

	pub := &fakePublisher{failOn: evs[1].ID}
	relay := NewRelay(store, pub, nil, nil, RelayConfig{})

	n, err := relay.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	left, err := store.FetchUnpublishedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, evs[1].ID, left[0].ID)
}

func TestRelay_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, 2)
	pub := &fakePublisher{}

	n, err := NewRelay(store, pub, busyLocker{}, nil, RelayConfig{}).RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.published)
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{w: w}
	id := uuid.New()

	require.NoError(t, p.Publish(context.Background(), appointment.EventLog{
		ID:            42,
		EventType:     appointment.EventAppointmentCancelled,
		AppointmentID: &id,
		Payload:       []byte(`{}`),
	}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, id.String(), string(msg.Key))
	assert.Equal(t, []kafka.Header{
		{Key: "event_id", Value: []byte("42")},
		{Key: "event_type", Value: []byte("APPOINTMENT_CANCELLED")},
	}, msg.Headers)
}

type recordingChannel struct {
	keys []string
	msgs []amqp.Publishing
}

func (c *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, key)
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Close() error { return nil }

func TestAMQPPublisher(t *testing.T) {
	ch := &recordingChannel{}
	p := &AMQPPublisher{channel: ch, exchange: "scheduling", logger: NewLogPublisher(nil).logger}

	require.NoError(t, p.Publish(context.Background(), appointment.EventLog{
		ID:        7,
		EventType: appointment.EventAppointmentStatusUpdated,
		Payload:   []byte(`{"to":"CANCELLED"}`),
	}))

	assert.Equal(t, []string{"appointment.status_updated"}, ch.keys)
	assert.Equal(t, uint8(amqp.Persistent), ch.msgs[0].DeliveryMode)
	assert.Equal(t, "7", ch.msgs[0].MessageId)
	assert.NoError(t, p.Close())
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "appointment.created", RoutingKey(appointment.EventAppointmentCreated))
	assert.Equal(t, "appointment.reviewed", RoutingKey(appointment.EventAppointmentReviewed))
	assert.Equal(t, "slot_deleted", RoutingKey("SLOT_DELETED"))
}
