package appointment_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/directory"
	"github.com/hackgods/consultation-scheduling/internal/notify"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}

type fixture struct {
	svc      *appointment.Service
	repo     *appointment.SQLiteRepository
	dir      *directory.SQLDirectory
	clock    *testClock
	notifier *recordingNotifier

	topic      *appointment.Topic
	consultant *appointment.User
	member     *appointment.User
}

// the clock starts the day before the 2025-05-01 slots used by the tests
var fixtureStart = time.Date(2025, 4, 30, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.MigrateSQLite(ctx, sqlDB))

	f := &fixture{
		repo:     appointment.NewSQLiteRepository(sqlDB),
		dir:      directory.NewSQLDirectory(sqlDB),
		clock:    &testClock{t: fixtureStart},
		notifier: &recordingNotifier{},
	}

	f.topic = &appointment.Topic{Name: "Study stress", Active: true}
	require.NoError(t, f.dir.CreateTopic(ctx, f.topic))
	f.consultant = f.addUser(t, "Tran Minh", appointment.RoleConsultant)
	f.member = f.addUser(t, "Nguyen An", appointment.RoleMember)

	f.svc = appointment.NewService(f.repo, appointment.Collaborators{
		Topics:   f.dir,
		Users:    f.dir,
		Notifier: f.notifier,
	}, config.Defaults(), appointment.WithClock(f.clock.Now))

	return f
}

func (f *fixture) addUser(t *testing.T, name string, role appointment.Role) *appointment.User {
	t.Helper()
	u := &appointment.User{
		FullName: name,
		Email:    strings.ToLower(string(role)) + "-" + uuid.NewString()[:8] + "@example.com",
		Role:     role,
		Enabled:  true,
	}
	require.NoError(t, f.dir.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) slot(t *testing.T, day int, hour int) *appointment.Slot {
	t.Helper()
	s, err := f.svc.CreateSlot(context.Background(), f.consultant.ID,
		caltime.NewDate(2025, time.May, day),
		caltime.NewTimeOfDay(hour, 0),
		caltime.NewTimeOfDay(hour+1, 0),
	)
	require.NoError(t, err)
	return s
}

func (f *fixture) poolSlot(t *testing.T, day int, hour int) *appointment.Slot {
	t.Helper()
	s, err := f.svc.CreatePoolSlot(context.Background(),
		caltime.NewDate(2025, time.May, day),
		caltime.NewTimeOfDay(hour, 0),
		caltime.NewTimeOfDay(hour+1, 0),
	)
	require.NoError(t, err)
	return s
}

func (f *fixture) bookAsGuest(t *testing.T, slot *appointment.Slot, email string) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(context.Background(), appointment.BookingRequest{
		Customer: appointment.Customer{Name: "Linh", Email: email},
		TopicID:  f.topic.ID,
		SlotID:   slot.ID,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) bookAsMember(t *testing.T, slot *appointment.Slot) *appointment.Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(context.Background(), appointment.BookingRequest{
		Customer: appointment.Customer{Name: f.member.FullName},
		TopicID:  f.topic.ID,
		SlotID:   slot.ID,
		UserID:   &f.member.ID,
	})
	require.NoError(t, err)
	return a
}
