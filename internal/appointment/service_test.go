package appointment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
	"github.com/hackgods/consultation-scheduling/internal/notify"
)

func TestService_GuestBookingScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, 1, 9)

	a := f.bookAsGuest(t, slot, "linh@example.com")

	assert.Equal(t, appointment.StatusConfirmed, a.Status)
	require.NotNil(t, a.ConsultantID)
	assert.Equal(t, f.consultant.ID, *a.ConsultantID)
	assert.Equal(t, caltime.NewDate(2025, time.May, 1), a.AppointmentDate)
	assert.Equal(t, caltime.NewTimeOfDay(9, 0), a.AppointmentTime)
	assert.True(t, a.IsGuest)
	assert.Equal(t, "Study stress", a.TopicName)

	got, err := f.repo.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)

	assert.Equal(t, []notify.Kind{notify.KindAppointmentConfirmed}, f.notifier.kinds())

	// check-in, then the minimum duration guard on check-out
	_, err = f.svc.Start(ctx, a.ID, f.consultant.ID)
	require.NoError(t, err)

	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.End(ctx, a.ID, f.consultant.ID, "note")
	require.ErrorIs(t, err, appointment.ErrInvalidTransition)
	assert.ErrorIs(t, err, appointment.ErrSessionTooShort)

	f.clock.Advance(6 * time.Minute)
	done, err := f.svc.End(ctx, a.ID, f.consultant.ID, "note")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, done.Status)
	assert.Equal(t, "note", done.ConsultantNote)

	// guest cancellation: wrong email first, then a finished appointment
	_, err = f.svc.CancelByGuest(ctx, a.ID, "other@example.com")
	require.ErrorIs(t, err, appointment.ErrUnauthorized)

	_, err = f.svc.CancelByGuest(ctx, a.ID, "linh@example.com")
	require.ErrorIs(t, err, appointment.ErrInvalidTransition)
	assert.ErrorIs(t, err, appointment.ErrAlreadyFinalized)

	stored, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CheckInAt)
	require.NotNil(t, stored.CheckOutAt)
	assert.Equal(t, 11*time.Minute, stored.CheckOutAt.Sub(*stored.CheckInAt))
}

func TestService_NoDoubleBooking(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, 1, 9)

	const bookers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)

	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), appointment.BookingRequest{
				Customer: appointment.Customer{Name: "Guest", Email: uuid.NewString()[:8] + "@example.com"},
				TopicID:  f.topic.ID,
				SlotID:   slot.ID,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, appointment.ErrSlotAlreadyReserved):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, bookers-1, conflicts)

	booked, err := f.svc.ListByConsultant(context.Background(), f.consultant.ID)
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestService_SlotRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, 1, 9)

	first := f.bookAsMember(t, slot)

	_, err := f.svc.CancelByUser(ctx, first.ID, uuid.New())
	require.ErrorIs(t, err, appointment.ErrUnauthorized)

	cancelled, err := f.svc.CancelByUser(ctx, first.ID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	got, err := f.repo.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)

	second := f.bookAsGuest(t, slot, "second@example.com")
	assert.Equal(t, appointment.StatusConfirmed, second.Status)
}

func TestService_ConsultantCancelKeepsReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, 1, 9)
	a := f.bookAsGuest(t, slot, "linh@example.com")

	other := f.addUser(t, "Le Hoa", appointment.RoleConsultant)
	_, err := f.svc.CancelByConsultant(ctx, a.ID, other.ID, "sick")
	require.ErrorIs(t, err, appointment.ErrUnauthorized)
	assert.ErrorIs(t, err, appointment.ErrConsultantMismatch)

	cancelled, err := f.svc.CancelByConsultant(ctx, a.ID, f.consultant.ID, "sick")
	require.NoError(t, err)
	assert.Equal(t, "sick", cancelled.CancelReason)
	assert.Empty(t, cancelled.ConsultantNote)

	_, err = f.svc.Start(ctx, a.ID, f.consultant.ID)
	assert.ErrorIs(t, err, appointment.ErrNotConfirmed)

	assert.Equal(t, []notify.Kind{notify.KindAppointmentConfirmed, notify.KindAppointmentCancelled}, f.notifier.kinds())
}

func TestService_PoolSlotClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.poolSlot(t, 1, 9)
	rival := f.addUser(t, "Le Hoa", appointment.RoleConsultant)

	a := f.bookAsGuest(t, pool, "linh@example.com")
	assert.Equal(t, appointment.StatusPending, a.Status)
	assert.Nil(t, a.ConsultantID)
	assert.Empty(t, f.notifier.kinds())

	unassigned, err := f.svc.ListUnassigned(ctx)
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	assert.Equal(t, a.ID, unassigned[0].ID)

	var (
		wg     sync.WaitGroup
		errs   = make([]error, 2)
		actors = []uuid.UUID{f.consultant.ID, rival.ID}
	)
	for i := range actors {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Claim(ctx, a.ID, actors[i])
		}(i)
	}
	wg.Wait()

	var winners int
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.ErrorIs(t, err, appointment.ErrInvalidTransition)
		assert.ErrorIs(t, err, appointment.ErrAlreadyClaimed)
	}
	assert.Equal(t, 1, winners)

	claimed, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, claimed.Status)
	require.NotNil(t, claimed.ConsultantID)
	assert.Equal(t, []notify.Kind{notify.KindStatusChanged}, f.notifier.kinds())

	unassigned, err = f.svc.ListUnassigned(ctx)
	require.NoError(t, err)
	assert.Empty(t, unassigned)
}

func TestService_UpdateStatusBindsUnassigned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pool := f.poolSlot(t, 1, 9)
	a := f.bookAsGuest(t, pool, "linh@example.com")

	_, err := f.svc.UpdateStatus(ctx, a.ID, appointment.StatusPending, f.consultant.ID)
	require.ErrorIs(t, err, appointment.ErrValidation)

	updated, err := f.svc.UpdateStatus(ctx, a.ID, appointment.StatusConfirmed, f.consultant.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusConfirmed, updated.Status)
	assert.Equal(t, f.consultant.ID, *updated.ConsultantID)
	assert.Equal(t, []notify.Kind{notify.KindStatusChanged}, f.notifier.kinds())

	updated, err = f.svc.UpdateStatus(ctx, a.ID, appointment.StatusCancelled, f.consultant.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, updated.Status)
	assert.Equal(t, []notify.Kind{notify.KindStatusChanged, notify.KindAppointmentCancelled}, f.notifier.kinds())

	got, err := f.repo.GetSlot(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
}

func TestService_ReviewOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookAsGuest(t, f.slot(t, 1, 9), "linh@example.com")

	_, err := f.svc.ReviewByGuest(ctx, a.ID, "linh@example.com", 5, "early")
	require.ErrorIs(t, err, appointment.ErrInvalidTransition)

	_, err = f.svc.Start(ctx, a.ID, f.consultant.ID)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.End(ctx, a.ID, f.consultant.ID, "")
	require.NoError(t, err)

	reviewed, err := f.svc.ReviewByGuest(ctx, a.ID, "LINH@example.com", 5, "very helpful")
	require.NoError(t, err)
	assert.True(t, reviewed.Reviewed)
	require.NotNil(t, reviewed.ReviewScore)
	assert.Equal(t, 5, *reviewed.ReviewScore)

	_, err = f.svc.ReviewByGuest(ctx, a.ID, "linh@example.com", 3, "again")
	require.ErrorIs(t, err, appointment.ErrConflict)
	assert.ErrorIs(t, err, appointment.ErrAlreadyReviewed)

	_, err = f.svc.Review(ctx, a.ID, f.member.ID, 4, "not mine")
	assert.ErrorIs(t, err, appointment.ErrUnauthorized)
}

func TestService_BookingValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slot := f.slot(t, 1, 9)

	book := func(c appointment.Customer, topicID uuid.UUID) error {
		_, err := f.svc.CreateAppointment(ctx, appointment.BookingRequest{Customer: c, TopicID: topicID, SlotID: slot.ID})
		return err
	}

	err := book(appointment.Customer{Email: "a@example.com"}, f.topic.ID)
	assert.ErrorIs(t, err, appointment.ErrRequired)

	err = book(appointment.Customer{Name: "A"}, f.topic.ID)
	assert.ErrorIs(t, err, appointment.ErrRequired)

	err = book(appointment.Customer{Name: "A", Email: "not-an-email"}, f.topic.ID)
	assert.ErrorIs(t, err, appointment.ErrInvalidEmail)

	err = book(appointment.Customer{Name: "A", Email: "a@example.com", Phone: "12"}, f.topic.ID)
	assert.ErrorIs(t, err, appointment.ErrInvalidPhone)

	err = book(appointment.Customer{Name: "A", Email: "a@example.com"}, uuid.New())
	require.ErrorIs(t, err, appointment.ErrNotFound)
	assert.ErrorIs(t, err, appointment.ErrTopicNotFound)

	inactive := &appointment.Topic{Name: "Archived", Active: false}
	require.NoError(t, f.dir.CreateTopic(ctx, inactive))
	err = book(appointment.Customer{Name: "A", Email: "a@example.com"}, inactive.ID)
	assert.ErrorIs(t, err, appointment.ErrTopicNotFound)

	_, err = f.svc.CreateAppointment(ctx, appointment.BookingRequest{
		Customer: appointment.Customer{Name: "A", Email: "a@example.com"},
		TopicID:  f.topic.ID,
		SlotID:   uuid.New(),
	})
	assert.ErrorIs(t, err, appointment.ErrSlotNotFound)

	// nothing above may have reserved the slot
	got, err := f.repo.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)

	a, err := f.svc.CreateAppointment(ctx, appointment.BookingRequest{
		Customer: appointment.Customer{Name: "A", Email: "a@example.com", Phone: "0912345678"},
		TopicID:  f.topic.ID,
		SlotID:   slot.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "+84912345678", a.PhoneNumber)
}

func TestService_MemberBookingUsesAccountEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.bookAsMember(t, f.slot(t, 1, 9))
	assert.False(t, a.IsGuest)
	assert.Equal(t, f.member.Email, a.Email)
	assert.Equal(t, f.member.ID, *a.UserID)

	mine, err := f.svc.ListByUser(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	// member bookings are not visible through the guest lookup
	guest, err := f.svc.ListByGuestEmail(ctx, f.member.Email)
	require.NoError(t, err)
	assert.Empty(t, guest)
}

func TestService_GuestListMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.bookAsGuest(t, f.slot(t, 2, 9), "linh@example.com")
	late := f.bookAsGuest(t, f.slot(t, 3, 9), "linh@example.com")
	f.bookAsGuest(t, f.slot(t, 4, 9), "someone@example.com")

	list, err := f.svc.ListByGuestEmail(ctx, "Linh@Example.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, late.ID, list[0].ID)
	assert.Equal(t, early.ID, list[1].ID)

	_, err = f.svc.ListByGuestEmail(ctx, " ")
	assert.ErrorIs(t, err, appointment.ErrValidation)
}

func TestService_ConsultantHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := f.bookAsGuest(t, f.slot(t, 1, 9), "a@example.com")
	cancelled := f.bookAsGuest(t, f.slot(t, 1, 10), "b@example.com")
	completed := f.bookAsGuest(t, f.slot(t, 1, 11), "c@example.com")

	_, err := f.svc.CancelByGuest(ctx, cancelled.ID, "b@example.com")
	require.NoError(t, err)
	_, err = f.svc.Start(ctx, completed.ID, f.consultant.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.svc.End(ctx, completed.ID, f.consultant.ID, "done")
	require.NoError(t, err)

	history, err := f.svc.ListConsultantHistory(ctx, f.consultant.ID)
	require.NoError(t, err)
	ids := make([]uuid.UUID, 0, len(history))
	for _, a := range history {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []uuid.UUID{cancelled.ID, completed.ID}, ids)
	assert.NotContains(t, ids, open.ID)

	all, err := f.svc.ListByConsultant(ctx, f.consultant.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestService_NotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = notify.ErrQueueFull
	ctx := context.Background()

	a := f.bookAsGuest(t, f.slot(t, 1, 9), "linh@example.com")

	cancelled, err := f.svc.CancelByGuest(ctx, a.ID, "linh@example.com")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	stored, err := f.svc.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, stored.Status)
}

func TestService_WritesOutboxEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.bookAsGuest(t, f.slot(t, 1, 9), "linh@example.com")

	_, err := f.svc.Start(ctx, a.ID, f.consultant.ID)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)
	_, err = f.svc.End(ctx, a.ID, f.consultant.ID, "")
	require.NoError(t, err)

	// a rejected transition leaves no event behind
	_, err = f.svc.End(ctx, a.ID, f.consultant.ID, "")
	require.Error(t, err)

	evs, err := f.repo.FetchUnpublishedEvents(ctx, 10)
	require.NoError(t, err)

	types := make([]string, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.EventType)
		require.NotNil(t, ev.AppointmentID)
		assert.Equal(t, a.ID, *ev.AppointmentID)
	}
	assert.Equal(t, []string{
		appointment.EventAppointmentCreated,
		appointment.EventAppointmentStarted,
		appointment.EventAppointmentCompleted,
	}, types)
}

func TestService_ListAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := caltime.NewDate(2025, time.April, 30)

	_, err := f.svc.CreateSlot(ctx, f.consultant.ID, today, caltime.NewTimeOfDay(9, 0), caltime.NewTimeOfDay(10, 0))
	require.NoError(t, err)
	later, err := f.svc.CreateSlot(ctx, f.consultant.ID, today, caltime.NewTimeOfDay(11, 0), caltime.NewTimeOfDay(12, 0))
	require.NoError(t, err)
	booked := f.slot(t, 1, 9)
	free := f.slot(t, 1, 10)
	f.bookAsGuest(t, booked, "linh@example.com")
	f.poolSlot(t, 1, 9)

	f.clock.Advance(90 * time.Minute) // 09:30

	slots, err := f.svc.ListAvailableSlots(ctx, &f.consultant.ID, nil)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, later.ID, slots[0].ID)

	may1 := caltime.NewDate(2025, time.May, 1)
	slots, err = f.svc.ListAvailableSlots(ctx, &f.consultant.ID, &may1)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, free.ID, slots[0].ID)

	pool, err := f.svc.ListAvailableSlots(ctx, nil, &may1)
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Nil(t, pool[0].ConsultantID)

	yesterday := today.AddDays(-1)
	slots, err = f.svc.ListAvailableSlots(ctx, &f.consultant.ID, &yesterday)
	require.NoError(t, err)
	assert.Empty(t, slots)

	all, err := f.svc.ListConsultantSlots(ctx, f.consultant.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	for _, s := range all {
		assert.NotEqual(t, booked.ID, s.ID)
	}
}

func TestService_ListAppointmentsPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for hour := 8; hour < 13; hour++ {
		f.bookAsGuest(t, f.slot(t, 1, hour), "linh@example.com")
	}

	page, err := f.svc.ListAppointments(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, caltime.NewTimeOfDay(12, 0), page[0].AppointmentTime)

	rest, err := f.svc.ListAppointments(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, caltime.NewTimeOfDay(8, 0), rest[0].AppointmentTime)

	all, err := f.svc.ListAppointments(ctx, 0, -3)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestService_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.svc.GetAppointment(ctx, missing)
	require.ErrorIs(t, err, appointment.ErrNotFound)
	e, ok := appointment.AsError(err)
	require.True(t, ok)
	assert.Equal(t, appointment.EntityAppointment, e.Entity)
	assert.Equal(t, missing.String(), e.ID)

	_, err = f.svc.Start(ctx, missing, f.consultant.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	_, err = f.svc.Claim(ctx, missing, uuid.New())
	assert.ErrorIs(t, err, appointment.ErrConsultantNotFound)
}

func TestService_ListsRejectUnknownAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := uuid.New()

	_, err := f.svc.ListByUser(ctx, missing)
	require.ErrorIs(t, err, appointment.ErrUserNotFound)
	e, ok := appointment.AsError(err)
	require.True(t, ok)
	assert.Equal(t, appointment.EntityUser, e.Entity)
	assert.Equal(t, missing.String(), e.ID)

	_, err = f.svc.ListByConsultant(ctx, missing)
	assert.ErrorIs(t, err, appointment.ErrConsultantNotFound)
	_, err = f.svc.ListConsultantHistory(ctx, missing)
	assert.ErrorIs(t, err, appointment.ErrConsultantNotFound)
	_, err = f.svc.ListAvailableSlots(ctx, &missing, nil)
	assert.ErrorIs(t, err, appointment.ErrConsultantNotFound)
	_, err = f.svc.ListConsultantSlots(ctx, missing)
	assert.ErrorIs(t, err, appointment.ErrConsultantNotFound)

	// a member is not a consultant
	_, err = f.svc.ListConsultantSlots(ctx, f.member.ID)
	assert.ErrorIs(t, err, appointment.ErrNotFound)

	mine, err := f.svc.ListByUser(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
