package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func confirmedAppointment(consultantID uuid.UUID) *Appointment {
	return &Appointment{
		ID:           uuid.New(),
		CustomerName: "Linh",
		Email:        "linh@example.com",
		IsGuest:      true,
		ConsultantID: &consultantID,
		Status:       StatusConfirmed,
	}
}

func requireKind(t *testing.T, err error, kind, reason error) *Error {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	assert.ErrorIs(t, err, reason)
	e, ok := AsError(err)
	require.True(t, ok)
	return e
}

func TestEngine_StartEndMinimumDuration(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	eng := NewEngine(clock.now, 0)
	c := uuid.New()
	a := confirmedAppointment(c)

	_, err := eng.End(a, c, "too early")
	requireKind(t, err, ErrInvalidTransition, ErrNotStarted)

	tr, err := eng.Start(a, c)
	require.NoError(t, err)
	assert.Equal(t, EventAppointmentStarted, tr.Event)
	require.NotNil(t, a.CheckInAt)

	_, err = eng.Start(a, c)
	requireKind(t, err, ErrInvalidTransition, ErrAlreadyStarted)

	clock.advance(5 * time.Minute)
	_, err = eng.End(a, c, "note")
	e := requireKind(t, err, ErrInvalidTransition, ErrSessionTooShort)
	assert.Equal(t, StatusConfirmed, e.From)
	assert.Equal(t, StatusCompleted, e.To)
	assert.Nil(t, a.CheckOutAt)

	clock.advance(6 * time.Minute)
	tr, err = eng.End(a, c, "note")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, "note", a.ConsultantNote)
	assert.True(t, tr.Notify)
	require.NotNil(t, a.CheckOutAt)
	assert.True(t, a.CheckOutAt.After(*a.CheckInAt))

	_, err = eng.End(a, c, "again")
	requireKind(t, err, ErrInvalidTransition, ErrAlreadyCompleted)
}

func TestEngine_ConsultantAuthorization(t *testing.T) {
	eng := NewEngine(nil, 0)
	c := uuid.New()
	stranger := uuid.New()
	a := confirmedAppointment(c)

	_, err := eng.Start(a, stranger)
	requireKind(t, err, ErrUnauthorized, ErrConsultantMismatch)

	_, err = eng.End(a, stranger, "")
	requireKind(t, err, ErrUnauthorized, ErrConsultantMismatch)

	_, err = eng.CancelByConsultant(a, stranger, "busy")
	requireKind(t, err, ErrUnauthorized, ErrConsultantMismatch)

	_, err = eng.UpdateStatus(a, StatusCancelled, stranger)
	requireKind(t, err, ErrUnauthorized, ErrConsultantMismatch)

	assert.Equal(t, StatusConfirmed, a.Status)
}

func TestEngine_StartRequiresConfirmed(t *testing.T) {
	eng := NewEngine(nil, 0)
	c := uuid.New()
	a := confirmedAppointment(c)
	a.Status = StatusCancelled

	_, err := eng.Start(a, c)
	requireKind(t, err, ErrInvalidTransition, ErrNotConfirmed)
}

func TestEngine_Claim(t *testing.T) {
	eng := NewEngine(nil, 0)
	a := &Appointment{ID: uuid.New(), Status: StatusPending, IsGuest: true, Email: "g@example.com"}
	first, second := uuid.New(), uuid.New()

	tr, err := eng.Claim(a, first)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tr.From)
	assert.True(t, tr.Notify)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, first, *a.ConsultantID)

	_, err = eng.Claim(a, second)
	requireKind(t, err, ErrInvalidTransition, ErrAlreadyClaimed)
	assert.Equal(t, first, *a.ConsultantID)

	cancelled := &Appointment{ID: uuid.New(), Status: StatusCancelled}
	_, err = eng.Claim(cancelled, first)
	requireKind(t, err, ErrInvalidTransition, ErrNotPending)
}

func TestEngine_UpdateStatus(t *testing.T) {
	eng := NewEngine(nil, 0)
	c := uuid.New()

	t.Run("binds unassigned", func(t *testing.T) {
		a := &Appointment{ID: uuid.New(), Status: StatusPending}
		tr, err := eng.UpdateStatus(a, StatusConfirmed, c)
		require.NoError(t, err)
		assert.Equal(t, c, *a.ConsultantID)
		assert.False(t, tr.ReleaseSlot)
		assert.True(t, tr.Notify)
	})

	t.Run("same status is silent", func(t *testing.T) {
		a := confirmedAppointment(c)
		tr, err := eng.UpdateStatus(a, StatusConfirmed, c)
		require.NoError(t, err)
		assert.False(t, tr.Notify)
	})

	t.Run("cancel releases slot", func(t *testing.T) {
		a := confirmedAppointment(c)
		tr, err := eng.UpdateStatus(a, StatusCancelled, c)
		require.NoError(t, err)
		assert.True(t, tr.ReleaseSlot)
		assert.True(t, tr.Notify)
	})

	t.Run("rejects pending target", func(t *testing.T) {
		a := confirmedAppointment(c)
		_, err := eng.UpdateStatus(a, StatusPending, c)
		e := requireKind(t, err, ErrValidation, ErrInvalidStatus)
		assert.Equal(t, "status", e.Field)
	})

	t.Run("terminal is final", func(t *testing.T) {
		a := confirmedAppointment(c)
		a.Status = StatusCompleted
		_, err := eng.UpdateStatus(a, StatusCancelled, c)
		requireKind(t, err, ErrInvalidTransition, ErrAlreadyFinalized)
	})
}

func TestEngine_GuestCancel(t *testing.T) {
	eng := NewEngine(nil, 0)
	a := confirmedAppointment(uuid.New())

	_, err := eng.CancelByGuest(a, "someone@example.com")
	requireKind(t, err, ErrUnauthorized, ErrCustomerMismatch)

	tr, err := eng.CancelByGuest(a, " LINH@example.com ")
	require.NoError(t, err)
	assert.True(t, tr.ReleaseSlot)
	assert.Equal(t, StatusCancelled, a.Status)

	_, err = eng.CancelByGuest(a, "linh@example.com")
	requireKind(t, err, ErrInvalidTransition, ErrAlreadyFinalized)
}

func TestEngine_MemberCancel(t *testing.T) {
	eng := NewEngine(nil, 0)
	member := uuid.New()
	a := confirmedAppointment(uuid.New())
	a.IsGuest = false
	a.UserID = &member

	_, err := eng.CancelByUser(a, uuid.New())
	requireKind(t, err, ErrUnauthorized, ErrCustomerMismatch)

	_, err = eng.CancelByGuest(a, a.Email)
	requireKind(t, err, ErrUnauthorized, ErrCustomerMismatch)

	_, err = eng.CancelByUser(a, member)
	require.NoError(t, err)
}

func TestEngine_Review(t *testing.T) {
	eng := NewEngine(nil, 0)
	member := uuid.New()
	a := confirmedAppointment(uuid.New())
	a.IsGuest = false
	a.UserID = &member

	_, err := eng.Review(a, member, 5, "great")
	requireKind(t, err, ErrInvalidTransition, ErrNotCompleted)

	a.Status = StatusCompleted

	for _, score := range []int{0, 6, -1} {
		_, err = eng.Review(a, member, score, "")
		e := requireKind(t, err, ErrValidation, ErrInvalidScore)
		assert.Equal(t, "score", e.Field)
	}

	_, err = eng.Review(a, uuid.New(), 4, "")
	requireKind(t, err, ErrUnauthorized, ErrCustomerMismatch)

	_, err = eng.Review(a, member, 4, "helpful")
	require.NoError(t, err)
	assert.True(t, a.Reviewed)
	assert.Equal(t, 4, *a.ReviewScore)

	_, err = eng.Review(a, member, 5, "twice")
	requireKind(t, err, ErrConflict, ErrAlreadyReviewed)
	assert.Equal(t, 4, *a.ReviewScore)
}

func TestError_Message(t *testing.T) {
	a := confirmedAppointment(uuid.New())
	err := invalidTransition(a, StatusCompleted, ErrNotStarted)

	assert.Contains(t, err.Error(), "appointment has not been checked in")
	assert.Contains(t, err.Error(), a.ID.String())
	assert.Contains(t, err.Error(), "current status CONFIRMED, attempted COMPLETED")
	assert.False(t, errors.Is(err, ErrNotFound))
}
