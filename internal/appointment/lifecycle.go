package appointment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMinSession is the shortest consultation that may be closed.
const DefaultMinSession = 10 * time.Minute

// Transition describes a state change the engine applied to an appointment.
type Transition struct {
	From  Status
	To    Status
	Event string

	// ReleaseSlot asks the caller to hand the slot back to the allocator.
	ReleaseSlot bool
	// Notify asks the caller to tell the customer about the change.
	Notify bool
}

// Engine enforces the appointment state machine. It mutates appointments in
// memory only; persisting the result is the caller's job. Authorization is
// checked before state, so a stranger learns nothing about the appointment.
type Engine struct {
	now        func() time.Time
	minSession time.Duration
}

func NewEngine(now func() time.Time, minSession time.Duration) *Engine {
	if now == nil {
		now = time.Now
	}
	if minSession <= 0 {
		minSession = DefaultMinSession
	}
	return &Engine{now: now, minSession: minSession}
}

// Claim binds an unassigned pending appointment to consultantID.
func (e *Engine) Claim(a *Appointment, consultantID uuid.UUID) (Transition, error) {
	if !a.Unassigned() {
		return Transition{}, invalidTransition(a, StatusConfirmed, ErrAlreadyClaimed)
	}
	if a.Status != StatusPending {
		return Transition{}, invalidTransition(a, StatusConfirmed, ErrNotPending)
	}

	from := a.Status
	a.ConsultantID = &consultantID
	a.Status = StatusConfirmed
	return Transition{From: from, To: a.Status, Event: EventAppointmentClaimed, Notify: true}, nil
}

// UpdateStatus moves an open appointment to target on behalf of its
// consultant. An unassigned appointment is bound to the acting consultant.
func (e *Engine) UpdateStatus(a *Appointment, target Status, consultantID uuid.UUID) (Transition, error) {
	switch target {
	case StatusConfirmed, StatusCancelled, StatusCompleted:
	default:
		return Transition{}, invalid("status", ErrInvalidStatus)
	}
	if !a.Unassigned() && *a.ConsultantID != consultantID {
		return Transition{}, unauthorized(EntityAppointment, a.ID, ErrConsultantMismatch)
	}
	if a.Status.Terminal() {
		return Transition{}, invalidTransition(a, target, ErrAlreadyFinalized)
	}

	from := a.Status
	if a.Unassigned() {
		a.ConsultantID = &consultantID
	}
	a.Status = target
	return Transition{
		From:        from,
		To:          target,
		Event:       EventAppointmentStatusUpdated,
		ReleaseSlot: target == StatusCancelled,
		Notify:      from != target,
	}, nil
}

// Start checks the consultation in.
func (e *Engine) Start(a *Appointment, consultantID uuid.UUID) (Transition, error) {
	if err := e.requireConsultant(a, consultantID); err != nil {
		return Transition{}, err
	}
	if a.Status != StatusConfirmed {
		return Transition{}, invalidTransition(a, StatusConfirmed, ErrNotConfirmed)
	}
	if a.CheckInAt != nil {
		return Transition{}, invalidTransition(a, StatusConfirmed, ErrAlreadyStarted)
	}

	now := e.now()
	a.CheckInAt = &now
	return Transition{From: a.Status, To: a.Status, Event: EventAppointmentStarted}, nil
}

// End checks the consultation out and completes it.
func (e *Engine) End(a *Appointment, consultantID uuid.UUID, note string) (Transition, error) {
	if err := e.requireConsultant(a, consultantID); err != nil {
		return Transition{}, err
	}
	switch {
	case a.Status == StatusCompleted:
		return Transition{}, invalidTransition(a, StatusCompleted, ErrAlreadyCompleted)
	case a.Status != StatusConfirmed:
		return Transition{}, invalidTransition(a, StatusCompleted, ErrNotConfirmed)
	case a.CheckInAt == nil:
		return Transition{}, invalidTransition(a, StatusCompleted, ErrNotStarted)
	}

	now := e.now()
	if now.Sub(*a.CheckInAt) < e.minSession {
		return Transition{}, invalidTransition(a, StatusCompleted, ErrSessionTooShort)
	}

	from := a.Status
	a.CheckOutAt = &now
	a.ConsultantNote = note
	a.Status = StatusCompleted
	return Transition{From: from, To: a.Status, Event: EventAppointmentCompleted, Notify: true}, nil
}

func (e *Engine) CancelByConsultant(a *Appointment, consultantID uuid.UUID, reason string) (Transition, error) {
	if err := e.requireConsultant(a, consultantID); err != nil {
		return Transition{}, err
	}
	return e.cancel(a, reason)
}

func (e *Engine) CancelByUser(a *Appointment, userID uuid.UUID) (Transition, error) {
	if err := requireMember(a, userID); err != nil {
		return Transition{}, err
	}
	return e.cancel(a, "")
}

func (e *Engine) CancelByGuest(a *Appointment, email string) (Transition, error) {
	if err := requireGuest(a, email); err != nil {
		return Transition{}, err
	}
	return e.cancel(a, "")
}

func (e *Engine) cancel(a *Appointment, reason string) (Transition, error) {
	if a.Status.Terminal() {
		return Transition{}, invalidTransition(a, StatusCancelled, ErrAlreadyFinalized)
	}

	from := a.Status
	a.Status = StatusCancelled
	a.CancelReason = reason
	return Transition{
		From:        from,
		To:          a.Status,
		Event:       EventAppointmentCancelled,
		ReleaseSlot: true,
		Notify:      true,
	}, nil
}

// Review records the member's rating of a completed consultation.
func (e *Engine) Review(a *Appointment, userID uuid.UUID, score int, text string) (Transition, error) {
	if err := validateScore(score); err != nil {
		return Transition{}, err
	}
	if err := requireMember(a, userID); err != nil {
		return Transition{}, err
	}
	return e.review(a, score, text)
}

// ReviewByGuest records a guest's rating, matched by booking email.
func (e *Engine) ReviewByGuest(a *Appointment, email string, score int, text string) (Transition, error) {
	if err := validateScore(score); err != nil {
		return Transition{}, err
	}
	if err := requireGuest(a, email); err != nil {
		return Transition{}, err
	}
	return e.review(a, score, text)
}

func (e *Engine) review(a *Appointment, score int, text string) (Transition, error) {
	if a.Status != StatusCompleted {
		return Transition{}, invalidTransition(a, StatusCompleted, ErrNotCompleted)
	}
	if a.Reviewed {
		return Transition{}, conflict(EntityAppointment, a.ID, ErrAlreadyReviewed)
	}

	a.ReviewScore = &score
	a.ReviewText = text
	a.Reviewed = true
	return Transition{From: a.Status, To: a.Status, Event: EventAppointmentReviewed}, nil
}

func (e *Engine) requireConsultant(a *Appointment, consultantID uuid.UUID) error {
	if a.Unassigned() || *a.ConsultantID != consultantID {
		return unauthorized(EntityAppointment, a.ID, ErrConsultantMismatch)
	}
	return nil
}

func requireMember(a *Appointment, userID uuid.UUID) error {
	if a.IsGuest || a.UserID == nil || *a.UserID != userID {
		return unauthorized(EntityAppointment, a.ID, ErrCustomerMismatch)
	}
	return nil
}

func requireGuest(a *Appointment, email string) error {
	email = strings.TrimSpace(email)
	if !a.IsGuest || email == "" || !strings.EqualFold(a.Email, email) {
		return unauthorized(EntityAppointment, a.ID, ErrCustomerMismatch)
	}
	return nil
}

func validateScore(score int) error {
	if score < 1 || score > 5 {
		return invalid("score", ErrInvalidScore)
	}
	return nil
}
