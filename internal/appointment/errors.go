package appointment

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every rejection returned by this package matches exactly one
// of these with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
)

// Not found reasons.
var (
	ErrTopicNotFound       = errors.New("topic not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrConsultantNotFound  = errors.New("consultant not found")
)

// Conflict reasons.
var (
	ErrSlotAlreadyReserved = errors.New("slot already reserved")
	ErrDuplicateSlot       = errors.New("slot already exists for consultant, date and start time")
	ErrSlotInUse           = errors.New("slot is reserved and cannot be deleted")
	ErrAlreadyReviewed     = errors.New("appointment already reviewed")
	ErrConcurrentUpdate    = errors.New("appointment was modified concurrently")
)

// Invalid transition reasons.
var (
	ErrAlreadyClaimed   = errors.New("appointment already has a consultant")
	ErrNotPending       = errors.New("appointment is not pending")
	ErrNotConfirmed     = errors.New("appointment is not confirmed")
	ErrAlreadyStarted   = errors.New("appointment already checked in")
	ErrNotStarted       = errors.New("appointment has not been checked in")
	ErrSessionTooShort  = errors.New("consultation has not reached the minimum duration")
	ErrAlreadyCompleted = errors.New("appointment already completed")
	ErrAlreadyFinalized = errors.New("appointment already completed or cancelled")
	ErrNotCompleted     = errors.New("appointment is not completed")
)

// Unauthorized reasons.
var (
	ErrConsultantMismatch = errors.New("consultant is not assigned to this appointment")
	ErrCustomerMismatch   = errors.New("caller does not own this appointment")
	ErrSlotNotOwned       = errors.New("slot belongs to another consultant")
)

// Validation reasons.
var (
	ErrPastDateTime    = errors.New("date and time are in the past")
	ErrInvalidDuration = errors.New("slot must last exactly one hour")
	ErrInvalidScore    = errors.New("review score must be between 1 and 5")
	ErrInvalidStatus   = errors.New("status must be CONFIRMED, CANCELLED or COMPLETED")
	ErrRequired        = errors.New("value is required")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidPhone    = errors.New("invalid phone number")
)

// Error is a rejected operation. Kind is one of the error kinds above and
// Reason the specific cause; both are reachable through errors.Is.
type Error struct {
	Kind   error
	Reason error

	Entity string
	ID     string

	// Current and attempted status, set for invalid transitions.
	From Status
	To   Status

	// Offending input, set for validation errors.
	Field string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason.Error())
	if e.Entity != "" && e.ID != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Entity, e.ID)
	}
	if e.From != "" {
		fmt.Fprintf(&b, ": current status %s", e.From)
		if e.To != "" {
			fmt.Fprintf(&b, ", attempted %s", e.To)
		}
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Reason}
}

func notFound(entity string, id fmt.Stringer, reason error) *Error {
	return &Error{Kind: ErrNotFound, Reason: reason, Entity: entity, ID: id.String()}
}

func conflict(entity string, id fmt.Stringer, reason error) *Error {
	return &Error{Kind: ErrConflict, Reason: reason, Entity: entity, ID: id.String()}
}

func unauthorized(entity string, id fmt.Stringer, reason error) *Error {
	return &Error{Kind: ErrUnauthorized, Reason: reason, Entity: entity, ID: id.String()}
}

func invalidTransition(a *Appointment, to Status, reason error) *Error {
	return &Error{
		Kind:   ErrInvalidTransition,
		Reason: reason,
		Entity: EntityAppointment,
		ID:     a.ID.String(),
		From:   a.Status,
		To:     to,
	}
}

func invalid(field string, reason error) *Error {
	return &Error{Kind: ErrValidation, Reason: reason, Field: field}
}

// AsError returns the *Error inside err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
