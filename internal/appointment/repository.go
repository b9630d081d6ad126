package appointment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// SlotStore persists slots. Lookups of missing rows return ErrSlotNotFound.
type SlotStore interface {
	InsertSlot(ctx context.Context, s *Slot) error
	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindSlot(ctx context.Context, consultantID uuid.UUID, date caltime.Date, start caltime.TimeOfDay) (*Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error)

	// ReserveSlot flips availability from true to false and reports whether
	// this call made the change.
	ReserveSlot(ctx context.Context, id uuid.UUID) (bool, error)
	// ReleaseSlot marks the slot available and reports whether it exists.
	ReleaseSlot(ctx context.Context, id uuid.UUID) (bool, error)
	// DeleteAvailableSlot removes the slot only while it is available.
	DeleteAvailableSlot(ctx context.Context, id uuid.UUID) (bool, error)
}

// AppointmentStore persists appointments and their event log. Lookups of
// missing rows return ErrAppointmentNotFound.
type AppointmentStore interface {
	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// LockAppointment reads the appointment and holds it until the
	// surrounding transaction ends.
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointment writes a, provided the stored version still equals
	// expectedVersion, and bumps a.Version.
	UpdateAppointment(ctx context.Context, a *Appointment, expectedVersion int) error
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	SlotStore
	AppointmentStore

	// InTx runs fn against a transactional view of the repository. The
	// transaction commits when fn returns nil.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

type SlotFilter struct {
	ConsultantID *uuid.UUID
	// Pool selects slots with no consultant. It overrides ConsultantID.
	Pool          bool
	Date          *caltime.Date
	FromDate      *caltime.Date
	OnlyAvailable bool
}

type AppointmentFilter struct {
	GuestEmail   string
	UserID       *uuid.UUID
	ConsultantID *uuid.UUID
	Unassigned   bool
	Statuses     []Status

	// OldestFirst orders by appointment date and time ascending instead of
	// most recent first.
	OldestFirst bool
	Limit       int
	Offset      int
}

// placeholderFunc renders the n-th (1-based) bind parameter.
type placeholderFunc func(n int) string

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
func questionPlaceholder(int) string { return "?" }

type whereBuilder struct {
	ph    placeholderFunc
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", w.ph(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return w.ph(len(w.args))
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// buildAppointmentQuery renders the WHERE, ORDER BY and paging clauses for f.
// Values are passed through conv so each driver can pick its own encoding.
func buildAppointmentQuery(f AppointmentFilter, ph placeholderFunc, conv func(any) any) (string, []any) {
	w := &whereBuilder{ph: ph}

	if f.GuestEmail != "" {
		w.add("is_guest = ? AND lower(email) = lower(?)", conv(true), f.GuestEmail)
	}
	if f.UserID != nil {
		w.add("user_id = ?", conv(*f.UserID))
	}
	if f.ConsultantID != nil {
		w.add("consultant_id = ?", conv(*f.ConsultantID))
	}
	if f.Unassigned {
		w.conds = append(w.conds, "consultant_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = w.next(string(st))
		}
		w.conds = append(w.conds, "status IN ("+strings.Join(marks, ", ")+")")
	}

	q := w.clause()
	if f.OldestFirst {
		q += " ORDER BY appointment_date ASC, appointment_time ASC, created_at ASC"
	} else {
		q += " ORDER BY appointment_date DESC, appointment_time DESC, created_at DESC"
	}
	if f.Limit > 0 {
		q += " LIMIT " + w.next(f.Limit) + " OFFSET " + w.next(f.Offset)
	}
	return q, w.args
}

func buildSlotQuery(f SlotFilter, ph placeholderFunc, conv func(any) any) (string, []any) {
	w := &whereBuilder{ph: ph}

	switch {
	case f.Pool:
		w.conds = append(w.conds, "consultant_id IS NULL")
	case f.ConsultantID != nil:
		w.add("consultant_id = ?", conv(*f.ConsultantID))
	}
	if f.Date != nil {
		w.add("slot_date = ?", conv(*f.Date))
	}
	if f.FromDate != nil {
		w.add("slot_date >= ?", conv(*f.FromDate))
	}
	if f.OnlyAvailable {
		w.add("available = ?", conv(true))
	}

	return w.clause() + " ORDER BY slot_date ASC, start_time ASC", w.args
}
