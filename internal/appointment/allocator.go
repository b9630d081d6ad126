package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// Allocator hands out slots. Reserve is the only linearizable operation in
// the package: the store's conditional update decides the single winner.
type Allocator struct {
	slots SlotStore
	loc   *time.Location
	now   func() time.Time
}

func NewAllocator(slots SlotStore, loc *time.Location, now func() time.Time) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Allocator{slots: slots, loc: loc, now: now}
}

// WithStore returns a copy of the allocator bound to another store, usually
// a transaction.
func (a *Allocator) WithStore(slots SlotStore) *Allocator {
	cp := *a
	cp.slots = slots
	return &cp
}

// Reserve marks the slot unavailable for the caller and returns it.
func (a *Allocator) Reserve(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, err := a.slots.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, notFound(EntitySlot, slotID, ErrSlotNotFound)
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}

	if a.inPast(slot.Date, slot.StartTime) {
		e := invalid("slot_id", ErrPastDateTime)
		e.Entity, e.ID = EntitySlot, slotID.String()
		return nil, e
	}

	won, err := a.slots.ReserveSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Either someone else holds it or it was deleted in between.
		if _, err := a.slots.GetSlot(ctx, slotID); errors.Is(err, ErrSlotNotFound) {
			return nil, notFound(EntitySlot, slotID, ErrSlotNotFound)
		}
		return nil, conflict(EntitySlot, slotID, ErrSlotAlreadyReserved)
	}

	slot.Available = false
	return slot, nil
}

// Release makes the slot available again. Releasing an available slot is a
// no-op.
func (a *Allocator) Release(ctx context.Context, slotID uuid.UUID) error {
	ok, err := a.slots.ReleaseSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(EntitySlot, slotID, ErrSlotNotFound)
	}
	return nil
}

// ReleaseFor frees the slot held by appt. Appointments without a slot
// reference fall back to the consultant, date and time lookup.
func (a *Allocator) ReleaseFor(ctx context.Context, appt *Appointment) error {
	if appt.SlotID != nil {
		return a.Release(ctx, *appt.SlotID)
	}
	if appt.ConsultantID == nil {
		return notFound(EntitySlot, appt.ID, ErrSlotNotFound)
	}

	slot, err := a.slots.FindSlot(ctx, *appt.ConsultantID, appt.AppointmentDate, appt.AppointmentTime)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return notFound(EntitySlot, appt.ID, ErrSlotNotFound)
		}
		return fmt.Errorf("find slot: %w", err)
	}
	return a.Release(ctx, slot.ID)
}

// CreateSlot registers a one-hour slot. A nil consultant creates a pool slot.
func (a *Allocator) CreateSlot(ctx context.Context, consultantID *uuid.UUID, date caltime.Date, start, end caltime.TimeOfDay) (*Slot, error) {
	if date.IsZero() {
		return nil, invalid("date", ErrRequired)
	}
	if !start.Valid() {
		return nil, invalid("start_time", ErrRequired)
	}
	if !end.Valid() || end.Sub(start) != SlotDuration {
		return nil, invalid("end_time", ErrInvalidDuration)
	}
	if a.inPast(date, start) {
		return nil, invalid("date", ErrPastDateTime)
	}

	if consultantID != nil {
		existing, err := a.slots.FindSlot(ctx, *consultantID, date, start)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, fmt.Errorf("check duplicate slot: %w", err)
		}
		if existing != nil {
			return nil, conflict(EntitySlot, existing.ID, ErrDuplicateSlot)
		}
	}

	slot := &Slot{
		ConsultantID: consultantID,
		Date:         date,
		StartTime:    start,
		EndTime:      end,
		Available:    true,
	}
	if err := a.slots.InsertSlot(ctx, slot); err != nil {
		if errors.Is(err, ErrDuplicateSlot) {
			return nil, &Error{Kind: ErrConflict, Reason: ErrDuplicateSlot, Entity: EntitySlot}
		}
		return nil, err
	}
	return slot, nil
}

// DeleteSlot removes an available slot owned by consultantID.
func (a *Allocator) DeleteSlot(ctx context.Context, slotID, consultantID uuid.UUID) error {
	slot, err := a.slots.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return notFound(EntitySlot, slotID, ErrSlotNotFound)
		}
		return fmt.Errorf("load slot: %w", err)
	}
	if slot.ConsultantID == nil || *slot.ConsultantID != consultantID {
		return unauthorized(EntitySlot, slotID, ErrSlotNotOwned)
	}

	ok, err := a.slots.DeleteAvailableSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if !ok {
		return conflict(EntitySlot, slotID, ErrSlotInUse)
	}
	return nil
}

func (a *Allocator) inPast(d caltime.Date, t caltime.TimeOfDay) bool {
	return caltime.Combine(d, t, a.loc).Before(a.now())
}
