package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, true
	}
	return "", false
}

const (
	EntityAppointment = "appointment"
	EntitySlot        = "slot"
	EntityTopic       = "topic"
	EntityUser        = "user"
	EntityConsultant  = "consultant"
)

// SlotDuration is the only bookable slot length.
const SlotDuration = time.Hour

// Slot is a bookable hour. A nil ConsultantID marks a pool slot whose
// booking waits for a consultant to claim it.
type Slot struct {
	ID           uuid.UUID
	ConsultantID *uuid.UUID
	Date         caltime.Date
	StartTime    caltime.TimeOfDay
	EndTime      caltime.TimeOfDay
	Available    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Appointment struct {
	ID           uuid.UUID
	CustomerName string
	PhoneNumber  string
	Email        string

	TopicID   uuid.UUID
	TopicName string

	ConsultantID *uuid.UUID
	SlotID       *uuid.UUID

	AppointmentDate caltime.Date
	AppointmentTime caltime.TimeOfDay

	IsGuest bool
	UserID  *uuid.UUID

	Status     Status
	MeetingURL string

	CheckInAt      *time.Time
	CheckOutAt     *time.Time
	ConsultantNote string
	CancelReason   string

	ReviewScore *int
	ReviewText  string
	Reviewed    bool

	// Version is bumped on every update and guards against lost updates.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unassigned reports whether no consultant has been bound yet.
func (a *Appointment) Unassigned() bool {
	return a.ConsultantID == nil
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentClaimed       = "APPOINTMENT_CLAIMED"
	EventAppointmentStatusUpdated = "APPOINTMENT_STATUS_UPDATED"
	EventAppointmentStarted       = "APPOINTMENT_STARTED"
	EventAppointmentCompleted     = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentReviewed      = "APPOINTMENT_REVIEWED"
)
