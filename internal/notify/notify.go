// Package notify delivers customer notifications about appointment changes.
package notify

import (
	"context"
	"errors"
)

type Kind string

const (
	KindAppointmentConfirmed Kind = "appointment_confirmed"
	KindAppointmentCancelled Kind = "appointment_cancelled"
	KindAppointmentCompleted Kind = "appointment_completed"
	KindStatusChanged        Kind = "appointment_status_changed"
)

// Payload keys understood by the templates.
const (
	KeyCustomerName   = "customer_name"
	KeyAppointmentID  = "appointment_id"
	KeyTopic          = "topic"
	KeyDate           = "date"
	KeyTime           = "time"
	KeyPreviousStatus = "previous_status"
	KeyStatus         = "status"
	KeyMeetingURL     = "meeting_url"
	KeyReason         = "reason"
)

type Notification struct {
	Recipient string
	Kind      Kind
	Payload   map[string]string
}

var (
	ErrQueueFull   = errors.New("notification queue is full")
	ErrClosed      = errors.New("notification dispatcher is closed")
	ErrNoRecipient = errors.New("notification has no recipient")
	ErrUnknownKind = errors.New("unknown notification kind")
)

// Sender delivers a single notification synchronously.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}
