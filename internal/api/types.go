package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// Dates travel as dd/MM/yyyy, times of day as HH:mm and timestamps as
// dd/MM/yyyy HH:mm:ss.

type CreateSlotRequest struct {
	ConsultantID string `json:"consultant_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type SlotResponse struct {
	ID           uuid.UUID  `json:"id"`
	ConsultantID *uuid.UUID `json:"consultant_id"`
	Date         string     `json:"date"`
	StartTime    string     `json:"start_time"`
	EndTime      string     `json:"end_time"`
	Available    bool       `json:"available"`
}

type CreateAppointmentRequest struct {
	CustomerName string `json:"customer_name"`
	PhoneNumber  string `json:"phone_number"`
	Email        string `json:"email"`
	TopicID      string `json:"topic_id"`
	SlotID       string `json:"slot_id"`
	UserID       string `json:"user_id,omitempty"`
	MeetingURL   string `json:"meeting_url,omitempty"`
}

type ConsultantActionRequest struct {
	ConsultantID string `json:"consultant_id"`
}

type UpdateStatusRequest struct {
	ConsultantID string `json:"consultant_id"`
	Status       string `json:"status"`
}

type EndAppointmentRequest struct {
	ConsultantID string `json:"consultant_id"`
	Note         string `json:"note"`
}

type CancelByConsultantRequest struct {
	ConsultantID string `json:"consultant_id"`
	Reason       string `json:"reason"`
}

type CancelByUserRequest struct {
	UserID string `json:"user_id"`
}

type CancelByGuestRequest struct {
	Email string `json:"email"`
}

type ReviewRequest struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	Score  int    `json:"score"`
	Text   string `json:"text"`
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	CustomerName    string     `json:"customer_name"`
	PhoneNumber     string     `json:"phone_number,omitempty"`
	Email           string     `json:"email,omitempty"`
	TopicID         uuid.UUID  `json:"topic_id"`
	TopicName       string     `json:"topic_name"`
	ConsultantID    *uuid.UUID `json:"consultant_id"`
	SlotID          *uuid.UUID `json:"slot_id,omitempty"`
	AppointmentDate string     `json:"appointment_date"`
	AppointmentTime string     `json:"appointment_time"`
	IsGuest         bool       `json:"is_guest"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	Status          string     `json:"status"`
	MeetingURL      string     `json:"meeting_url,omitempty"`
	CheckInAt       string     `json:"check_in_at,omitempty"`
	CheckOutAt      string     `json:"check_out_at,omitempty"`
	ConsultantNote  string     `json:"consultant_note,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	ReviewScore     *int       `json:"review_score,omitempty"`
	ReviewText      string     `json:"review_text,omitempty"`
	IsReview        bool       `json:"is_review"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ErrorResponse struct {
	Error           string `json:"error"`
	Kind            string `json:"kind,omitempty"`
	Details         string `json:"details,omitempty"`
	Entity          string `json:"entity,omitempty"`
	EntityID        string `json:"entity_id,omitempty"`
	Field           string `json:"field,omitempty"`
	CurrentStatus   string `json:"current_status,omitempty"`
	AttemptedStatus string `json:"attempted_status,omitempty"`
}

func toSlotResponse(s appointment.Slot) SlotResponse {
	return SlotResponse{
		ID:           s.ID,
		ConsultantID: s.ConsultantID,
		Date:         s.Date.String(),
		StartTime:    s.StartTime.String(),
		EndTime:      s.EndTime.String(),
		Available:    s.Available,
	}
}

func toAppointmentResponse(a appointment.Appointment, loc *time.Location) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		CustomerName:    a.CustomerName,
		PhoneNumber:     a.PhoneNumber,
		Email:           a.Email,
		TopicID:         a.TopicID,
		TopicName:       a.TopicName,
		ConsultantID:    a.ConsultantID,
		SlotID:          a.SlotID,
		AppointmentDate: a.AppointmentDate.String(),
		AppointmentTime: a.AppointmentTime.String(),
		IsGuest:         a.IsGuest,
		UserID:          a.UserID,
		Status:          string(a.Status),
		MeetingURL:      a.MeetingURL,
		CheckInAt:       caltime.FormatTimestamp(a.CheckInAt, loc),
		CheckOutAt:      caltime.FormatTimestamp(a.CheckOutAt, loc),
		ConsultantNote:  a.ConsultantNote,
		CancelReason:    a.CancelReason,
		ReviewScore:     a.ReviewScore,
		ReviewText:      a.ReviewText,
		IsReview:        a.Reviewed,
		CreatedAt:       caltime.FormatTimestamp(&a.CreatedAt, loc),
		UpdatedAt:       caltime.FormatTimestamp(&a.UpdatedAt, loc),
	}
}

func toAppointmentList(items []appointment.Appointment, loc *time.Location) ListResponse[AppointmentResponse] {
	out := make([]AppointmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAppointmentResponse(a, loc))
	}
	return ListResponse[AppointmentResponse]{Items: out, Count: len(out)}
}

func toSlotList(items []appointment.Slot) ListResponse[SlotResponse] {
	out := make([]SlotResponse, 0, len(items))
	for _, s := range items {
		out = append(out, toSlotResponse(s))
	}
	return ListResponse[SlotResponse]{Items: out, Count: len(out)}
}
