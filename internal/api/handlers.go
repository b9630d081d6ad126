package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// Slots

func (h *Handlers) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	consultantID, ok := parseID(w, req.ConsultantID, "consultant_id")
	if !ok {
		return
	}
	date, start, end, ok := parseSlotWindow(w, req)
	if !ok {
		return
	}

	slot, err := h.svc.CreateSlot(r.Context(), consultantID, date, start, end)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *Handlers) createPoolSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	date, start, end, ok := parseSlotWindow(w, req)
	if !ok {
		return
	}

	slot, err := h.svc.CreatePoolSlot(r.Context(), date, start, end)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(*slot))
}

func (h *Handlers) listConsultantAvailableSlots(w http.ResponseWriter, r *http.Request) {
	consultantID, ok := parseID(w, chi.URLParam(r, "consultantID"), "consultant_id")
	if !ok {
		return
	}
	date, ok := parseDateQuery(w, r)
	if !ok {
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), &consultantID, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotList(slots))
}

func (h *Handlers) listConsultantSlots(w http.ResponseWriter, r *http.Request) {
	consultantID, ok := parseID(w, chi.URLParam(r, "consultantID"), "consultant_id")
	if !ok {
		return
	}

	slots, err := h.svc.ListConsultantSlots(r.Context(), consultantID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotList(slots))
}

func (h *Handlers) listPoolSlots(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateQuery(w, r)
	if !ok {
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), nil, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotList(slots))
}

func (h *Handlers) deleteSlot(w http.ResponseWriter, r *http.Request) {
	slotID, ok := parseID(w, chi.URLParam(r, "id"), "slot_id")
	if !ok {
		return
	}
	consultantID, ok := parseID(w, r.URL.Query().Get("consultant_id"), "consultant_id")
	if !ok {
		return
	}

	if err := h.svc.DeleteSlot(r.Context(), slotID, consultantID); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Appointments

func (h *Handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	topicID, ok := parseID(w, req.TopicID, "topic_id")
	if !ok {
		return
	}
	slotID, ok := parseID(w, req.SlotID, "slot_id")
	if !ok {
		return
	}

	var userID *uuid.UUID
	if strings.TrimSpace(req.UserID) != "" {
		id, ok := parseID(w, req.UserID, "user_id")
		if !ok {
			return
		}
		userID = &id
	}

	appt, err := h.svc.CreateAppointment(r.Context(), appointment.BookingRequest{
		Customer: appointment.Customer{
			Name:  req.CustomerName,
			Phone: req.PhoneNumber,
			Email: req.Email,
		},
		TopicID:    topicID,
		SlotID:     slotID,
		UserID:     userID,
		MeetingURL: req.MeetingURL,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt, h.loc))
}

func (h *Handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "id"), "appointment_id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(*appt, h.loc))
}

func (h *Handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseIntQuery(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := parseIntQuery(w, r, "offset")
	if !ok {
		return
	}

	items, err := h.svc.ListAppointments(r.Context(), limit, offset)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := toAppointmentList(items, h.loc)
	resp.Limit, resp.Offset = pageBounds(limit, offset)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) listByGuestEmail(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListByGuestEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items, h.loc))
}

func (h *Handlers) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseID(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	items, err := h.svc.ListByUser(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items, h.loc))
}

func (h *Handlers) listByConsultant(w http.ResponseWriter, r *http.Request) {
	consultantID, ok := parseID(w, chi.URLParam(r, "consultantID"), "consultant_id")
	if !ok {
		return
	}

	items, err := h.svc.ListByConsultant(r.Context(), consultantID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items, h.loc))
}

func (h *Handlers) listConsultantHistory(w http.ResponseWriter, r *http.Request) {
	consultantID, ok := parseID(w, chi.URLParam(r, "consultantID"), "consultant_id")
	if !ok {
		return
	}

	items, err := h.svc.ListConsultantHistory(r.Context(), consultantID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items, h.loc))
}

func (h *Handlers) listUnassigned(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListUnassigned(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(items, h.loc))
}

// Transitions

// errResponded means the request was rejected and a 400 already written.
var errResponded = errors.New("response already written")

type transitionFunc func(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error)

// transition handles the shared part of every PUT on an appointment: parse
// the id, run fn and render the updated appointment.
func (h *Handlers) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, chi.URLParam(r, "id"), "appointment_id")
		if !ok {
			return
		}

		appt, err := fn(w, r, id)
		if errors.Is(err, errResponded) {
			return
		}
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt, h.loc))
	}
}

func (h *Handlers) claim(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req ConsultantActionRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	consultantID, ok := parseID(w, req.ConsultantID, "consultant_id")
	if !ok {
		return nil, errResponded
	}
	return h.svc.Claim(r.Context(), id, consultantID)
}

func (h *Handlers) updateStatus(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	consultantID, ok := parseID(w, req.ConsultantID, "consultant_id")
	if !ok {
		return nil, errResponded
	}
	status := appointment.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	return h.svc.UpdateStatus(r.Context(), id, status, consultantID)
}

func (h *Handlers) start(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req ConsultantActionRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	consultantID, ok := parseID(w, req.ConsultantID, "consultant_id")
	if !ok {
		return nil, errResponded
	}
	return h.svc.Start(r.Context(), id, consultantID)
}

func (h *Handlers) end(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req EndAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	consultantID, ok := parseID(w, req.ConsultantID, "consultant_id")
	if !ok {
		return nil, errResponded
	}
	return h.svc.End(r.Context(), id, consultantID, req.Note)
}

func (h *Handlers) cancelByConsultant(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req CancelByConsultantRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	consultantID, ok := parseID(w, req.ConsultantID, "consultant_id")
	if !ok {
		return nil, errResponded
	}
	return h.svc.CancelByConsultant(r.Context(), id, consultantID, req.Reason)
}

func (h *Handlers) cancelByUser(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req CancelByUserRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	userID, ok := parseID(w, req.UserID, "user_id")
	if !ok {
		return nil, errResponded
	}
	return h.svc.CancelByUser(r.Context(), id, userID)
}

func (h *Handlers) cancelByGuest(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req CancelByGuestRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	return h.svc.CancelByGuest(r.Context(), id, req.Email)
}

func (h *Handlers) review(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req ReviewRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	userID, ok := parseID(w, req.UserID, "user_id")
	if !ok {
		return nil, errResponded
	}
	return h.svc.Review(r.Context(), id, userID, req.Score, req.Text)
}

func (h *Handlers) reviewByGuest(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
	var req ReviewRequest
	if !decodeJSON(w, r, &req) {
		return nil, errResponded
	}
	return h.svc.ReviewByGuest(r.Context(), id, req.Email, req.Score, req.Text)
}

// Request parsing

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request_body",
			Kind:    kindValidation,
			Details: "could not parse JSON",
		})
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_" + field,
			Kind:    kindValidation,
			Details: field + " must be a valid UUID",
			Field:   field,
		})
		return uuid.Nil, false
	}
	return id, true
}

func parseSlotWindow(w http.ResponseWriter, req CreateSlotRequest) (caltime.Date, caltime.TimeOfDay, caltime.TimeOfDay, bool) {
	date, err := caltime.ParseDate(req.Date)
	if err != nil {
		writeFieldError(w, "invalid_date", err.Error(), "date")
		return caltime.Date{}, 0, 0, false
	}
	start, err := caltime.ParseTimeOfDay(req.StartTime)
	if err != nil {
		writeFieldError(w, "invalid_start_time", err.Error(), "start_time")
		return caltime.Date{}, 0, 0, false
	}
	end, err := caltime.ParseTimeOfDay(req.EndTime)
	if err != nil {
		writeFieldError(w, "invalid_end_time", err.Error(), "end_time")
		return caltime.Date{}, 0, 0, false
	}
	return date, start, end, true
}

func parseDateQuery(w http.ResponseWriter, r *http.Request) (*caltime.Date, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return nil, true
	}
	date, err := caltime.ParseDate(raw)
	if err != nil {
		writeFieldError(w, "invalid_date", err.Error(), "date")
		return nil, false
	}
	return &date, true
}

func parseIntQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeFieldError(w, "invalid_"+name, name+" must be an integer", name)
		return 0, false
	}
	return n, true
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Responses

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func writeFieldError(w http.ResponseWriter, code, details, field string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: code, Kind: kindValidation, Details: details, Field: field})
}

// handleServiceError renders a rejected operation. Anything that is not an
// *appointment.Error is an internal failure and is logged, not echoed.
func (h *Handlers) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := appointment.AsError(err)
	if !ok {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	writeJSON(w, statusFor(e), ErrorResponse{
		Error:           errorCode(e),
		Kind:            errorKind(e),
		Details:         e.Error(),
		Entity:          e.Entity,
		EntityID:        e.ID,
		Field:           e.Field,
		CurrentStatus:   string(e.From),
		AttemptedStatus: string(e.To),
	})
}

func statusFor(e *appointment.Error) int {
	switch {
	case errors.Is(e.Kind, appointment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e.Kind, appointment.ErrConflict),
		errors.Is(e.Kind, appointment.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(e.Kind, appointment.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(e.Kind, appointment.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

var reasonCodes = []struct {
	reason error
	code   string
}{
	{appointment.ErrTopicNotFound, "topic_not_found"},
	{appointment.ErrSlotNotFound, "slot_not_found"},
	{appointment.ErrAppointmentNotFound, "appointment_not_found"},
	{appointment.ErrUserNotFound, "user_not_found"},
	{appointment.ErrConsultantNotFound, "consultant_not_found"},

	{appointment.ErrSlotAlreadyReserved, "slot_already_reserved"},
	{appointment.ErrDuplicateSlot, "duplicate_slot"},
	{appointment.ErrSlotInUse, "slot_in_use"},
	{appointment.ErrAlreadyReviewed, "already_reviewed"},
	{appointment.ErrConcurrentUpdate, "concurrent_update"},

	{appointment.ErrAlreadyClaimed, "already_claimed"},
	{appointment.ErrNotPending, "not_pending"},
	{appointment.ErrNotConfirmed, "not_confirmed"},
	{appointment.ErrAlreadyStarted, "already_started"},
	{appointment.ErrNotStarted, "not_started"},
	{appointment.ErrSessionTooShort, "session_too_short"},
	{appointment.ErrAlreadyCompleted, "already_completed"},
	{appointment.ErrAlreadyFinalized, "already_finalized"},
	{appointment.ErrNotCompleted, "not_completed"},

	{appointment.ErrConsultantMismatch, "consultant_mismatch"},
	{appointment.ErrCustomerMismatch, "customer_mismatch"},
	{appointment.ErrSlotNotOwned, "slot_not_owned"},

	{appointment.ErrPastDateTime, "past_date_time"},
	{appointment.ErrInvalidDuration, "invalid_duration"},
	{appointment.ErrInvalidScore, "invalid_score"},
	{appointment.ErrInvalidStatus, "invalid_status"},
	{appointment.ErrRequired, "required"},
	{appointment.ErrInvalidEmail, "invalid_email"},
	{appointment.ErrInvalidPhone, "invalid_phone"},
}

func errorCode(e *appointment.Error) string {
	for _, rc := range reasonCodes {
		if errors.Is(e.Reason, rc.reason) {
			return rc.code
		}
	}
	if kind := errorKind(e); kind != kindValidation {
		return kind
	}
	return "validation_failed"
}

// Error kinds, one per appointment error class.
const (
	kindNotFound          = "not_found"
	kindConflict          = "conflict"
	kindInvalidTransition = "invalid_transition"
	kindUnauthorized      = "unauthorized"
	kindValidation        = "validation"
)

func errorKind(e *appointment.Error) string {
	switch {
	case errors.Is(e.Kind, appointment.ErrNotFound):
		return kindNotFound
	case errors.Is(e.Kind, appointment.ErrConflict):
		return kindConflict
	case errors.Is(e.Kind, appointment.ErrInvalidTransition):
		return kindInvalidTransition
	case errors.Is(e.Kind, appointment.ErrUnauthorized):
		return kindUnauthorized
	default:
		return kindValidation
	}
}
