package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// SchedulingService is the part of appointment.Service the API exposes.
type SchedulingService interface {
	CreateSlot(ctx context.Context, consultantID uuid.UUID, date caltime.Date, start, end caltime.TimeOfDay) (*appointment.Slot, error)
	CreatePoolSlot(ctx context.Context, date caltime.Date, start, end caltime.TimeOfDay) (*appointment.Slot, error)
	DeleteSlot(ctx context.Context, slotID, consultantID uuid.UUID) error
	ListAvailableSlots(ctx context.Context, consultantID *uuid.UUID, date *caltime.Date) ([]appointment.Slot, error)
	ListConsultantSlots(ctx context.Context, consultantID uuid.UUID) ([]appointment.Slot, error)

	CreateAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, limit, offset int) ([]appointment.Appointment, error)
	ListByGuestEmail(ctx context.Context, email string) ([]appointment.Appointment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]appointment.Appointment, error)
	ListByConsultant(ctx context.Context, consultantID uuid.UUID) ([]appointment.Appointment, error)
	ListUnassigned(ctx context.Context) ([]appointment.Appointment, error)
	ListConsultantHistory(ctx context.Context, consultantID uuid.UUID) ([]appointment.Appointment, error)

	Claim(ctx context.Context, id, consultantID uuid.UUID) (*appointment.Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status appointment.Status, consultantID uuid.UUID) (*appointment.Appointment, error)
	Start(ctx context.Context, id, consultantID uuid.UUID) (*appointment.Appointment, error)
	End(ctx context.Context, id, consultantID uuid.UUID, note string) (*appointment.Appointment, error)
	CancelByConsultant(ctx context.Context, id, consultantID uuid.UUID, reason string) (*appointment.Appointment, error)
	CancelByUser(ctx context.Context, id, userID uuid.UUID) (*appointment.Appointment, error)
	CancelByGuest(ctx context.Context, id uuid.UUID, email string) (*appointment.Appointment, error)
	Review(ctx context.Context, id, userID uuid.UUID, score int, text string) (*appointment.Appointment, error)
	ReviewByGuest(ctx context.Context, id uuid.UUID, email string, score int, text string) (*appointment.Appointment, error)
}

type Handlers struct {
	svc    SchedulingService
	loc    *time.Location
	logger *slog.Logger
}

type RouterConfig struct {
	Service  SchedulingService
	Logger   *slog.Logger
	Location *time.Location // zone timestamps are rendered in
	Env      string
	Version  string

	ReadyChecks []ReadyCheck
	CORSOrigins []string
	// RateLimit wraps the API routes when set. Health endpoints are exempt.
	RateLimit func(http.Handler) http.Handler
	Tracing   bool
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	h := &Handlers{svc: cfg.Service, loc: loc, logger: logger}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))
	r.Use(corsMiddleware(cfg.CORSOrigins))

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.ReadyChecks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}

		r.Route("/slots", func(r chi.Router) {
			r.Post("/", h.createSlot)
			r.Post("/pool", h.createPoolSlot)
			r.Get("/pool", h.listPoolSlots)
			r.Get("/consultant/{consultantID}", h.listConsultantAvailableSlots)
			r.Get("/consultant/{consultantID}/all", h.listConsultantSlots)
			r.Delete("/{id}", h.deleteSlot)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.createAppointment)
			r.Get("/", h.listAppointments)
			r.Get("/guest", h.listByGuestEmail)
			r.Get("/unassigned", h.listUnassigned)
			r.Get("/user/{userID}", h.listByUser)
			r.Get("/consultant/{consultantID}", h.listByConsultant)
			r.Get("/consultant/{consultantID}/history", h.listConsultantHistory)
			r.Get("/{id}", h.getAppointment)

			r.Put("/{id}/claim", h.transition(h.claim))
			r.Put("/{id}/status", h.transition(h.updateStatus))
			r.Put("/{id}/start", h.transition(h.start))
			r.Put("/{id}/end", h.transition(h.end))
			r.Put("/{id}/cancel/consultant", h.transition(h.cancelByConsultant))
			r.Put("/{id}/cancel/user", h.transition(h.cancelByUser))
			r.Put("/{id}/cancel/guest", h.transition(h.cancelByGuest))
			r.Put("/{id}/review", h.transition(h.review))
			r.Put("/{id}/review/guest", h.transition(h.reviewByGuest))
		})
	})

	if !cfg.Tracing {
		return r
	}
	return otelhttp.NewHandler(r, "scheduling-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
	return c.Handler
}
