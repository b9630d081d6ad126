package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/hackgods/consultation-scheduling/internal/caltime"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/notify"
)

// Collaborators are the services owned outside the scheduling core.
type Collaborators struct {
	Topics   TopicDirectory
	Users    UserDirectory
	Notifier Notifier
	Logger   *slog.Logger
}

type Option func(*Service)

// WithClock replaces the wall clock used for past-date checks and check-in
// and check-out stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo      Repository
	topics    TopicDirectory
	users     UserDirectory
	notifier  Notifier
	logger    *slog.Logger
	cfg       config.Config
	now       func() time.Time
	allocator *Allocator
	engine    *Engine
}

func NewService(repo Repository, deps Collaborators, cfg config.Config, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		topics:   deps.Topics,
		users:    deps.Users,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.UTC
	}

	s.allocator = NewAllocator(repo, s.cfg.Location, s.now)
	s.engine = NewEngine(s.now, s.cfg.MinSessionDuration)
	return s
}

type Customer struct {
	Name  string
	Phone string
	Email string
}

type BookingRequest struct {
	Customer   Customer
	TopicID    uuid.UUID
	SlotID     uuid.UUID
	UserID     *uuid.UUID // nil books as a guest
	MeetingURL string
}

// CreateAppointment reserves the slot and records the booking against it.
// Bookings on a consultant's slot are confirmed straight away; bookings on a
// pool slot stay pending until a consultant claims them.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	customer, err := s.normalizeCustomer(req.Customer, req.UserID == nil)
	if err != nil {
		return nil, err
	}

	topic, err := s.resolveTopic(ctx, req.TopicID)
	if err != nil {
		return nil, err
	}

	if req.UserID != nil {
		member, err := s.resolveUser(ctx, *req.UserID)
		if err != nil {
			return nil, err
		}
		if customer.Email == "" {
			customer.Email = member.Email
		}
	}

	// The slot owner never changes, so the consultant can be checked
	// before the reservation transaction.
	slot, err := s.repo.GetSlot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, notFound(EntitySlot, req.SlotID, ErrSlotNotFound)
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.ConsultantID != nil {
		if _, err := s.resolveConsultant(ctx, *slot.ConsultantID); err != nil {
			return nil, err
		}
	}

	var created *Appointment
	err = s.repo.InTx(ctx, func(tx Repository) error {
		reserved, err := s.allocator.WithStore(tx).Reserve(ctx, req.SlotID)
		if err != nil {
			return err
		}

		slotID := reserved.ID
		appt := &Appointment{
			CustomerName:    customer.Name,
			PhoneNumber:     customer.Phone,
			Email:           customer.Email,
			TopicID:         topic.ID,
			TopicName:       topic.Name,
			ConsultantID:    reserved.ConsultantID,
			SlotID:          &slotID,
			AppointmentDate: reserved.Date,
			AppointmentTime: reserved.StartTime,
			IsGuest:         req.UserID == nil,
			UserID:          req.UserID,
			Status:          StatusConfirmed,
			MeetingURL:      strings.TrimSpace(req.MeetingURL),
		}
		if reserved.ConsultantID == nil {
			appt.Status = StatusPending
		}

		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		payload := map[string]any{
			"slot_id":  slotID.String(),
			"topic_id": topic.ID.String(),
			"status":   appt.Status,
			"guest":    appt.IsGuest,
		}
		if appt.ConsultantID != nil {
			payload["consultant_id"] = appt.ConsultantID.String()
		}
		if err := s.logEvent(ctx, tx, appt.ID, EventAppointmentCreated, payload); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "appointment created",
		"appointment_id", created.ID,
		"slot_id", req.SlotID,
		"status", created.Status,
		"guest", created.IsGuest,
	)

	if created.Status == StatusConfirmed {
		s.notify(ctx, created, Transition{To: StatusConfirmed, Notify: true})
	}
	return created, nil
}

// Claim binds consultantID to an unassigned appointment.
func (s *Service) Claim(ctx context.Context, id, consultantID uuid.UUID) (*Appointment, error) {
	if _, err := s.resolveConsultant(ctx, consultantID); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, consultantID, func(a *Appointment) (Transition, error) {
		return s.engine.Claim(a, consultantID)
	})
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, consultantID uuid.UUID) (*Appointment, error) {
	if _, err := s.resolveConsultant(ctx, consultantID); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, consultantID, func(a *Appointment) (Transition, error) {
		return s.engine.UpdateStatus(a, status, consultantID)
	})
}

func (s *Service) Start(ctx context.Context, id, consultantID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, consultantID, func(a *Appointment) (Transition, error) {
		return s.engine.Start(a, consultantID)
	})
}

func (s *Service) End(ctx context.Context, id, consultantID uuid.UUID, note string) (*Appointment, error) {
	return s.transition(ctx, id, consultantID, func(a *Appointment) (Transition, error) {
		return s.engine.End(a, consultantID, strings.TrimSpace(note))
	})
}

func (s *Service) CancelByConsultant(ctx context.Context, id, consultantID uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, consultantID, func(a *Appointment) (Transition, error) {
		return s.engine.CancelByConsultant(a, consultantID, strings.TrimSpace(reason))
	})
}

func (s *Service) CancelByUser(ctx context.Context, id, userID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, userID, func(a *Appointment) (Transition, error) {
		return s.engine.CancelByUser(a, userID)
	})
}

func (s *Service) CancelByGuest(ctx context.Context, id uuid.UUID, email string) (*Appointment, error) {
	return s.transition(ctx, id, email, func(a *Appointment) (Transition, error) {
		return s.engine.CancelByGuest(a, email)
	})
}

func (s *Service) Review(ctx context.Context, id, userID uuid.UUID, score int, text string) (*Appointment, error) {
	return s.transition(ctx, id, userID, func(a *Appointment) (Transition, error) {
		return s.engine.Review(a, userID, score, strings.TrimSpace(text))
	})
}

func (s *Service) ReviewByGuest(ctx context.Context, id uuid.UUID, email string, score int, text string) (*Appointment, error) {
	return s.transition(ctx, id, email, func(a *Appointment) (Transition, error) {
		return s.engine.ReviewByGuest(a, email, score, strings.TrimSpace(text))
	})
}

// transition applies fn to the locked appointment and persists the result,
// the slot release and the event row in one transaction. The customer is
// notified after commit.
func (s *Service) transition(ctx context.Context, id uuid.UUID, actor any, fn func(a *Appointment) (Transition, error)) (*Appointment, error) {
	var (
		updated *Appointment
		tr      Transition
	)

	err := s.repo.InTx(ctx, func(tx Repository) error {
		appt, err := tx.LockAppointment(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return notFound(EntityAppointment, id, ErrAppointmentNotFound)
			}
			return fmt.Errorf("load appointment: %w", err)
		}

		version := appt.Version
		tr, err = fn(appt)
		if err != nil {
			return err
		}

		if err := tx.UpdateAppointment(ctx, appt, version); err != nil {
			if errors.Is(err, ErrConcurrentUpdate) {
				return conflict(EntityAppointment, id, ErrConcurrentUpdate)
			}
			return err
		}

		if tr.ReleaseSlot {
			if err := s.allocator.WithStore(tx).ReleaseFor(ctx, appt); err != nil {
				if !errors.Is(err, ErrSlotNotFound) {
					return fmt.Errorf("release slot: %w", err)
				}
				s.logger.WarnContext(ctx, "slot for cancelled appointment not found",
					"appointment_id", appt.ID,
				)
			}
		}

		payload := map[string]any{
			"from":  tr.From,
			"to":    tr.To,
			"actor": fmt.Sprint(actor),
		}
		if appt.ConsultantID != nil {
			payload["consultant_id"] = appt.ConsultantID.String()
		}
		if err := s.logEvent(ctx, tx, appt.ID, tr.Event, payload); err != nil {
			return err
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "appointment transition",
		"appointment_id", updated.ID,
		"event", tr.Event,
		"from", tr.From,
		"to", tr.To,
	)

	if tr.Notify {
		s.notify(ctx, updated, tr)
	}
	return updated, nil
}

// logEvent appends to the outbox inside the caller's transaction.
func (s *Service) logEvent(ctx context.Context, tx Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to marshal event payload", "event", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("log %s: %w", eventType, err)
	}
	return nil
}

// notify hands the change to the notifier. Failures are logged and
// discarded; the transition has already committed.
func (s *Service) notify(ctx context.Context, a *Appointment, tr Transition) {
	if s.notifier == nil || a.Email == "" {
		return
	}

	kind := notify.KindStatusChanged
	switch tr.To {
	case StatusConfirmed:
		if tr.From == "" {
			kind = notify.KindAppointmentConfirmed
		}
	case StatusCancelled:
		kind = notify.KindAppointmentCancelled
	case StatusCompleted:
		kind = notify.KindAppointmentCompleted
	}

	n := notify.Notification{
		Recipient: a.Email,
		Kind:      kind,
		Payload: map[string]string{
			notify.KeyCustomerName:   a.CustomerName,
			notify.KeyAppointmentID:  a.ID.String(),
			notify.KeyTopic:          a.TopicName,
			notify.KeyDate:           a.AppointmentDate.String(),
			notify.KeyTime:           a.AppointmentTime.String(),
			notify.KeyPreviousStatus: string(tr.From),
			notify.KeyStatus:         string(tr.To),
			notify.KeyMeetingURL:     a.MeetingURL,
			notify.KeyReason:         a.CancelReason,
		},
	}

	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.logger.WarnContext(ctx, "notification not sent",
			"appointment_id", a.ID,
			"kind", string(kind),
			"error", err,
		)
	}
}

// Queries

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, notFound(EntityAppointment, id, ErrAppointmentNotFound)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListByGuestEmail returns a guest's bookings, most recent first.
func (s *Service) ListByGuestEmail(ctx context.Context, email string) ([]Appointment, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, invalid("email", ErrRequired)
	}
	return s.list(ctx, "list appointments by guest", AppointmentFilter{GuestEmail: email})
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Appointment, error) {
	if err := s.requireAccount(ctx, userID, EntityUser, ErrUserNotFound); err != nil {
		return nil, err
	}
	return s.list(ctx, "list appointments by user", AppointmentFilter{UserID: &userID})
}

func (s *Service) ListByConsultant(ctx context.Context, consultantID uuid.UUID) ([]Appointment, error) {
	if err := s.requireAccount(ctx, consultantID, EntityConsultant, ErrConsultantNotFound); err != nil {
		return nil, err
	}
	return s.list(ctx, "list appointments by consultant", AppointmentFilter{ConsultantID: &consultantID})
}

// ListUnassigned returns pending bookings waiting for a consultant, oldest
// appointment first.
func (s *Service) ListUnassigned(ctx context.Context) ([]Appointment, error) {
	return s.list(ctx, "list unassigned appointments", AppointmentFilter{
		Unassigned:  true,
		Statuses:    []Status{StatusPending},
		OldestFirst: true,
	})
}

func (s *Service) ListConsultantHistory(ctx context.Context, consultantID uuid.UUID) ([]Appointment, error) {
	if err := s.requireAccount(ctx, consultantID, EntityConsultant, ErrConsultantNotFound); err != nil {
		return nil, err
	}
	return s.list(ctx, "list consultant history", AppointmentFilter{
		ConsultantID: &consultantID,
		Statuses:     []Status{StatusCompleted, StatusCancelled},
	})
}

// ListAppointments pages through every appointment, most recent first.
func (s *Service) ListAppointments(ctx context.Context, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}
	return s.list(ctx, "list appointments", AppointmentFilter{Limit: limit, Offset: offset})
}

func (s *Service) list(ctx context.Context, op string, f AppointmentFilter) ([]Appointment, error) {
	appointments, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return appointments, nil
}

// Slots

func (s *Service) CreateSlot(ctx context.Context, consultantID uuid.UUID, date caltime.Date, start, end caltime.TimeOfDay) (*Slot, error) {
	if _, err := s.resolveConsultant(ctx, consultantID); err != nil {
		return nil, err
	}
	slot, err := s.allocator.CreateSlot(ctx, &consultantID, date, start, end)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "slot created",
		"slot_id", slot.ID,
		"consultant_id", consultantID,
		"date", date.String(),
		"start", start.String(),
	)
	return slot, nil
}

// CreatePoolSlot registers an hour that any consultant may later take on.
func (s *Service) CreatePoolSlot(ctx context.Context, date caltime.Date, start, end caltime.TimeOfDay) (*Slot, error) {
	return s.allocator.CreateSlot(ctx, nil, date, start, end)
}

func (s *Service) DeleteSlot(ctx context.Context, slotID, consultantID uuid.UUID) error {
	if err := s.allocator.DeleteSlot(ctx, slotID, consultantID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "slot deleted", "slot_id", slotID, "consultant_id", consultantID)
	return nil
}

// ListAvailableSlots returns bookable slots on date, today when date is nil.
// A nil consultant lists pool slots. Slots of today that already started
// are left out.
func (s *Service) ListAvailableSlots(ctx context.Context, consultantID *uuid.UUID, date *caltime.Date) ([]Slot, error) {
	if consultantID != nil {
		if _, err := s.resolveConsultant(ctx, *consultantID); err != nil {
			return nil, err
		}
	}

	now := s.now().In(s.cfg.Location)
	today := caltime.DateOf(now)

	day := today
	if date != nil {
		day = *date
	}
	if day.Before(today) {
		return []Slot{}, nil
	}

	slots, err := s.repo.ListSlots(ctx, SlotFilter{
		ConsultantID:  consultantID,
		Pool:          consultantID == nil,
		Date:          &day,
		OnlyAvailable: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list available slots: %w", err)
	}

	if day != today {
		return slots, nil
	}

	cutoff := caltime.TimeOf(now)
	upcoming := make([]Slot, 0, len(slots))
	for _, slot := range slots {
		if slot.StartTime > cutoff {
			upcoming = append(upcoming, slot)
		}
	}
	return upcoming, nil
}

// ListConsultantSlots returns the consultant's available slots from today on.
func (s *Service) ListConsultantSlots(ctx context.Context, consultantID uuid.UUID) ([]Slot, error) {
	if _, err := s.resolveConsultant(ctx, consultantID); err != nil {
		return nil, err
	}
	today := caltime.DateOf(s.now().In(s.cfg.Location))
	slots, err := s.repo.ListSlots(ctx, SlotFilter{ConsultantID: &consultantID, FromDate: &today, OnlyAvailable: true})
	if err != nil {
		return nil, fmt.Errorf("list consultant slots: %w", err)
	}
	return slots, nil
}

// Collaborator lookups

func (s *Service) resolveTopic(ctx context.Context, id uuid.UUID) (*Topic, error) {
	topic, err := s.topics.GetTopic(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTopicNotFound) {
			return nil, notFound(EntityTopic, id, ErrTopicNotFound)
		}
		return nil, fmt.Errorf("load topic: %w", err)
	}
	if !topic.Active {
		return nil, notFound(EntityTopic, id, ErrTopicNotFound)
	}
	return topic, nil
}

func (s *Service) resolveUser(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, notFound(EntityUser, id, ErrUserNotFound)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Enabled {
		return nil, notFound(EntityUser, id, ErrUserNotFound)
	}
	return user, nil
}

// requireAccount reports a NotFound for entity when id names no account.
// Disabled accounts still count: their past appointments stay listable.
func (s *Service) requireAccount(ctx context.Context, id uuid.UUID, entity string, reason error) error {
	if _, err := s.users.GetUser(ctx, id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return notFound(entity, id, reason)
		}
		return fmt.Errorf("load %s: %w", entity, err)
	}
	return nil
}

func (s *Service) resolveConsultant(ctx context.Context, id uuid.UUID) (*User, error) {
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, notFound(EntityConsultant, id, ErrConsultantNotFound)
		}
		return nil, fmt.Errorf("load consultant: %w", err)
	}
	if !user.Enabled || user.Role != RoleConsultant {
		return nil, notFound(EntityConsultant, id, ErrConsultantNotFound)
	}
	return user, nil
}

func (s *Service) normalizeCustomer(c Customer, guest bool) (Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)

	if c.Name == "" {
		return Customer{}, invalid("customer_name", ErrRequired)
	}

	switch {
	case c.Email == "" && guest:
		return Customer{}, invalid("email", ErrRequired)
	case c.Email != "":
		addr, err := mail.ParseAddress(c.Email)
		if err != nil || addr.Address != c.Email {
			return Customer{}, invalid("email", ErrInvalidEmail)
		}
	}

	if c.Phone != "" {
		num, err := phonenumbers.Parse(c.Phone, s.cfg.PhoneRegion)
		if err != nil || !phonenumbers.IsValidNumber(num) {
			return Customer{}, invalid("phone_number", ErrInvalidPhone)
		}
		c.Phone = phonenumbers.Format(num, phonenumbers.E164)
	}

	return c, nil
}
