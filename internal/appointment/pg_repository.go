package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    pgQuerier
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

func (r *PgRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PgRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

const slotColumns = `id, consultant_id, slot_date, start_time, end_time, available, created_at, updated_at`

const appointmentColumns = `id, customer_name, phone_number, email, topic_id, topic_name,
	consultant_id, slot_id, appointment_date, appointment_time, is_guest, user_id,
	status, meeting_url, check_in_at, check_out_at, consultant_note, cancel_reason,
	review_score, review_text, reviewed, version, created_at, updated_at`

func pgDate(d caltime.Date) time.Time {
	return d.In(time.UTC)
}

func pgTime(t caltime.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) caltime.TimeOfDay {
	return caltime.TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func pgArg(v any) any {
	switch x := v.(type) {
	case caltime.Date:
		return pgDate(x)
	case caltime.TimeOfDay:
		return pgTime(x)
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	var date time.Time
	var start, end pgtype.Time

	err := row.Scan(
		&s.ID,
		&s.ConsultantID,
		&date,
		&start,
		&end,
		&s.Available,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = caltime.DateOf(date)
	s.StartTime = fromPgTime(start)
	s.EndTime = fromPgTime(end)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var at pgtype.Time
	var status string

	err := row.Scan(
		&a.ID,
		&a.CustomerName,
		&a.PhoneNumber,
		&a.Email,
		&a.TopicID,
		&a.TopicName,
		&a.ConsultantID,
		&a.SlotID,
		&date,
		&at,
		&a.IsGuest,
		&a.UserID,
		&status,
		&a.MeetingURL,
		&a.CheckInAt,
		&a.CheckOutAt,
		&a.ConsultantNote,
		&a.CancelReason,
		&a.ReviewScore,
		&a.ReviewText,
		&a.Reviewed,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.AppointmentDate = caltime.DateOf(date)
	a.AppointmentTime = fromPgTime(at)
	a.Status = Status(status)
	return &a, nil
}

// Slots

func (r *PgRepository) InsertSlot(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO slots (id, consultant_id, slot_date, start_time, end_time, available, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+slotColumns,
		s.ID, s.ConsultantID, pgDate(s.Date), pgTime(s.StartTime), pgTime(s.EndTime), s.Available)

	stored, err := scanSlot(row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("insert slot: %w", err)
	}

	*s = *stored
	return nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) FindSlot(ctx context.Context, consultantID uuid.UUID, date caltime.Date, start caltime.TimeOfDay) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE consultant_id = $1
		  AND slot_date = $2
		  AND start_time = $3
	`, consultantID, pgDate(date), pgTime(start))
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	where, args := buildSlotQuery(f, dollarPlaceholder, pgArg)

	rows, err := r.q.Query(ctx, `SELECT `+slotColumns+` FROM slots`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ReserveSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET available = false,
		    updated_at = now()
		WHERE id = $1
		  AND available = true
	`, id)
	if err != nil {
		return false, fmt.Errorf("reserve slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE slots
		SET available = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) DeleteAvailableSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM slots
		WHERE id = $1
		  AND available = true
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Appointments

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, customer_name, phone_number, email, topic_id, topic_name,
			consultant_id, slot_id, appointment_date, appointment_time, is_guest, user_id,
			status, meeting_url, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.CustomerName, a.PhoneNumber, a.Email, a.TopicID, a.TopicName,
		a.ConsultantID, a.SlotID, pgDate(a.AppointmentDate), pgTime(a.AppointmentTime), a.IsGuest, a.UserID,
		string(a.Status), a.MeetingURL)

	stored, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	*a = *stored
	return nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expectedVersion int) error {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET consultant_id = $3,
		    slot_id = $4,
		    status = $5,
		    meeting_url = $6,
		    check_in_at = $7,
		    check_out_at = $8,
		    consultant_note = $9,
		    cancel_reason = $10,
		    review_score = $11,
		    review_text = $12,
		    reviewed = $13,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1
		  AND version = $2
		RETURNING `+appointmentColumns,
		a.ID, expectedVersion,
		a.ConsultantID, a.SlotID, string(a.Status), a.MeetingURL,
		a.CheckInAt, a.CheckOutAt, a.ConsultantNote, a.CancelReason,
		a.ReviewScore, a.ReviewText, a.Reviewed)

	stored, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrConcurrentUpdate
		}
		return fmt.Errorf("update appointment: %w", err)
	}

	*a = *stored
	return nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	where, args := buildAppointmentQuery(f, dollarPlaceholder, pgArg)

	rows, err := r.q.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Event log

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) FetchUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at, published_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.AppointmentID, &ev.Payload, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) MarkEventsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.q.Exec(ctx, `
		UPDATE event_logs
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func (r *PgRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
