package appointment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLiteRepository stores slots and appointments in SQLite. Timestamps are
// kept as RFC 3339 text and dates and times in their ISO forms so that
// ordering by column works lexically. The handle must be limited to a
// single connection; that connection serializes all writers.
type SQLiteRepository struct {
	db   *sql.DB
	q    sqlQuerier
	inTx bool
	now  func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, q: db, now: time.Now}
}

func (r *SQLiteRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLiteRepository{db: r.db, q: tx, inTx: true, now: r.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) stamp() string {
	return formatTS(r.now())
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTS(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTS(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTS(*t)
}

func nullUUIDArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func sqliteArg(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case caltime.Date:
		return x.ISO()
	case caltime.TimeOfDay:
		return x.String()
	}
	return v
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanSQLiteSlot(row rowScanner) (*Slot, error) {
	var s Slot
	var consultant uuid.NullUUID
	var created, updated string

	err := row.Scan(
		&s.ID,
		&consultant,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.Available,
		&created,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.ConsultantID = fromNullUUID(consultant)
	if s.CreatedAt, err = parseTS(created); err != nil {
		return nil, fmt.Errorf("parse slot created_at: %w", err)
	}
	if s.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, fmt.Errorf("parse slot updated_at: %w", err)
	}
	return &s, nil
}

func scanSQLiteAppointment(row rowScanner) (*Appointment, error) {
	var a Appointment
	var consultant, slot, user uuid.NullUUID
	var status string
	var checkIn, checkOut sql.NullString
	var score sql.NullInt64
	var created, updated string

	err := row.Scan(
		&a.ID,
		&a.CustomerName,
		&a.PhoneNumber,
		&a.Email,
		&a.TopicID,
		&a.TopicName,
		&consultant,
		&slot,
		&a.AppointmentDate,
		&a.AppointmentTime,
		&a.IsGuest,
		&user,
		&status,
		&a.MeetingURL,
		&checkIn,
		&checkOut,
		&a.ConsultantNote,
		&a.CancelReason,
		&score,
		&a.ReviewText,
		&a.Reviewed,
		&a.Version,
		&created,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.ConsultantID = fromNullUUID(consultant)
	a.SlotID = fromNullUUID(slot)
	a.UserID = fromNullUUID(user)
	a.Status = Status(status)
	if score.Valid {
		v := int(score.Int64)
		a.ReviewScore = &v
	}
	if a.CheckInAt, err = parseNullTS(checkIn); err != nil {
		return nil, fmt.Errorf("parse check_in_at: %w", err)
	}
	if a.CheckOutAt, err = parseNullTS(checkOut); err != nil {
		return nil, fmt.Errorf("parse check_out_at: %w", err)
	}
	if a.CreatedAt, err = parseTS(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &a, nil
}

// Slots

func (r *SQLiteRepository) InsertSlot(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := r.stamp()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO slots (id, consultant_id, slot_date, start_time, end_time, available, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID.String(), nullUUIDArg(s.ConsultantID), s.Date.ISO(), s.StartTime.String(), s.EndTime.String(), s.Available, now, now)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrDuplicateSlot
		}
		return fmt.Errorf("insert slot: %w", err)
	}

	stored, err := r.GetSlot(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("reload slot: %w", err)
	}
	*s = *stored
	return nil
}

func (r *SQLiteRepository) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = ?
	`, id.String())
	return scanSQLiteSlot(row)
}

func (r *SQLiteRepository) FindSlot(ctx context.Context, consultantID uuid.UUID, date caltime.Date, start caltime.TimeOfDay) (*Slot, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE consultant_id = ?
		  AND slot_date = ?
		  AND start_time = ?
	`, consultantID.String(), date.ISO(), start.String())
	return scanSQLiteSlot(row)
}

func (r *SQLiteRepository) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	where, args := buildSlotQuery(f, questionPlaceholder, sqliteArg)

	rows, err := r.q.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSQLiteSlot(rows)
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

func (r *SQLiteRepository) ReserveSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE slots
		SET available = 0,
		    updated_at = ?
		WHERE id = ?
		  AND available = 1
	`, r.stamp(), id.String())
	if err != nil {
		return false, fmt.Errorf("reserve slot: %w", err)
	}
	return affectedOne(res)
}

func (r *SQLiteRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE slots
		SET available = 1,
		    updated_at = ?
		WHERE id = ?
	`, r.stamp(), id.String())
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return affectedOne(res)
}

func (r *SQLiteRepository) DeleteAvailableSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM slots
		WHERE id = ?
		  AND available = 1
	`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete slot: %w", err)
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Appointments

func (r *SQLiteRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := r.stamp()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO appointments (
			id, customer_name, phone_number, email, topic_id, topic_name,
			consultant_id, slot_id, appointment_date, appointment_time, is_guest, user_id,
			status, meeting_url, version, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`,
		a.ID.String(), a.CustomerName, a.PhoneNumber, a.Email, a.TopicID.String(), a.TopicName,
		nullUUIDArg(a.ConsultantID), nullUUIDArg(a.SlotID), a.AppointmentDate.ISO(), a.AppointmentTime.String(),
		a.IsGuest, nullUUIDArg(a.UserID), string(a.Status), a.MeetingURL, now, now)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	stored, err := r.GetAppointment(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("reload appointment: %w", err)
	}
	*a = *stored
	return nil
}

func (r *SQLiteRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = ?
	`, id.String())
	return scanSQLiteAppointment(row)
}

// LockAppointment is a plain read: the single connection already excludes
// other writers for the life of the transaction.
func (r *SQLiteRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetAppointment(ctx, id)
}

func (r *SQLiteRepository) UpdateAppointment(ctx context.Context, a *Appointment, expectedVersion int) error {
	var score any
	if a.ReviewScore != nil {
		score = *a.ReviewScore
	}

	res, err := r.q.ExecContext(ctx, `
		UPDATE appointments
		SET consultant_id = ?,
		    slot_id = ?,
		    status = ?,
		    meeting_url = ?,
		    check_in_at = ?,
		    check_out_at = ?,
		    consultant_note = ?,
		    cancel_reason = ?,
		    review_score = ?,
		    review_text = ?,
		    reviewed = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?
		  AND version = ?
	`,
		nullUUIDArg(a.ConsultantID), nullUUIDArg(a.SlotID), string(a.Status), a.MeetingURL,
		nullTS(a.CheckInAt), nullTS(a.CheckOutAt), a.ConsultantNote, a.CancelReason,
		score, a.ReviewText, a.Reviewed, r.stamp(),
		a.ID.String(), expectedVersion)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	ok, err := affectedOne(res)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if !ok {
		return ErrConcurrentUpdate
	}

	stored, err := r.GetAppointment(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("reload appointment: %w", err)
	}
	*a = *stored
	return nil
}

func (r *SQLiteRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	where, args := buildAppointmentQuery(f, questionPlaceholder, sqliteArg)

	rows, err := r.q.QueryContext(ctx, `SELECT `+appointmentColumns+` FROM appointments`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanSQLiteAppointment(rows)
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

func (r *SQLiteRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	created := ev.CreatedAt
	if created.IsZero() {
		created = r.now()
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.EventType, nullUUIDArg(ev.AppointmentID), string(ev.Payload), formatTS(created))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *SQLiteRepository) FetchUnpublishedEvents(ctx context.Context, limit int) ([]EventLog, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, event_type, appointment_id, payload, created_at
		FROM event_logs
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		var apptID uuid.NullUUID
		var payload sql.NullString
		var created string
		if err := rows.Scan(&ev.ID, &ev.EventType, &apptID, &payload, &created); err != nil {
			return nil, err
		}
		ev.AppointmentID = fromNullUUID(apptID)
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		if ev.CreatedAt, err = parseTS(created); err != nil {
			return nil, fmt.Errorf("parse event created_at: %w", err)
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *SQLiteRepository) MarkEventsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	marks := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, r.stamp())
	for i, id := range ids {
		marks[i] = "?"
		args = append(args, id)
	}

	_, err := r.q.ExecContext(ctx, `
		UPDATE event_logs
		SET published_at = ?
		WHERE id IN (`+strings.Join(marks, ", ")+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
