package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

// SQLDirectory reads the directory tables through database/sql. It backs
// the sqlite store.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) GetTopic(ctx context.Context, id uuid.UUID) (*appointment.Topic, error) {
	var t appointment.Topic
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, description, active
		FROM topics
		WHERE id = ?
	`, id.String()).Scan(&t.ID, &t.Name, &t.Description, &t.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appointment.ErrTopicNotFound
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &t, nil
}

func (d *SQLDirectory) GetUser(ctx context.Context, id uuid.UUID) (*appointment.User, error) {
	var u appointment.User
	var role string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, full_name, email, phone, role, enabled
		FROM users
		WHERE id = ?
	`, id.String()).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &role, &u.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appointment.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = appointment.Role(role)
	return &u, nil
}

func (d *SQLDirectory) CreateTopic(ctx context.Context, t *appointment.Topic) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO topics (id, name, description, active)
		VALUES (?, ?, ?, ?)
	`, t.ID.String(), t.Name, t.Description, t.Active)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

func (d *SQLDirectory) CreateUser(ctx context.Context, u *appointment.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, phone, role, enabled)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID.String(), u.FullName, u.Email, u.Phone, string(u.Role), u.Enabled)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
