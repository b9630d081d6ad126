// Package directory resolves the topic and user records the scheduler reads
// but does not own.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) GetTopic(ctx context.Context, id uuid.UUID) (*appointment.Topic, error) {
	var t appointment.Topic
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, description, active
		FROM topics
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Description, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrTopicNotFound
		}
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return &t, nil
}

func (d *PgDirectory) GetUser(ctx context.Context, id uuid.UUID) (*appointment.User, error) {
	var u appointment.User
	var role string
	err := d.pool.QueryRow(ctx, `
		SELECT id, full_name, email, phone, role, enabled
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.FullName, &u.Email, &u.Phone, &role, &u.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, appointment.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = appointment.Role(role)
	return &u, nil
}

func (d *PgDirectory) CreateTopic(ctx context.Context, t *appointment.Topic) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO topics (id, name, description, active)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.Name, t.Description, t.Active)
	if err != nil {
		return fmt.Errorf("create topic: %w", err)
	}
	return nil
}

func (d *PgDirectory) CreateUser(ctx context.Context, u *appointment.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO users (id, full_name, email, phone, role, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.FullName, u.Email, u.Phone, string(u.Role), u.Enabled)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
