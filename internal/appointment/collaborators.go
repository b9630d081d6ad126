package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/consultation-scheduling/internal/notify"
)

type Topic struct {
	ID          uuid.UUID
	Name        string
	Description string
	Active      bool
}

type Role string

const (
	RoleMember     Role = "MEMBER"
	RoleConsultant Role = "CONSULTANT"
	RoleStaff      Role = "STAFF"
	RoleAdmin      Role = "ADMIN"
)

type User struct {
	ID       uuid.UUID
	FullName string
	Email    string
	Phone    string
	Role     Role
	Enabled  bool
}

// TopicDirectory resolves topics. A missing topic is reported as
// ErrTopicNotFound.
type TopicDirectory interface {
	GetTopic(ctx context.Context, id uuid.UUID) (*Topic, error)
}

// UserDirectory resolves member and consultant accounts. A missing account
// is reported as ErrUserNotFound.
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// Notifier delivers customer notifications. Failures are advisory.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}
