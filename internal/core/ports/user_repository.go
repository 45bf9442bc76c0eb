package ports

import (
	"context"

	"github.com/rendez/signal-server/internal/core/domain"
)

// UserRepository is the persistence gateway's user-facing slice (spec §4.A).
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

// SessionRepository persists issued bearer tokens.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
}
