package ports

import (
	"context"

	"github.com/rendez/signal-server/internal/core/domain"
)

// IdentityService is component 4.B: register/login, token issue/verify.
type IdentityService interface {
	Register(ctx context.Context, email, username, password string) (string, *domain.User, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	IssueToken(ctx context.Context, userID, email string) (string, error)
	VerifyToken(token string) (domain.TokenClaims, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
}
