// Package service implements the business-logic core: identity, machine
// registry, the channel registry shared by signaling and presence, the
// signaling broker's state machine, and presence fan-out.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rendez/signal-server/internal/core/domain"
	"github.com/rendez/signal-server/internal/core/ports"
)

// bcryptCost is fixed at 12 per spec §4.B, above bcrypt.DefaultCost (10).
const bcryptCost = 12

// Identity implements component 4.B: register/login, password verify,
// token issue/verify, user lookup.
type Identity struct {
	users    ports.UserRepository
	sessions ports.SessionRepository
	secret   []byte
	tokenTTL time.Duration
}

// NewIdentity constructs an Identity service. tokenTTL defaults to 7 days
// per spec §4.B when zero.
func NewIdentity(users ports.UserRepository, sessions ports.SessionRepository, jwtSecret string, tokenTTL time.Duration) *Identity {
	if tokenTTL <= 0 {
		tokenTTL = 7 * 24 * time.Hour
	}
	return &Identity{users: users, sessions: sessions, secret: []byte(jwtSecret), tokenTTL: tokenTTL}
}

// Register fails with ErrUserExists if email exists; otherwise stores a
// bcrypt digest at cost 12 and returns a bearer token plus the created
// user.
func (s *Identity) Register(ctx context.Context, email, username, password string) (string, *domain.User, error) {
	if email == "" || username == "" || password == "" {
		return "", nil, domain.ErrInvalidCredentials
	}
	email = strings.ToLower(email)

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return "", nil, domain.ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	user := &domain.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		return "", nil, err
	}

	token, err := s.IssueToken(ctx, created.ID, created.Email)
	if err != nil {
		return "", nil, err
	}
	return token, created, nil
}

// Login performs a constant-time digest compare (bcrypt already is) and
// returns a bearer token plus the user on success, or ErrInvalidCredentials.
func (s *Identity) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	if email == "" || password == "" {
		return "", nil, domain.ErrInvalidCredentials
	}
	email = strings.ToLower(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	token, err := s.IssueToken(ctx, user.ID, user.Email)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// IssueToken mints a signed bearer token and records the session.
func (s *Identity) IssueToken(ctx context.Context, userID, email string) (string, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)

	claims := jwt.MapClaims{
		"userId": userID,
		"email":  email,
		"exp":    expiresAt.Unix(),
		"iat":    now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}

	session := &domain.Session{
		UserID:    userID,
		TokenHash: hashToken(signed),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	// Session bookkeeping is best-effort: a storage hiccup here should
	// not prevent the caller from using the token it was just issued.
	_ = s.sessions.Create(ctx, session)

	return signed, nil
}

// VerifyToken decodes and validates a bearer token, returning its claims.
func (s *Identity) VerifyToken(tokenString string) (domain.TokenClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.TokenClaims{}, domain.ErrInvalidCredentials
	}

	userID, _ := claims["userId"].(string)
	email, _ := claims["email"].(string)
	if userID == "" {
		return domain.TokenClaims{}, domain.ErrInvalidCredentials
	}

	return domain.TokenClaims{UserID: userID, Email: email}, nil
}

// GetByID looks up a user without exposing the password digest.
func (s *Identity) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
