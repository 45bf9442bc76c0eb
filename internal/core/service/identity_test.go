package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/rendez/signal-server/internal/core/domain"
)

type stubUserRepo struct {
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
	nextID  int
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{byID: make(map[string]*domain.User), byEmail: make(map[string]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

func (r *stubUserRepo) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	if _, exists := r.byEmail[user.Email]; exists {
		return nil, domain.ErrUserExists
	}
	r.nextID++
	copy := cloneUser(user)
	copy.ID = fmt.Sprintf("user-%d", r.nextID)
	r.byID[copy.ID] = cloneUser(copy)
	r.byEmail[copy.Email] = cloneUser(copy)
	return cloneUser(copy), nil
}

func (r *stubUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	if u, ok := r.byEmail[email]; ok {
		return cloneUser(u), nil
	}
	return nil, domain.ErrUserNotFound
}

func (r *stubUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	if u, ok := r.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, domain.ErrUserNotFound
}

type stubSessionRepo struct {
	sessions []*domain.Session
}

func (r *stubSessionRepo) Create(_ context.Context, session *domain.Session) error {
	r.sessions = append(r.sessions, session)
	return nil
}

func TestIdentity_RegisterThenAuth(t *testing.T) {
	svc := NewIdentity(newStubUserRepo(), &stubSessionRepo{}, "secret", time.Hour)

	token, user, err := svc.Register(context.Background(), "alice@example.com", "alice", "pw123456")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if user.PasswordHash == "pw123456" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pw123456")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	claims, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("expected same user id, got %s vs %s", claims.UserID, user.ID)
	}
}

func TestIdentity_RegisterDuplicateEmail(t *testing.T) {
	svc := NewIdentity(newStubUserRepo(), &stubSessionRepo{}, "secret", time.Hour)

	if _, _, err := svc.Register(context.Background(), "bob@example.com", "bob", "pw"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, _, err := svc.Register(context.Background(), "bob@example.com", "bob2", "pw2"); err != domain.ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestIdentity_EmailIsCaseInsensitive(t *testing.T) {
	svc := NewIdentity(newStubUserRepo(), &stubSessionRepo{}, "secret", time.Hour)

	_, registered, err := svc.Register(context.Background(), "Dave@Example.com", "dave", "pw123456")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if registered.Email != "dave@example.com" {
		t.Fatalf("expected stored email lowercased, got %q", registered.Email)
	}

	if _, _, err := svc.Register(context.Background(), "dave@example.com", "dave2", "pw2"); err != domain.ErrUserExists {
		t.Fatalf("expected ErrUserExists for case-variant duplicate, got %v", err)
	}

	_, user, err := svc.Login(context.Background(), "DAVE@EXAMPLE.COM", "pw123456")
	if err != nil {
		t.Fatalf("login with different case failed: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("expected same user, got %+v", user)
	}
}

func TestIdentity_LoginSuccess(t *testing.T) {
	svc := NewIdentity(newStubUserRepo(), &stubSessionRepo{}, "secret", time.Hour)

	_, registered, err := svc.Register(context.Background(), "carol@example.com", "carol", "s3cret123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	token, user, err := svc.Login(context.Background(), "carol@example.com", "s3cret123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("unexpected user: %+v", user)
	}

	parsedClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, parsedClaims, func(*jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token invalid: %v", err)
	}
}

func TestIdentity_LoginInvalidPassword(t *testing.T) {
	svc := NewIdentity(newStubUserRepo(), &stubSessionRepo{}, "secret", time.Hour)

	_, _, _ = svc.Register(context.Background(), "dave@example.com", "dave", "goodpass")
	if _, _, err := svc.Login(context.Background(), "dave@example.com", "badpass"); err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestIdentity_LoginUnknownUser(t *testing.T) {
	svc := NewIdentity(newStubUserRepo(), &stubSessionRepo{}, "secret", time.Hour)

	if _, _, err := svc.Login(context.Background(), "ghost@example.com", "pw"); err != domain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
