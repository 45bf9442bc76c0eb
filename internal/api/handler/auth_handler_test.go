package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/rendez/signal-server/internal/core/domain"
)

type stubIdentity struct {
	registerFn func(ctx context.Context, email, username, password string) (string, *domain.User, error)
	loginFn    func(ctx context.Context, email, password string) (string, *domain.User, error)
	getByIDFn  func(ctx context.Context, id string) (*domain.User, error)
}

func (s *stubIdentity) Register(ctx context.Context, email, username, password string) (string, *domain.User, error) {
	return s.registerFn(ctx, email, username, password)
}

func (s *stubIdentity) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	return s.loginFn(ctx, email, password)
}

func (s *stubIdentity) IssueToken(ctx context.Context, userID, email string) (string, error) {
	return "", nil
}

func (s *stubIdentity) VerifyToken(token string) (domain.TokenClaims, error) {
	return domain.TokenClaims{}, nil
}

func (s *stubIdentity) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getByIDFn(ctx, id)
}

func newEchoContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestAuthHandler_Register_Success(t *testing.T) {
	stub := &stubIdentity{
		registerFn: func(ctx context.Context, email, username, password string) (string, *domain.User, error) {
			if username != "alice" || email != "a@example.com" {
				t.Fatalf("unexpected args: %s %s", username, email)
			}
			return "token123", &domain.User{ID: "u1", Username: username, Email: email}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newEchoContext(http.MethodPost, "/auth/register", `{"username":"alice","password":"secretpw","email":"a@example.com"}`)

	if err := handler.Register(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["token"] != "token123" {
		t.Fatalf("expected token in response, got %+v", resp)
	}
	user, ok := resp["user"].(map[string]any)
	if !ok || user["username"] != "alice" {
		t.Fatalf("unexpected user payload: %+v", user)
	}
}

func TestAuthHandler_Register_UserExists(t *testing.T) {
	stub := &stubIdentity{
		registerFn: func(ctx context.Context, email, username, password string) (string, *domain.User, error) {
			return "", nil, domain.ErrUserExists
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newEchoContext(http.MethodPost, "/auth/register", `{"username":"bob","password":"secretpw","email":"b@example.com"}`)

	err := handler.Register(c)
	if !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthHandler_Register_InvalidPayload(t *testing.T) {
	stub := &stubIdentity{
		registerFn: func(ctx context.Context, email, username, password string) (string, *domain.User, error) {
			t.Fatalf("should not be called")
			return "", nil, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newEchoContext(http.MethodPost, "/auth/register", "not-json")

	err := handler.Register(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 echo.HTTPError, got %v", err)
	}
}

func TestAuthHandler_Register_ValidationFailure(t *testing.T) {
	stub := &stubIdentity{
		registerFn: func(ctx context.Context, email, username, password string) (string, *domain.User, error) {
			t.Fatalf("should not be called")
			return "", nil, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newEchoContext(http.MethodPost, "/auth/register", `{"username":"bob","password":"short","email":"not-an-email"}`)

	err := handler.Register(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 echo.HTTPError, got %v", err)
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	stub := &stubIdentity{
		loginFn: func(ctx context.Context, email, password string) (string, *domain.User, error) {
			if email != "alice@example.com" || password != "secret" {
				t.Fatalf("unexpected args: %s %s", email, password)
			}
			return "token123", &domain.User{Username: "alice", Email: email}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newEchoContext(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"secret"}`)

	if err := handler.Login(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["token"] != "token123" {
		t.Fatalf("expected token, got %v", resp["token"])
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	stub := &stubIdentity{
		loginFn: func(ctx context.Context, email, password string) (string, *domain.User, error) {
			return "", nil, domain.ErrInvalidCredentials
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newEchoContext(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"bad"}`)

	err := handler.Login(c)
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthHandler_Login_InvalidPayload(t *testing.T) {
	stub := &stubIdentity{
		loginFn: func(ctx context.Context, email, password string) (string, *domain.User, error) {
			t.Fatalf("should not be called")
			return "", nil, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, _ := newEchoContext(http.MethodPost, "/auth/login", "{")

	err := handler.Login(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 echo.HTTPError, got %v", err)
	}
}

func TestAuthHandler_Me_Success(t *testing.T) {
	stub := &stubIdentity{
		getByIDFn: func(ctx context.Context, id string) (*domain.User, error) {
			if id != "u1" {
				t.Fatalf("unexpected id: %s", id)
			}
			return &domain.User{ID: id, Username: "alice"}, nil
		},
	}
	handler := NewAuthHandler(stub)

	c, rec := newEchoContext(http.MethodGet, "/auth/me", "")
	c.Set("userId", "u1")

	if err := handler.Me(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthHandler_Me_Unauthenticated(t *testing.T) {
	handler := NewAuthHandler(&stubIdentity{})

	c, _ := newEchoContext(http.MethodGet, "/auth/me", "")

	err := handler.Me(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 echo.HTTPError, got %v", err)
	}
}
