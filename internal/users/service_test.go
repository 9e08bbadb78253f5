package users

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		BcryptCost: bcrypt.MinCost,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func TestRegisterAndAuthenticateRoundTrip(t *testing.T) {
	service := newTestService(t)

	account, err := service.Register(context.Background(), "alice", "correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.ID == 0 {
		t.Fatalf("expected a persisted account identifier")
	}
	if account.PasswordHash == "correct horse" {
		t.Fatalf("password must not be stored in clear text")
	}

	authenticated, err := service.Authenticate(context.Background(), "alice", "correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authenticated.ID != account.ID {
		t.Fatalf("expected the registered account, got %d", authenticated.ID)
	}
}

func TestRegisterTrimsUsername(t *testing.T) {
	service := newTestService(t)

	account, err := service.Register(context.Background(), "  alice  ", "correct horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account.Username != "alice" {
		t.Fatalf("expected trimmed username, got %q", account.Username)
	}
	if _, err := service.Authenticate(context.Background(), "alice ", "correct horse"); err != nil {
		t.Fatalf("expected trimmed lookup to succeed: %v", err)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Register(context.Background(), "alice", "correct horse"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := service.Register(context.Background(), "alice", "another password")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestRegisterValidatesInputs(t *testing.T) {
	service := newTestService(t)

	cases := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{name: "short username", username: "ab", password: "correct horse", want: ErrInvalidUsername},
		{name: "blank username", username: "   ", password: "correct horse", want: ErrInvalidUsername},
		{name: "short password", username: "alice", password: "short", want: ErrInvalidPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Register(context.Background(), tc.username, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthenticateHidesFailureCause(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Register(context.Background(), "alice", "correct horse"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, unknownUser := service.Authenticate(context.Background(), "nobody", "correct horse")
	_, wrongPassword := service.Authenticate(context.Background(), "alice", "wrong password")
	if !errors.Is(unknownUser, ErrInvalidCredentials) || !errors.Is(wrongPassword, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both failures, got %v and %v", unknownUser, wrongPassword)
	}
}
