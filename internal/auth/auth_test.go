package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wuwenbin0122/mortgage-advisor/internal/auth"
	"github.com/wuwenbin0122/mortgage-advisor/internal/store"
)

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	svc, err := auth.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("unexpected error creating auth service: %v", err)
	}

	registered, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret!",
	})
	if err != nil {
		t.Fatalf("register returned error: %v", err)
	}
	if registered.Token == "" || registered.User.ID == "" {
		t.Fatalf("expected token and user id, got %+v", registered)
	}
	if registered.User.PasswordHash != "" {
		t.Fatalf("password hash must not leave the service")
	}

	claims, err := svc.VerifyToken(registered.Token)
	if err != nil {
		t.Fatalf("verify token failed: %v", err)
	}
	if claims.UserID() != registered.User.ID || claims.Username != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "Alice",
		Password: "another!",
	}); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
	if _, err := svc.Register(context.Background(), auth.RegisterInput{
		Username: "bob",
		Email:    "ALICE@example.com",
		Password: "another!",
	}); !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}

	loggedIn, err := svc.Login(context.Background(), auth.LoginInput{
		Identifier: "alice@example.com",
		Password:   "s3cret!",
	})
	if err != nil {
		t.Fatalf("login returned error: %v", err)
	}
	if loggedIn.User.ID != registered.User.ID {
		t.Fatalf("expected same user on login")
	}

	if _, err := svc.Login(context.Background(), auth.LoginInput{
		Identifier: "alice",
		Password:   "wrong",
	}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials error, got %v", err)
	}
}

func TestAuthServiceValidation(t *testing.T) {
	if _, err := auth.NewService("  ", time.Hour, nil); !errors.Is(err, auth.ErrSecretRequired) {
		t.Fatalf("expected secret error, got %v", err)
	}

	svc, err := auth.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.Register(context.Background(), auth.RegisterInput{Password: "longenough"}); !errors.Is(err, auth.ErrUsernameRequired) {
		t.Fatalf("expected username error, got %v", err)
	}
	if _, err := svc.Register(context.Background(), auth.RegisterInput{Username: "carol", Password: "123"}); !errors.Is(err, auth.ErrPasswordTooWeak) {
		t.Fatalf("expected weak password error, got %v", err)
	}
}

func TestUserFromHeader(t *testing.T) {
	svc, err := auth.NewService("test-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := svc.Register(context.Background(), auth.RegisterInput{Username: "dana", Password: "password"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	userID, err := svc.UserFromHeader("Bearer " + result.Token)
	if err != nil {
		t.Fatalf("user from header: %v", err)
	}
	if userID != result.User.ID {
		t.Fatalf("expected %s, got %s", result.User.ID, userID)
	}

	if _, err := svc.UserFromHeader(""); !errors.Is(err, auth.ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	for _, header := range []string{"Basic abc", "Bearer", "Bearer not-a-jwt"} {
		if _, err := svc.UserFromHeader(header); !errors.Is(err, auth.ErrInvalidToken) {
			t.Fatalf("%q: expected invalid token, got %v", header, err)
		}
	}

	other, err := auth.NewService("other-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := other.UserFromHeader("Bearer " + result.Token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected token from another secret to be rejected, got %v", err)
	}
}

func TestAccountsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.db")

	first, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := first.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc, err := auth.NewService("test-secret", time.Hour, first)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	registered, err := svc.Register(ctx, auth.RegisterInput{Username: "erin", Email: "erin@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := store.NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer second.Close()
	if err := second.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	restarted, err := auth.NewService("test-secret", time.Hour, second)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	loggedIn, err := restarted.Login(ctx, auth.LoginInput{Identifier: "ERIN@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("login after restart: %v", err)
	}
	if loggedIn.User.ID != registered.User.ID {
		t.Fatalf("expected user id %s after restart, got %s", registered.User.ID, loggedIn.User.ID)
	}
	if _, err := restarted.Register(ctx, auth.RegisterInput{Username: "Erin", Password: "another1"}); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("expected username to stay taken, got %v", err)
	}
}
