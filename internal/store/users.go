package store

import (
	"context"
	"errors"
	"strings"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

var (
	ErrUserNotFound  = errors.New("store: user not found")
	ErrUsernameTaken = errors.New("store: username already taken")
	ErrEmailTaken    = errors.New("store: email already registered")
)

// UserStore persists accounts. Usernames and emails are unique case-insensitively;
// an empty email is not indexed.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	// FindUser looks an account up by username first, then by email.
	FindUser(ctx context.Context, identifier string) (*models.User, error)
}

func userKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// emailKeyArg is the email_key column value; NULL keeps empty emails out of the unique index.
func emailKeyArg(email string) *string {
	key := userKey(email)
	if key == "" {
		return nil
	}
	return &key
}
