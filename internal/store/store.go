// Package store persists conversations, their messages, collected fields and user accounts.
package store

import (
	"context"
	"errors"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

var ErrNotFound = errors.New("store: conversation not found")

// Store is the persistence contract the dialogue needs. Implementations must
// preserve message order and make every single-field write atomic.
type Store interface {
	CreateConversation(ctx context.Context, userID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	MarkCompleted(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, id string, role models.Role, content string) (*models.Message, error)
	ListMessages(ctx context.Context, id string) ([]models.Message, error)

	// GetFieldSet returns an empty set when nothing has been collected yet.
	GetFieldSet(ctx context.Context, id string) (models.FieldSet, error)
	SetField(ctx context.Context, id string, field models.Field, value models.FieldValue) error

	UserStore

	Migrate(ctx context.Context) error
	Close() error
}

// fieldArg converts a field value to the column argument stored for it.
func fieldArg(field models.Field, value models.FieldValue) (any, error) {
	if !field.Valid() {
		return nil, models.ErrUnknownField
	}
	if field.Numeric() {
		return value.Number, nil
	}
	if value.Tier == "" {
		return nil, errors.New("store: credit tier value is empty")
	}
	return string(value.Tier), nil
}
