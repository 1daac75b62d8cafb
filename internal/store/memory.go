package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
)

// MemoryStore keeps everything in process. It backs tests and local runs without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message
	fields        map[string]models.FieldSet
	nextMessageID int64

	usersByName  map[string]models.User
	usersByEmail map[string]string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		fields:        make(map[string]models.FieldSet),
		usersByName:   make(map[string]models.User),
		usersByEmail:  make(map[string]string),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateConversation(_ context.Context, userID string) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv

	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *conv
	return &copied, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			result = append(result, *conv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.Status = models.StatusCompleted
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, role models.Role, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return nil, ErrNotFound
	}

	s.nextMessageID++
	msg := models.Message{
		ID:             s.nextMessageID,
		ConversationID: id,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[id] = append(s.messages[id], msg)
	return &msg, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, id string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.Message(nil), s.messages[id]...), nil
}

func (s *MemoryStore) GetFieldSet(_ context.Context, id string) (models.FieldSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fields[id], nil
}

func (s *MemoryStore) SetField(_ context.Context, id string, field models.Field, value models.FieldValue) error {
	if _, err := fieldArg(field, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}

	fs := s.fields[id]
	if err := fs.Apply(field, value); err != nil {
		return err
	}
	s.fields[id] = fs
	return nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	nameKey := userKey(user.Username)
	emailKey := userKey(user.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByName[nameKey]; exists {
		return ErrUsernameTaken
	}
	if emailKey != "" {
		if _, exists := s.usersByEmail[emailKey]; exists {
			return ErrEmailTaken
		}
		s.usersByEmail[emailKey] = nameKey
	}
	s.usersByName[nameKey] = *user
	return nil
}

func (s *MemoryStore) FindUser(_ context.Context, identifier string) (*models.User, error) {
	key := userKey(identifier)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if user, ok := s.usersByName[key]; ok {
		return &user, nil
	}
	if nameKey, ok := s.usersByEmail[key]; ok && key != "" {
		user := s.usersByName[nameKey]
		return &user, nil
	}
	return nil, ErrUserNotFound
}
