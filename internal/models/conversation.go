package models

import "time"

type ConversationStatus string

const (
	StatusInProgress ConversationStatus = "in_progress"
	StatusCompleted  ConversationStatus = "completed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is one applicant's dialogue with the advisor.
type Conversation struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id,omitempty"`
	Status    ConversationStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (c Conversation) Completed() bool {
	return c.Status == StatusCompleted
}

// Message is an append-only entry in a conversation's history.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"timestamp"`
}

// CountRole returns how many messages in history were written by role.
func CountRole(history []Message, role Role) int {
	n := 0
	for _, msg := range history {
		if msg.Role == role {
			n++
		}
	}
	return n
}

// LastByRole returns the most recent message written by role, if any.
func LastByRole(history []Message, role Role) (Message, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return history[i], true
		}
	}
	return Message{}, false
}
