// Package dialogue drives the mortgage pre-qualification conversation: it works
// out which question a message answers, runs the matching step and records
// the exchange.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wuwenbin0122/mortgage-advisor/internal/lock"
	"github.com/wuwenbin0122/mortgage-advisor/internal/models"
	"github.com/wuwenbin0122/mortgage-advisor/internal/store"
)

var (
	ErrEmptyMessage          = errors.New("dialogue: message is empty")
	ErrConversationNotFound  = errors.New("dialogue: conversation not found")
	ErrConversationCompleted = errors.New("dialogue: conversation already completed")
	ErrForbidden             = errors.New("dialogue: conversation belongs to another user")
)

// Archiver receives every assessment once its conversation completes.
type Archiver interface {
	ArchiveAssessment(ctx context.Context, conversationID string, result *models.AssessmentResult) error
}

// Turn is the outcome of one processed user message.
type Turn struct {
	ConversationID string
	Step           Step
	Response       string
	Complete       bool
	Assessment     *models.AssessmentResult
}

// Progress describes where an unfinished conversation stands.
type Progress struct {
	ConversationID string          `json:"conversation_id"`
	CurrentStep    int             `json:"current_step"`
	StepName       string          `json:"step_name"`
	MessageCount   int             `json:"message_count"`
	LastMessage    *models.Message `json:"last_message,omitempty"`
}

type Service struct {
	store       store.Store
	interpreter Interpreter
	locker      lock.Locker
	archiver    Archiver
	logger      *zap.Logger
	dispatch    map[Step]handler
	now         func() time.Time
}

// NewService wires the orchestrator. locker defaults to an in-process lock,
// archiver may be nil and logger defaults to a no-op logger.
func NewService(st store.Store, interpreter Interpreter, locker lock.Locker, archiver Archiver, logger *zap.Logger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:       st,
		interpreter: interpreter,
		locker:      locker,
		archiver:    archiver,
		logger:      logger,
		now:         time.Now,
	}
	s.dispatch = s.handlers()
	return s
}

// ProcessMessage runs one user turn end to end. An empty conversationID starts
// a new conversation owned by userID (which may be empty). Validation and
// lookup problems are returned as errors; infrastructure failures during the
// turn produce a generic reply instead so the dialogue can carry on.
func (s *Service) ProcessMessage(ctx context.Context, text, conversationID, userID string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.openConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("lock conversation %s: %w", conv.ID, err)
	}
	defer release()

	start := s.now()
	turn := &Turn{ConversationID: conv.ID}

	if _, err := s.store.AppendMessage(ctx, conv.ID, models.RoleUser, text); err != nil {
		return s.failTurn(ctx, turn, "append user message", err), nil
	}

	var alreadyCompleted bool
	turn.Step, alreadyCompleted = s.resolveStep(ctx, conv.ID)

	handle, ok := s.dispatch[turn.Step]
	if !ok {
		handle = s.handleDone
	}
	reply, err := handle(ctx, conv.ID, text)
	if err != nil {
		return s.failTurn(ctx, turn, "handle step "+turn.Step.String(), err), nil
	}

	turn.Response = reply.Text
	turn.Complete = reply.Complete
	turn.Assessment = reply.Assessment

	if _, err := s.store.AppendMessage(ctx, conv.ID, models.RoleAssistant, reply.Text); err != nil {
		s.logger.Error("append assistant message", zap.String("conversation_id", conv.ID), zap.Error(err))
	}

	if reply.Complete && !alreadyCompleted {
		s.complete(ctx, conv, reply.Assessment)
	}

	fields := []zap.Field{
		zap.String("conversation_id", conv.ID),
		zap.String("step", turn.Step.String()),
		zap.Bool("complete", turn.Complete),
		zap.Duration("duration", s.now().Sub(start)),
	}
	if turn.Assessment != nil {
		fields = append(fields, zap.String("outcome", string(turn.Assessment.Assessment.Outcome)))
	}
	s.logger.Info("processed turn", fields...)

	return turn, nil
}

func (s *Service) openConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		conv, err := s.store.CreateConversation(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		s.logger.Info("started conversation", zap.String("conversation_id", conv.ID), zap.String("user_id", userID))
		return conv, nil
	}

	conv, err := s.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != "" && conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

func (s *Service) lookup(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	return conv, nil
}

// resolveStep reloads the conversation state under the turn lock and resolves
// the step, reporting whether the conversation was already completed. When any
// lookup fails it estimates the step from the user message count instead.
func (s *Service) resolveStep(ctx context.Context, conversationID string) (Step, bool) {
	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		s.logger.Warn("load history for step", zap.String("conversation_id", conversationID), zap.Error(err))
		return FallbackStep(0), false
	}
	userMessages := models.CountRole(history, models.RoleUser)

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn("load status for step", zap.String("conversation_id", conversationID), zap.Error(err))
		return FallbackStep(userMessages), false
	}

	fields, err := s.store.GetFieldSet(ctx, conversationID)
	if err != nil {
		s.logger.Warn("load fields for step", zap.String("conversation_id", conversationID), zap.Error(err))
		return FallbackStep(userMessages), conv.Completed()
	}

	return Resolve(Snapshot{Status: conv.Status, Messages: history, Fields: fields}), conv.Completed()
}

func (s *Service) complete(ctx context.Context, conv *models.Conversation, result *models.AssessmentResult) {
	if err := s.store.MarkCompleted(ctx, conv.ID); err != nil {
		s.logger.Error("mark conversation completed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	if result == nil || s.archiver == nil {
		return
	}
	if err := s.archiver.ArchiveAssessment(ctx, conv.ID, result); err != nil {
		s.logger.Error("archive assessment", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

func (s *Service) failTurn(ctx context.Context, turn *Turn, op string, cause error) *Turn {
	s.logger.Error("turn failed",
		zap.String("conversation_id", turn.ConversationID),
		zap.String("op", op),
		zap.Error(cause),
	)
	turn.Response = GenericErrorReply
	turn.Complete = false
	turn.Assessment = nil
	if _, err := s.store.AppendMessage(ctx, turn.ConversationID, models.RoleAssistant, GenericErrorReply); err != nil {
		s.logger.Warn("append error reply", zap.String("conversation_id", turn.ConversationID), zap.Error(err))
	}
	return turn
}

// StartConversation opens an empty conversation, as the reset endpoint does.
func (s *Service) StartConversation(ctx context.Context, userID string) (*models.Conversation, error) {
	conv, err := s.store.CreateConversation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	s.logger.Info("reset conversation", zap.String("conversation_id", conv.ID), zap.String("user_id", userID))
	return conv, nil
}

// History returns the ordered messages of a conversation.
func (s *Service) History(ctx context.Context, conversationID, userID string) ([]models.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", conversationID, err)
	}
	return history, nil
}

// Continue reports the progress of an unfinished conversation.
func (s *Service) Continue(ctx context.Context, conversationID, userID string) (*Progress, error) {
	conv, err := s.authorize(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conv.Completed() {
		return nil, ErrConversationCompleted
	}

	history, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", conversationID, err)
	}
	fields, err := s.store.GetFieldSet(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load fields %s: %w", conversationID, err)
	}

	// The next user message is what the step applies to, so count it in.
	next := append(append([]models.Message(nil), history...), models.Message{Role: models.RoleUser})
	step := Resolve(Snapshot{Status: conv.Status, Messages: next, Fields: fields})

	progress := &Progress{
		ConversationID: conv.ID,
		CurrentStep:    int(step),
		StepName:       step.String(),
		MessageCount:   len(history),
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		progress.LastMessage = &last
	}
	return progress, nil
}

// ListConversations returns the conversations started by userID.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrForbidden
	}
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.lookup(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != "" && conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}
