// Package llm adapts hosted chat models to the dialogue's Interpreter contract:
// the instruction becomes the system prompt and the applicant's message the
// single user turn.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wuwenbin0122/mortgage-advisor/internal/utils"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var ErrEmptyAnswer = errors.New("llm: model returned no text")

// Interpreter matches dialogue.Interpreter.
type Interpreter interface {
	Interpret(ctx context.Context, text, instruction string) (string, error)
}

// NewInterpreter builds the client for cfg.Provider.
func NewInterpreter(cfg utils.LLMConfig) (Interpreter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("llm: OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("llm: ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// withTimeout bounds a single model call when a timeout is configured.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func cleanAnswer(raw string) (string, error) {
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", ErrEmptyAnswer
	}
	return answer, nil
}
