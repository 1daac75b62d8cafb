package llm

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/wuwenbin0122/mortgage-advisor/internal/utils"
)

type AnthropicInterpreter struct {
	client      sdk.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

func NewAnthropic(cfg utils.LLMConfig) *AnthropicInterpreter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}
	if cfg.AnthropicBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.AnthropicBaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &AnthropicInterpreter{
		client:      sdk.NewClient(opts...),
		model:       cfg.AnthropicModel,
		temperature: float64(cfg.Temperature),
		maxTokens:   maxTokens,
		timeout:     cfg.Timeout,
	}
}

func (c *AnthropicInterpreter) Interpret(ctx context.Context, text, instruction string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		System:      []sdk.TextBlockParam{{Text: instruction}},
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(text))},
		Temperature: sdk.Float(c.temperature),
	})
	if err != nil {
		return "", eris.Wrap(err, "anthropic: create message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return cleanAnswer(b.String())
}
