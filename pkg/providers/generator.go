package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/wabridge/pkg/config"
	"github.com/sipeed/wabridge/pkg/logger"
)

type GeneratorError string

func (e GeneratorError) Error() string { return string(e) }

const ErrEmptyReply GeneratorError = "model returned an empty reply"

// LLM produces a single reply for a user prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Generator wraps an LLMProvider with the bot's system prompt and limits.
type Generator struct {
	provider    LLMProvider
	system      string
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
}

func NewGenerator(provider LLMProvider, cfg config.AIConfig) *Generator {
	model := cfg.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &Generator{
		provider:    provider,
		system:      cfg.SystemPrompt,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := make([]Message, 0, 2)
	if g.system != "" {
		messages = append(messages, Message{Role: "system", Content: g.system})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	// Zero leaves sampling to the model; some reasoning models reject it.
	options := map[string]interface{}{}
	if g.temperature > 0 {
		options["temperature"] = g.temperature
	}
	if g.maxTokens > 0 {
		options["max_tokens"] = g.maxTokens
	}

	start := time.Now()
	resp, err := g.provider.Chat(ctx, messages, g.model, options)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	fields := map[string]interface{}{
		"model":         g.model,
		"finish_reason": resp.FinishReason,
		"duration_ms":   time.Since(start).Milliseconds(),
	}
	if resp.Usage != nil {
		fields["total_tokens"] = resp.Usage.TotalTokens
	}
	logger.DebugCF("providers", "Reply generated", fields)
	return reply, nil
}

var _ LLM = (*Generator)(nil)
