package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	defaultAnthropicMaxTokens = 1024
)

type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, apiBase string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Chat maps system messages onto the system prompt; the messages API does
// not accept them inline. max_tokens is mandatory there, so a default applies.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	if model == "" {
		model = p.GetDefaultModel()
	}
	maxTokens, ok := intOption(options, "max_tokens")
	if !ok {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if t, ok := floatOption(options, "temperature"); ok {
		params.Temperature = anthropic.Float(t)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return &LLMResponse{
		Content:      text.String(),
		FinishReason: string(msg.StopReason),
		Usage: &UsageInfo{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}

func (p *AnthropicProvider) GetDefaultModel() string {
	return defaultAnthropicModel
}

var _ LLMProvider = (*AnthropicProvider)(nil)
