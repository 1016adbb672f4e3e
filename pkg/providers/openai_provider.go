package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider talks to the OpenAI chat completions API or any
// OpenAI-compatible host when apiBase is set.
type OpenAIProvider struct {
	client openai.Client
}

func NewOpenAIProvider(apiKey, apiBase string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error) {
	if model == "" {
		model = p.GetDefaultModel()
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if n, ok := intOption(options, "max_tokens"); ok {
		params.MaxCompletionTokens = openai.Int(n)
	}
	if t, ok := floatOption(options, "temperature"); ok {
		params.Temperature = openai.Float(t)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat completion: no choices returned")
	}

	choice := resp.Choices[0]
	return &LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: &UsageInfo{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *OpenAIProvider) GetDefaultModel() string {
	return defaultOpenAIModel
}

var _ LLMProvider = (*OpenAIProvider)(nil)
