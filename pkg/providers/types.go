package providers

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type LLMResponse struct {
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	Usage        *UsageInfo `json:"usage,omitempty"`
}

type UsageInfo struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// LLMProvider is a chat-completion backend. Recognised options are
// "max_tokens" (int) and "temperature" (float64).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

func intOption(options map[string]interface{}, key string) (int64, bool) {
	switch v := options[key].(type) {
	case int:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case float64:
		return int64(v), v > 0
	}
	return 0, false
}

func floatOption(options map[string]interface{}, key string) (float64, bool) {
	switch v := options[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
