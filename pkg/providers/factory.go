package providers

import (
	"fmt"

	"github.com/sipeed/wabridge/pkg/config"
)

// CreateProvider builds the provider named by cfg.Provider.
func CreateProvider(cfg config.AIConfig) (LLMProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key configured for provider %q (AI_API_KEY)", cfg.Provider)
	}
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return NewOpenAIProvider(cfg.APIKey, cfg.APIBase), nil
	case config.ProviderAnthropic:
		return NewAnthropicProvider(cfg.APIKey, cfg.APIBase), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, cfg.Provider)
	}
}
