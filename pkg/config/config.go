// Package config loads wabridge settings from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ConfigError string

func (e ConfigError) Error() string { return string(e) }

const (
	ErrBackendURLRequired ConfigError = "backend url is required (BACKEND_URL)"
	ErrUnknownProvider    ConfigError = "unknown ai provider"
	ErrInvalidTimeout     ConfigError = "timeouts must be positive"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway" envPrefix:"GATEWAY_"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp" envPrefix:"WA_"`
	Backend  BackendConfig  `yaml:"backend" envPrefix:"BACKEND_"`
	Bot      BotConfig      `yaml:"bot" envPrefix:"BOT_"`
	AI       AIConfig       `yaml:"ai" envPrefix:"AI_"`
	Relay    RelayConfig    `yaml:"relay" envPrefix:"RELAY_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

type GatewayConfig struct {
	Host        string   `yaml:"host" env:"HOST"`
	Port        int      `yaml:"port" env:"PORT"`
	APIKey      string   `yaml:"api_key" env:"API_KEY"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// Addr returns host:port for net/http.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type WhatsAppConfig struct {
	SessionDB string  `yaml:"session_db" env:"SESSION_DB"`
	SendRate  float64 `yaml:"send_rate" env:"SEND_RATE"`
	SendBurst int     `yaml:"send_burst" env:"SEND_BURST"`
}

type BackendConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	Secret  string        `yaml:"secret" env:"SECRET"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type BotConfig struct {
	AIEnabled    bool   `yaml:"ai_enabled" env:"AI_ENABLED"`
	EchoPrefix   string `yaml:"echo_prefix" env:"ECHO_PREFIX"`
	FallbackText string `yaml:"fallback_text" env:"FALLBACK_TEXT"`
}

type AIConfig struct {
	Provider     string        `yaml:"provider" env:"PROVIDER"`
	Model        string        `yaml:"model" env:"MODEL"`
	SystemPrompt string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	MaxTokens    int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature  float64       `yaml:"temperature" env:"TEMPERATURE"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	APIBase      string        `yaml:"api_base" env:"API_BASE"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type RelayConfig struct {
	MessageTimeout time.Duration `yaml:"message_timeout" env:"MESSAGE_TIMEOUT"`
	AllowFrom      []string      `yaml:"allow_from" env:"ALLOW_FROM" envSeparator:","`
	ReceiptsDir    string        `yaml:"receipts_dir" env:"RECEIPTS_DIR"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		WhatsApp: WhatsAppConfig{
			SessionDB: "file:wabridge.db?_foreign_keys=on",
			SendRate:  1,
			SendBurst: 5,
		},
		Backend: BackendConfig{
			Timeout: 15 * time.Second,
		},
		Bot: BotConfig{
			EchoPrefix:   "Echo: ",
			FallbackText: "Sorry, AI is currently unavailable. Please try again later.",
		},
		AI: AIConfig{
			Provider:     ProviderOpenAI,
			SystemPrompt: "You are a helpful WhatsApp assistant. Keep replies short.",
			MaxTokens:    512,
			Temperature:  0.7,
			Timeout:      30 * time.Second,
		},
		Relay: RelayConfig{
			MessageTimeout: 2 * time.Minute,
			ReceiptsDir:    "receipts",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a Config. path may be empty, in which case only defaults and
// the environment are consulted. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	c.Backend.URL = strings.TrimSpace(c.Backend.URL)
	c.Relay.AllowFrom = trimAll(c.Relay.AllowFrom)
	c.Gateway.CORSOrigins = trimAll(c.Gateway.CORSOrigins)
}

func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return ErrBackendURLRequired
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid backend url %q", c.Backend.URL)
	}
	if c.Bot.AIEnabled {
		switch c.AI.Provider {
		case ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownProvider, c.AI.Provider)
		}
	}
	if c.Backend.Timeout <= 0 || c.Relay.MessageTimeout <= 0 || c.AI.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	if c.WhatsApp.SendRate <= 0 || c.WhatsApp.SendBurst <= 0 {
		return fmt.Errorf("send rate and burst must be positive")
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
