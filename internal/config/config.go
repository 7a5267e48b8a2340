// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultJWTExpiresIn  = "24h"
	DefaultDedupWindow   = "10m"
	DefaultReleaseGrace  = "5s"
	DefaultEvictionGrace = "5m"
	DefaultSweepSpec     = "@every 1m"
	DefaultPollSpec      = "@every 2m"
	DefaultMaxRetries    = 3
	DefaultRetryDelayMS  = 500
	DefaultScanLimit     = 10
	DefaultMemoryLimit   = 5
	DefaultMaxTokens     = 1024
	DefaultTemperature   = 0.7
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Auth         AuthConfig         `toml:"auth"`
	AdminBackend BackendConfig      `toml:"admin_backend"`
	Secrets      SecretsConfig      `toml:"secrets"`
	LLM          LLMConfig          `toml:"llm"`
	Embeddings   EmbeddingsConfig   `toml:"embeddings"`
	Channels     ChannelsConfig     `toml:"channels"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AuthConfig holds JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// BackendConfig holds credentials for a data backend: a postgres:// DSN or an
// https:// REST base URL plus API keys.
type BackendConfig struct {
	URL            string `toml:"url"`
	AnonKey        string `toml:"anon_key"`
	ServiceRoleKey string `toml:"service_role_key"`
}

// SecretsConfig holds the master key used to encrypt tenant credential blobs.
type SecretsConfig struct {
	MasterKey string `toml:"master_key"`
}

// LLMConfig holds the OpenAI-compatible chat completion provider.
type LLMConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// EmbeddingsConfig holds the OpenAI-compatible embedding provider.
type EmbeddingsConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ChannelsConfig holds outbound channel adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
	Slack    SlackConfig    `toml:"slack"`
	// Messages per second allowed per chat on any adapter.
	RatePerChat float64 `toml:"rate_per_chat"`
}

// TelegramConfig holds the default bot token for telegram delivery.
type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

// SlackConfig holds the bot token for slack delivery.
type SlackConfig struct {
	BotToken string `toml:"bot_token"`
}

// OrchestratorConfig tunes dedup windows, status grace periods, retries, and
// the unanswered-message poll schedule.
type OrchestratorConfig struct {
	DedupWindow       string `toml:"dedup_window"`
	ReleaseGrace      string `toml:"release_grace"`
	EvictionGrace     string `toml:"eviction_grace"`
	SweepSpec         string `toml:"sweep_spec"`
	PollSpec          string `toml:"poll_spec"`
	PollEnabled       bool   `toml:"poll_enabled"`
	MaxRetries        int    `toml:"max_retries"`
	RetryDelayMS      int    `toml:"retry_delay_ms"`
	TenantScanLimit   int    `toml:"tenant_scan_limit"`
	MemoryRetrieveMax int    `toml:"memory_retrieve_max"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		LLM: LLMConfig{
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Channels: ChannelsConfig{
			RatePerChat: 1,
		},
		Orchestrator: OrchestratorConfig{
			DedupWindow:       DefaultDedupWindow,
			ReleaseGrace:      DefaultReleaseGrace,
			EvictionGrace:     DefaultEvictionGrace,
			SweepSpec:         DefaultSweepSpec,
			PollSpec:          DefaultPollSpec,
			MaxRetries:        DefaultMaxRetries,
			RetryDelayMS:      DefaultRetryDelayMS,
			TenantScanLimit:   DefaultScanLimit,
			MemoryRetrieveMax: DefaultMemoryLimit,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
