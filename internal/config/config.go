// Package config provides application configuration management.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (PULSE_ prefix, plus provider-standard names)
//  2. Config file (./pulse.yaml)
//  3. Default values
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
//
// Security: secrets (LLM key, auth service key, search key) are masked in
// MarshalJSON and String; never log the Config with %+v.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingLLMKey indicates the LLM provider API key is missing.
	ErrMissingLLMKey = errors.New("missing LLM API key")

	// ErrMissingAuthURL indicates the auth provider base URL is missing.
	ErrMissingAuthURL = errors.New("missing auth base URL")

	// ErrMissingAuthKey indicates the auth provider service key is missing.
	ErrMissingAuthKey = errors.New("missing auth service key")

	// ErrMissingDatabaseURL indicates the database connection URL is missing.
	ErrMissingDatabaseURL = errors.New("missing database URL")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTurns indicates the agent turn ceiling is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidTimeout indicates a timeout value is out of range.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidListenAddr indicates the HTTP listen address is invalid.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidTrendsURL indicates the remote toolset URL is malformed.
	ErrInvalidTrendsURL = errors.New("invalid trends URL")
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (API keys, tokens), update MarshalJSON.
type Config struct {
	// HTTP server
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (set behind reverse proxy)
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// Storage
	DatabaseURL string `mapstructure:"database_url" json:"database_url"` // SENSITIVE: masked in MarshalJSON

	// Auth provider (credential validation is delegated; no local verification)
	AuthBaseURL    string `mapstructure:"auth_base_url" json:"auth_base_url"`
	AuthServiceKey string `mapstructure:"auth_service_key" json:"auth_service_key"` // SENSITIVE: masked in MarshalJSON

	// LLM provider (OpenAI-compatible chat completions)
	LLMBaseURL  string  `mapstructure:"llm_base_url" json:"llm_base_url"`
	LLMAPIKey   string  `mapstructure:"llm_api_key" json:"llm_api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`

	// Agent loop
	MaxTurns    int           `mapstructure:"max_turns" json:"max_turns"`
	ToolTimeout time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`

	// Tools
	SearchAPIKey     string        `mapstructure:"search_api_key" json:"search_api_key"` // SENSITIVE: masked in MarshalJSON; empty disables the search tool
	TrendsURL        string        `mapstructure:"trends_url" json:"trends_url"`         // empty disables the remote toolset
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout" json:"discovery_timeout"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("pulse")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// HTTP defaults
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 0)

	// Logging defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// LLM defaults
	v.SetDefault("llm_base_url", "https://api.openai.com/v1")
	v.SetDefault("model_name", "gpt-4o-mini")
	v.SetDefault("temperature", 0.0)

	// Agent defaults
	v.SetDefault("max_turns", 5)
	v.SetDefault("tool_timeout", 30*time.Second)

	// Tool defaults
	v.SetDefault("discovery_timeout", 5*time.Second)
}

// bindEnvVariables binds environment variables explicitly.
// Secrets keep their provider-standard names (OPENAI_API_KEY, TAVILY_API_KEY);
// everything else uses the PULSE_ prefix.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key string, envVars ...string) {
		if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("listen_addr", "PULSE_LISTEN_ADDR")
	mustBind("cors_origins", "PULSE_CORS_ORIGINS")
	mustBind("trust_proxy", "PULSE_TRUST_PROXY")
	mustBind("rate_burst", "PULSE_RATE_BURST")
	mustBind("log_level", "PULSE_LOG_LEVEL")
	mustBind("log_json", "PULSE_LOG_JSON")

	mustBind("database_url", "DATABASE_URL")

	mustBind("auth_base_url", "PULSE_AUTH_URL", "SUPABASE_URL")
	mustBind("auth_service_key", "PULSE_AUTH_KEY", "SUPABASE_KEY")

	mustBind("llm_base_url", "PULSE_LLM_BASE_URL")
	mustBind("llm_api_key", "OPENAI_API_KEY")
	mustBind("model_name", "PULSE_MODEL_NAME")
	mustBind("temperature", "PULSE_TEMPERATURE")

	mustBind("max_turns", "PULSE_MAX_TURNS")
	mustBind("tool_timeout", "PULSE_TOOL_TIMEOUT")

	mustBind("search_api_key", "TAVILY_API_KEY")
	mustBind("trends_url", "PULSE_TRENDS_URL", "GOOGLE_TRENDS_MCP_URL")
	mustBind("discovery_timeout", "PULSE_DISCOVERY_TIMEOUT")
}

// LogSlogLevel maps the configured log level string to a slog.Level.
// Unknown values fall back to info.
func (c *Config) LogSlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid substring matching against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer ones keep the first and last 2 characters
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - DatabaseURL (embeds credentials)
//   - AuthServiceKey
//   - LLMAPIKey
//   - SearchAPIKey
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.DatabaseURL = maskSecret(a.DatabaseURL)
	a.AuthServiceKey = maskSecret(a.AuthServiceKey)
	a.LLMAPIKey = maskSecret(a.LLMAPIKey)
	a.SearchAPIKey = maskSecret(a.SearchAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
