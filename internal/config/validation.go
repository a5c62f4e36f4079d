package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Required external collaborators (fail-fast: a server without any of
	// these cannot complete a single turn)
	if c.LLMAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingLLMKey)
	}
	if c.AuthBaseURL == "" {
		return fmt.Errorf("%w: set PULSE_AUTH_URL", ErrMissingAuthURL)
	}
	if _, err := url.ParseRequestURI(c.AuthBaseURL); err != nil {
		return fmt.Errorf("%w: auth_base_url %q is not a URL", ErrMissingAuthURL, c.AuthBaseURL)
	}
	if c.AuthServiceKey == "" {
		return fmt.Errorf("%w: set PULSE_AUTH_KEY", ErrMissingAuthKey)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: set DATABASE_URL", ErrMissingDatabaseURL)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range per OpenAI chat completions: 0.0 to 2.0
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// The turn ceiling bounds tool use per request; 20 is already generous
	if c.MaxTurns < 1 || c.MaxTurns > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	if c.ToolTimeout <= 0 {
		return fmt.Errorf("%w: tool_timeout must be positive, got %s", ErrInvalidTimeout, c.ToolTimeout)
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("%w: discovery_timeout must be positive, got %s", ErrInvalidTimeout, c.DiscoveryTimeout)
	}

	// Listen address: ":8000" or "host:port"
	if c.ListenAddr == "" || !strings.Contains(c.ListenAddr, ":") {
		return fmt.Errorf("%w: %q (expected host:port)", ErrInvalidListenAddr, c.ListenAddr)
	}

	if c.TrendsURL != "" {
		if _, err := url.ParseRequestURI(c.TrendsURL); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidTrendsURL, c.TrendsURL)
		}
	}

	return nil
}
