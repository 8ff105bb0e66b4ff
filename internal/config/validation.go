package config

import (
	"fmt"
	"net/url"
)

// Validate checks configuration values and fails fast with sentinel
// errors that callers can test with errors.Is.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f out of range [0, 2]", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 128000 {
		return fmt.Errorf("%w: max tokens %d out of range [1, 128000]", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.ProviderBaseURL == "" {
		return fmt.Errorf("%w: base URL must not be empty", ErrInvalidProviderURL)
	}
	if u, err := url.Parse(c.ProviderBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidProviderURL, c.ProviderBaseURL)
	}

	return nil
}

// ValidateServe performs additional checks required before starting the
// HTTP server. The provider API key is only required at serve time so
// that offline commands (migrate, version) work without one.
func (c *Config) ValidateServe() error {
	if c.ProviderAPIKey == "" {
		return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
