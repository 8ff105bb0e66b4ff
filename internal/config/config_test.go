package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		ModelName:       DefaultModel,
		Temperature:     DefaultTemperature,
		MaxTokens:       DefaultMaxTokens,
		ProviderBaseURL: "https://api.openai.com/v1",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresUser:    "digibot",
		PostgresDBName:  "digibot",
		PostgresSSLMode: "disable",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "empty model", mutate: func(c *Config) { c.ModelName = "" }, wantErr: true},
		{name: "negative temperature", mutate: func(c *Config) { c.Temperature = -0.1 }, wantErr: true},
		{name: "temperature too high", mutate: func(c *Config) { c.Temperature = 2.5 }, wantErr: true},
		{name: "zero max tokens", mutate: func(c *Config) { c.MaxTokens = 0 }, wantErr: true},
		{name: "empty postgres host", mutate: func(c *Config) { c.PostgresHost = "" }, wantErr: true},
		{name: "port out of range", mutate: func(c *Config) { c.PostgresPort = 70000 }, wantErr: true},
		{name: "empty provider url", mutate: func(c *Config) { c.ProviderBaseURL = "" }, wantErr: true},
		{name: "non-http provider url", mutate: func(c *Config) { c.ProviderBaseURL = "ftp://example.com" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe_RequiresAPIKey(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateServe(); err == nil {
		t.Error("ValidateServe() without API key should fail")
	}

	cfg.ProviderAPIKey = "sk-test"
	if err := cfg.ValidateServe(); err != nil {
		t.Errorf("ValidateServe() with API key: %v", err)
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "super_secret_password"
	cfg.ProviderAPIKey = "sk-verysecretapikey123"

	out := cfg.String()

	if strings.Contains(out, "super_secret_password") {
		t.Errorf("String() leaked postgres password: %s", out)
	}
	if strings.Contains(out, "sk-verysecretapikey123") {
		t.Errorf("String() leaked provider API key: %s", out)
	}
	if !strings.Contains(out, maskedValue) {
		t.Errorf("String() should contain mask placeholder: %s", out)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "short fully masked", input: "abc123", want: maskedValue},
		{name: "exactly 8 fully masked", input: "12345678", want: maskedValue},
		{name: "long keeps edges", input: "my_long_secret_key", want: "my<" + maskedValue + ">ey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskSecret(tt.input); got != tt.want {
				t.Errorf("maskSecret(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
