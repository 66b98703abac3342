package main

import (
	"strings"
	"testing"
	"time"
)

func TestParseConfig(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("RETRY_BASE_DELAY", "2s")

	cfg, err := parseConfig()
	if err != nil {
		t.Fatalf("parseConfig() error = %v", err)
	}

	if cfg.Backend != backendGemini || cfg.Storage != storageMemory {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	p := cfg.policy()
	if p.MaxAttempts != 4 || p.BaseDelay != 2*time.Second || p.MaxDelay != time.Minute || p.Multiplier != 2 {
		t.Errorf("unexpected retry policy %+v", p)
	}
	if cfg.MaxFileBytes != 20<<20 {
		t.Errorf("unexpected file limit %d", cfg.MaxFileBytes)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend:          backendGemini,
			GeminiAPIKey:     "key",
			Storage:          storageMemory,
			MaxFileBytes:     1,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   time.Second,
			RetryMultiplier:  2,
			RetryMaxDelay:    time.Minute,
			RetryJitter:      0.1,
		}
	}

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "openai without token", modify: func(c *Config) { c.Backend = backendOpenAI }, wantErr: "OPEN_AI_TOKEN"},
		{name: "openai", modify: func(c *Config) { c.Backend = backendOpenAI; c.OpenAIToken = "t" }},
		{name: "gemini without key", modify: func(c *Config) { c.GeminiAPIKey = "" }, wantErr: "GEMINI_API_KEY"},
		{name: "unknown backend", modify: func(c *Config) { c.Backend = "claude" }, wantErr: "unknown backend"},
		{name: "redis without url", modify: func(c *Config) { c.Storage = storageRedis }, wantErr: "REDIS_URL"},
		{name: "unknown storage", modify: func(c *Config) { c.Storage = "disk" }, wantErr: "unknown history storage"},
		{name: "no attempts", modify: func(c *Config) { c.RetryMaxAttempts = 0 }, wantErr: "attempts"},
		{name: "no file limit", modify: func(c *Config) { c.MaxFileBytes = 0 }, wantErr: "MAX_FILE_BYTES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
