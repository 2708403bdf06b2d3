package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:               "8464",
		Env:                "development",
		ActionTokenSecret:  "dev-action-secret-change-in-production",
		PublishHours:       []int{9, 14, 18},
		PublishWorkers:     5,
		MaxPublishAttempts: 3,
		ApprovalWindow:     24 * time.Hour,
	}
}

func TestValidateAcceptsDevelopmentDefaults(t *testing.T) {
	t.Parallel()
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Port = "" }},
		{"missing action token secret", func(c *Config) { c.ActionTokenSecret = "" }},
		{"empty publish hours", func(c *Config) { c.PublishHours = nil }},
		{"publish hour out of range", func(c *Config) { c.PublishHours = []int{9, 25} }},
		{"non-positive workers", func(c *Config) { c.PublishWorkers = 0 }},
		{"non-positive attempts", func(c *Config) { c.MaxPublishAttempts = 0 }},
		{"non-positive window", func(c *Config) { c.ApprovalWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateProductionStrictness(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Env = "production"
	cfg.DBPassword = "str0ng-and-l0ng-enough"

	// Default secret is rejected in production.
	assert.Error(t, cfg.Validate())

	cfg.ActionTokenSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg.ActionTokenSecret = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())

	// Enabling the bot without a webhook secret is rejected.
	cfg.TelegramBotToken = "123:abc"
	assert.Error(t, cfg.Validate())
	cfg.TelegramWebhookSecret = "hook-secret"
	require.NoError(t, cfg.Validate())

	// Weak database passwords are rejected.
	cfg.DBPassword = "password"
	assert.Error(t, cfg.Validate())
}
