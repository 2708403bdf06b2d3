// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"APP_ENV"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	RedisURL   string `mapstructure:"REDIS_URL"`

	// PublicBaseURL is the externally reachable base used to build one-click
	// approval action links embedded in channel messages.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`

	// Approval channel (Telegram bot).
	TelegramBotToken      string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramWebhookSecret string `mapstructure:"TELEGRAM_WEBHOOK_SECRET"`

	// Secret used to sign approval action tokens embedded in channel messages.
	ActionTokenSecret string `mapstructure:"ACTION_TOKEN_SECRET"`

	// Per-platform OAuth client settings used for token refresh only; the
	// initial consent handshake happens outside this service.
	TwitterClientID      string `mapstructure:"TWITTER_CLIENT_ID"`
	TwitterClientSecret  string `mapstructure:"TWITTER_CLIENT_SECRET"`
	TwitterTokenURL      string `mapstructure:"TWITTER_TOKEN_URL"`
	LinkedInClientID     string `mapstructure:"LINKEDIN_CLIENT_ID"`
	LinkedInClientSecret string `mapstructure:"LINKEDIN_CLIENT_SECRET"`
	LinkedInTokenURL     string `mapstructure:"LINKEDIN_TOKEN_URL"`

	// Trigger cadences.
	GenerateInterval time.Duration `mapstructure:"GENERATE_INTERVAL"`
	PublishInterval  time.Duration `mapstructure:"PUBLISH_INTERVAL"`
	ExpireInterval   time.Duration `mapstructure:"EXPIRE_INTERVAL"`
	CleanupInterval  time.Duration `mapstructure:"CLEANUP_INTERVAL"`

	// Lifecycle tuning.
	ApprovalWindow     time.Duration `mapstructure:"APPROVAL_WINDOW"`
	PublishHours       []int         `mapstructure:"PUBLISH_HOURS"`
	PublishWorkers     int           `mapstructure:"PUBLISH_WORKERS"`
	MaxPublishAttempts int           `mapstructure:"MAX_PUBLISH_ATTEMPTS"`
	RetryBaseDelay     time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetentionDays      int           `mapstructure:"RETENTION_DAYS"`

	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`

	// Tracing.
	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			log.Printf("No profile-specific config 'config.%s.yml' found, using base config and environment", env)
		}
	}

	viper.SetDefault("PORT", "8464")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "postpilot")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8464")
	viper.SetDefault("ACTION_TOKEN_SECRET", "dev-action-secret-change-in-production")
	viper.SetDefault("TWITTER_TOKEN_URL", "https://api.twitter.com/2/oauth2/token")
	viper.SetDefault("LINKEDIN_TOKEN_URL", "https://www.linkedin.com/oauth/v2/accessToken")
	viper.SetDefault("GENERATE_INTERVAL", "6h")
	viper.SetDefault("PUBLISH_INTERVAL", "1h")
	viper.SetDefault("EXPIRE_INTERVAL", "1h")
	viper.SetDefault("CLEANUP_INTERVAL", "24h")
	viper.SetDefault("APPROVAL_WINDOW", "24h")
	viper.SetDefault("PUBLISH_HOURS", []int{9, 14, 18})
	viper.SetDefault("PUBLISH_WORKERS", 5)
	viper.SetDefault("MAX_PUBLISH_ATTEMPTS", 3)
	viper.SetDefault("RETRY_BASE_DELAY", "15m")
	viper.SetDefault("RETENTION_DAYS", 30)
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.ActionTokenSecret == "" {
		return errors.New("ACTION_TOKEN_SECRET is required")
	}
	if len(c.PublishHours) == 0 {
		return errors.New("PUBLISH_HOURS must contain at least one hour")
	}
	for _, h := range c.PublishHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("PUBLISH_HOURS entry %d is out of range", h)
		}
	}
	if c.PublishWorkers <= 0 {
		return errors.New("PUBLISH_WORKERS must be positive")
	}
	if c.MaxPublishAttempts <= 0 {
		return errors.New("MAX_PUBLISH_ATTEMPTS must be positive")
	}
	if c.ApprovalWindow <= 0 {
		return errors.New("APPROVAL_WINDOW must be positive")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	if isProduction {
		if c.ActionTokenSecret == "dev-action-secret-change-in-production" {
			return errors.New("ACTION_TOKEN_SECRET must be changed from the default value in production")
		}
		if len(c.ActionTokenSecret) < 32 {
			return errors.New("ACTION_TOKEN_SECRET must be at least 32 characters in production")
		}
		if c.TelegramBotToken != "" && c.TelegramWebhookSecret == "" {
			return errors.New("TELEGRAM_WEBHOOK_SECRET is required when the Telegram bot is enabled in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
	}

	return nil
}
