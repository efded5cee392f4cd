package config

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port    string `mapstructure:"PORT"`
	GinMode string `mapstructure:"GIN_MODE"`

	MasterKeyBase64 string `mapstructure:"MASTER_KEY"` // Base64 encoded
	JWTSigningKey   string `mapstructure:"JWT_SIGNING_KEY"`

	SecretStoreDir  string `mapstructure:"SECRET_STORE_DIR"`
	AuditLogFile    string `mapstructure:"AUDIT_LOG_FILE"` // optional durable audit sink
	CacheTTLSeconds int    `mapstructure:"CACHE_TTL_SECONDS"`

	ClientURL string `mapstructure:"CLIENT_URL"`

	RateLimitWindowMs int `mapstructure:"RATE_LIMIT_WINDOW_MS"`
	RateLimitRequests int `mapstructure:"RATE_LIMIT_REQUESTS"`

	LogMaxEntries          int    `mapstructure:"LOG_MAX_ENTRIES"`
	MetricMaxSamples       int    `mapstructure:"METRIC_MAX_SAMPLES"`
	MetricRetentionSeconds int    `mapstructure:"METRIC_RETENTION_SECONDS"`
	AlertWebhookURL        string `mapstructure:"ALERT_WEBHOOK_URL"` // optional webhook alert channel

	masterKey []byte
}

var appConfig *Config

// LoadConfig loads configuration from environment variables using Viper. A
// .env file in the working directory is honored when present.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("GIN_MODE", "debug")
	viper.SetDefault("SECRET_STORE_DIR", "./data/secrets")
	viper.SetDefault("CACHE_TTL_SECONDS", 300)
	viper.SetDefault("RATE_LIMIT_WINDOW_MS", 60_000)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("LOG_MAX_ENTRIES", 1000)
	viper.SetDefault("METRIC_MAX_SAMPLES", 500)
	viper.SetDefault("METRIC_RETENTION_SECONDS", 3600)

	// Bind environment variables
	for _, key := range []string{
		"PORT", "GIN_MODE",
		"MASTER_KEY", "JWT_SIGNING_KEY",
		"SECRET_STORE_DIR", "AUDIT_LOG_FILE", "CACHE_TTL_SECONDS",
		"CLIENT_URL",
		"RATE_LIMIT_WINDOW_MS", "RATE_LIMIT_REQUESTS",
		"LOG_MAX_ENTRIES", "METRIC_MAX_SAMPLES", "METRIC_RETENTION_SECONDS",
		"ALERT_WEBHOOK_URL",
	} {
		_ = viper.BindEnv(key)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}

	// Validate required fields
	if cfg.MasterKeyBase64 == "" {
		return nil, errors.New("MASTER_KEY is required")
	}
	masterKey, err := base64.StdEncoding.DecodeString(cfg.MasterKeyBase64)
	if err != nil {
		return nil, errors.New("MASTER_KEY must be valid base64: " + err.Error())
	}
	if len(masterKey) < 32 {
		return nil, errors.New("MASTER_KEY must decode to at least 32 bytes")
	}
	cfg.masterKey = masterKey

	if cfg.JWTSigningKey == "" {
		return nil, errors.New("JWT_SIGNING_KEY is required")
	}
	if cfg.ClientURL == "" {
		return nil, errors.New("CLIENT_URL is required")
	}

	appConfig = &cfg
	return appConfig, nil
}

// MasterKey returns the decoded master key.
func (c *Config) MasterKey() []byte {
	return c.masterKey
}

// CacheTTL returns the secret cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// MetricRetention returns the telemetry retention window as a duration.
func (c *Config) MetricRetention() time.Duration {
	return time.Duration(c.MetricRetentionSeconds) * time.Second
}

// GetConfig returns the loaded application configuration.
// It will panic if LoadConfig has not been called successfully.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded; call LoadConfig first")
	}
	return appConfig
}
