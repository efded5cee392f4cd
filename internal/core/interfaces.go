package core

import (
	"context"
	"time"

	"trustlayer-backend-go/internal/models"
)

// SecretService owns the lifecycle of named secrets per environment:
// create/overwrite, decrypt-on-read, rotation, soft-disable, deletion,
// metadata listing, TTL-bounded caching and the audit trail.
type SecretService interface {
	// SetSecret encrypts value and persists it under (key, environment).
	// A second call for the same pair overwrites.
	SetSecret(ctx context.Context, key, value, environment string, meta models.SecretMetadata, userID string) (*models.Secret, error)
	// GetSecret returns the decrypted value. Served from the TTL cache when
	// fresh; otherwise loaded from storage.
	GetSecret(ctx context.Context, key, environment, userID string) (string, error)
	// RotateSecret replaces the secret's value (generated by type-specific
	// policy when newValue is empty) keeping id, key and environment.
	RotateSecret(ctx context.Context, key, environment, newValue, userID string) (string, error)
	// DeactivateSecret soft-disables the secret; reads fail until it is
	// overwritten or deleted.
	DeactivateSecret(ctx context.Context, key, environment, userID string) error
	// DeleteSecret removes the persisted record and cache entry.
	DeleteSecret(ctx context.Context, key, environment, userID string) error
	// ListSecrets returns envelope-stripped metadata, optionally filtered by
	// environment.
	ListSecrets(ctx context.Context, environment string) ([]*models.Secret, error)
	// RotateDueSecrets rotates every secret whose rotation interval has
	// elapsed and returns how many were rotated. Driven by the cron sweep.
	RotateDueSecrets(ctx context.Context) (int, error)
	// SweepCache evicts expired cache entries. Driven by the cron sweep.
	SweepCache()
}

// AuditService records immutable audit entries for every secret operation,
// into a bounded in-memory ring and an optional durable sink.
type AuditService interface {
	Record(ctx context.Context, entry models.AuditEntry) error
	// Entries returns a snapshot of retained entries, oldest first. An empty
	// secretID returns everything.
	Entries(secretID string) []models.AuditEntry
}

// ConfigService is the typed configuration and feature-flag registry.
type ConfigService interface {
	SetConfig(ctx context.Context, key string, value interface{}, environment string, opts models.ConfigOptions) error
	GetConfig(ctx context.Context, key, environment string, defaultValue interface{}) (interface{}, error)
	DeleteConfig(ctx context.Context, key, environment string) error
	// WatchConfig registers a callback invoked synchronously after every
	// successful SetConfig/DeleteConfig for key. The returned func
	// unsubscribes.
	WatchConfig(key string, callback func(value interface{}, environment string)) (unsubscribe func())
	SetFeatureFlag(ctx context.Context, name string, enabled bool, environment string, conditions []models.FlagCondition, metadata map[string]interface{}) error
	IsFeatureEnabled(name, environment string, evalCtx models.EvaluationContext) bool
	// ValidateEnvironment collects every required configuration that does not
	// resolve to a value.
	ValidateEnvironment(ctx context.Context, environment string) models.EnvironmentValidationResult
	// ExportConfigurations returns a snapshot of non-secret configurations
	// for external inspection tooling.
	ExportConfigurations(environment string) []*models.Configuration
}

// CredentialService issues, validates and revokes API keys, and keeps the
// endpoint registry the pipeline stages consult.
type CredentialService interface {
	GenerateAPIKey(ctx context.Context, name, ownerUserID string, scopes, permissions []string, rateLimit *models.RateLimit, expiresAt *time.Time, environment string) (*models.APIKey, error)
	// ValidateAPIKey is a cache-only lookup (the hot authentication path must
	// not touch durable storage). An unknown key returns (nil, nil) so
	// callers can fall through to other auth methods; a known-but-unusable
	// key fails with ErrAuthenticationFailed.
	ValidateAPIKey(ctx context.Context, bearerValue string) (*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id, userID string) error
	ListAPIKeys(environment string) []*models.APIKey
	// WarmCache rehydrates the bearer-value cache from the secret store.
	// Must be called once at startup, before the first ValidateAPIKey.
	WarmCache(ctx context.Context) (int, error)
	RegisterEndpoint(endpoint models.Endpoint)
	EndpointFor(method, path string) (models.Endpoint, bool)
}

// TelemetryService is the structured logging, metrics and alerting sink
// consumed by the other services.
type TelemetryService interface {
	Log(level models.LogLevel, message, category string, opts ...LogOption)
	AddLogListener(listener func(models.LogEntry)) (remove func())
	RecordMetric(name string, value float64, metricType models.MetricType, tags map[string]string)
	GetMetricStats(name string) (models.MetricStats, bool)
	CreateAlert(name string, severity models.AlertSeverity, channels []string) (*models.Alert, error)
	TriggerAlert(ctx context.Context, name string, details map[string]interface{})
	SetAlertEnabled(name string, enabled bool) error
	RegisterChannel(name string, channel AlertChannel)
	ExportLogs() []models.LogEntry
	ExportMetrics() []models.Metric
	// SweepRetention trims metric samples older than the retention window.
	// Driven by the cron sweep.
	SweepRetention()
}

// AlertChannel is a pluggable dispatch sink identified by name. Dispatch is
// attempted per channel independently; a failing channel never blocks the
// others.
type AlertChannel interface {
	Dispatch(ctx context.Context, alert models.Alert, details map[string]interface{}) error
}
