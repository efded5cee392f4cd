package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
)

// Custom errors for the CredentialService.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAPIKeyNotFound       = errors.New("api key not found")
)

// apiKeySecretPrefix is the logical key prefix of the secrets backing issued
// API keys.
const apiKeySecretPrefix = "api_key_"

// credentialService implements CredentialService. The bearer-value map is a
// cache for O(1) lookups on the hot authentication path; the backing secret
// is canonical. On restart the cache is empty and WarmCache must run before
// the first validation.
//
// Usage counters (usageCount, lastUsedAt) live in the cache only: persisting
// them would put a durable write on every authenticated request, which the
// hot path must not do.
type credentialService struct {
	secrets   SecretService
	telemetry TelemetryService // optional
	logger    *zap.Logger

	keyMu    sync.RWMutex
	byBearer map[string]*models.APIKey
	bearerID map[string]string // key id -> bearer value

	epMu      sync.RWMutex
	endpoints map[string]models.Endpoint
}

// NewCredentialService creates a CredentialService backed by the secret
// store. telemetry may be nil.
func NewCredentialService(secrets SecretService, telemetry TelemetryService, logger *zap.Logger) (CredentialService, error) {
	if secrets == nil {
		return nil, errors.New("credentialService: secret service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &credentialService{
		secrets:   secrets,
		telemetry: telemetry,
		logger:    logger,
		byBearer:  make(map[string]*models.APIKey),
		bearerID:  make(map[string]string),
		endpoints: make(map[string]models.Endpoint),
	}, nil
}

// GenerateAPIKey issues a new key, persists it as a secret named
// api_key_<id> and caches it by bearer value.
func (s *credentialService) GenerateAPIKey(ctx context.Context, name, ownerUserID string, scopes, permissions []string, rateLimit *models.RateLimit, expiresAt *time.Time, environment string) (*models.APIKey, error) {
	if name == "" || ownerUserID == "" || environment == "" {
		return nil, fmt.Errorf("%w: name, owner and environment are required", ErrInvalidInput)
	}

	bearer, err := crypto.GenerateAPIKey("tlk")
	if err != nil {
		return nil, fmt.Errorf("failed to generate bearer value: %w", err)
	}

	key := &models.APIKey{
		ID:          crypto.GenerateUUID(),
		Key:         bearer,
		Name:        name,
		OwnerUserID: ownerUserID,
		Scopes:      scopes,
		Permissions: permissions,
		RateLimit:   rateLimit,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
		Environment: environment,
	}

	payload, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode api key record: %w", err)
	}

	if _, err := s.secrets.SetSecret(ctx, apiKeySecretPrefix+key.ID, string(payload), environment, models.SecretMetadata{
		Type:        models.SecretTypeAPIKey,
		Description: "api key " + name + " for " + ownerUserID,
		Tags:        []string{"api-key"},
		ExpiresAt:   expiresAt,
	}, ownerUserID); err != nil {
		return nil, fmt.Errorf("failed to persist api key secret: %w", err)
	}

	s.keyMu.Lock()
	s.byBearer[bearer] = key.Clone()
	s.bearerID[key.ID] = bearer
	s.keyMu.Unlock()

	if s.telemetry != nil {
		s.telemetry.RecordMetric("apikeys.issued", 1, models.MetricCounter, nil)
	}
	return key.Clone(), nil
}

// ValidateAPIKey authenticates a bearer value from the cache alone. Unknown
// keys return (nil, nil) so callers can fall through to other auth methods;
// inactive or expired keys fail with ErrAuthenticationFailed.
func (s *credentialService) ValidateAPIKey(ctx context.Context, bearerValue string) (*models.APIKey, error) {
	if bearerValue == "" {
		return nil, nil
	}

	s.keyMu.RLock()
	key, ok := s.byBearer[bearerValue]
	s.keyMu.RUnlock()
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()
	if !key.IsActive {
		return nil, fmt.Errorf("%w: api key is revoked", ErrAuthenticationFailed)
	}
	if key.IsExpired(now) {
		return nil, fmt.Errorf("%w: api key has expired", ErrAuthenticationFailed)
	}

	// Copy-on-write usage bookkeeping on the cache entry. Re-read under the
	// write lock: a revocation may have evicted the bearer since the read
	// above, and writing the stale clone back would resurrect the key.
	s.keyMu.Lock()
	current, stillPresent := s.byBearer[bearerValue]
	if !stillPresent {
		s.keyMu.Unlock()
		return nil, nil
	}
	updated := current.Clone()
	updated.UsageCount++
	updated.LastUsedAt = &now
	s.byBearer[bearerValue] = updated
	s.keyMu.Unlock()

	if s.telemetry != nil {
		s.telemetry.RecordMetric("apikeys.validated", 1, models.MetricCounter, nil)
	}
	return updated.Clone(), nil
}

// RevokeAPIKey marks the key inactive, evicts it from the cache and deletes
// the backing secret.
func (s *credentialService) RevokeAPIKey(ctx context.Context, id, userID string) error {
	s.keyMu.Lock()
	bearer, ok := s.bearerID[id]
	var key *models.APIKey
	if ok {
		key = s.byBearer[bearer]
		delete(s.byBearer, bearer)
		delete(s.bearerID, id)
	}
	s.keyMu.Unlock()

	if !ok || key == nil {
		return fmt.Errorf("%w: %s", ErrAPIKeyNotFound, id)
	}

	if err := s.secrets.DeleteSecret(ctx, apiKeySecretPrefix+id, key.Environment, userID); err != nil && !errors.Is(err, ErrSecretNotFound) {
		return fmt.Errorf("failed to delete backing secret for api key %s: %w", id, err)
	}

	if s.telemetry != nil {
		s.telemetry.RecordMetric("apikeys.revoked", 1, models.MetricCounter, nil)
	}
	return nil
}

// ListAPIKeys returns redacted cache entries, optionally filtered by
// environment.
func (s *credentialService) ListAPIKeys(environment string) []*models.APIKey {
	s.keyMu.RLock()
	defer s.keyMu.RUnlock()

	var out []*models.APIKey
	for _, key := range s.byBearer {
		if environment != "" && key.Environment != environment {
			continue
		}
		out = append(out, key.Redacted())
	}
	return out
}

// WarmCache rehydrates the bearer cache from the secret store. Deliberately
// the only storage access on the validation path's behalf: per-request
// fallthrough to storage is not performed (see service comment).
func (s *credentialService) WarmCache(ctx context.Context) (int, error) {
	metadata, err := s.secrets.ListSecrets(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list secrets for api key warm-up: %w", err)
	}

	loaded := 0
	for _, meta := range metadata {
		if meta.Type != models.SecretTypeAPIKey || !strings.HasPrefix(meta.Key, apiKeySecretPrefix) {
			continue
		}
		payload, err := s.secrets.GetSecret(ctx, meta.Key, meta.Environment, "api-key-warmup")
		if err != nil {
			s.logger.Warn("failed to load api key secret during warm-up",
				zap.String("key", meta.Key), zap.Error(err))
			continue
		}
		var key models.APIKey
		if err := json.Unmarshal([]byte(payload), &key); err != nil {
			s.logger.Warn("corrupt api key record during warm-up",
				zap.String("key", meta.Key), zap.Error(err))
			continue
		}

		s.keyMu.Lock()
		s.byBearer[key.Key] = key.Clone()
		s.bearerID[key.ID] = key.Key
		s.keyMu.Unlock()
		loaded++
	}
	return loaded, nil
}

// RegisterEndpoint adds (or replaces) an endpoint in the registry.
func (s *credentialService) RegisterEndpoint(endpoint models.Endpoint) {
	s.epMu.Lock()
	s.endpoints[endpoint.RouteKey()] = endpoint
	s.epMu.Unlock()
}

// EndpointFor looks up a registered endpoint by method and path.
func (s *credentialService) EndpointFor(method, path string) (models.Endpoint, bool) {
	s.epMu.RLock()
	defer s.epMu.RUnlock()
	ep, ok := s.endpoints[method+" "+path]
	return ep, ok
}
