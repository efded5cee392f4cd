package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

// Custom errors for the SecretService. They are distinguishable so callers
// can decide whether to fall back to a default value.
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrSecretInactive = errors.New("secret is inactive")
	ErrSecretExpired  = errors.New("secret has expired")
	ErrInvalidInput   = errors.New("invalid input")
)

// cachedSecret is what the TTL cache holds: the decrypted value plus the
// metadata snapshot it was decrypted from. Cache hits never touch storage for
// a load.
type cachedSecret struct {
	plaintext string
	secret    *models.Secret
}

// keyedMutex hands out one mutex per key so operations on the same
// (environment, key) pair are serialized while unrelated secrets proceed
// independently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// secretService implements the SecretService interface over a file-backed
// repository, with a TTL cache in front of it and an audit entry for every
// operation, failed ones included.
type secretService struct {
	repo      storage.SecretRepository
	audit     AuditService
	telemetry TelemetryService // optional
	logger    *zap.Logger
	masterKey []byte

	cache *gocache.Cache
	locks *keyedMutex
}

// NewSecretService creates a SecretService. The master key is supplied
// externally at startup and never stored alongside the secrets it protects.
// telemetry may be nil.
func NewSecretService(
	repo storage.SecretRepository,
	audit AuditService,
	telemetry TelemetryService,
	logger *zap.Logger,
	masterKey []byte,
	cacheTTL time.Duration,
) (SecretService, error) {
	if repo == nil || audit == nil {
		return nil, errors.New("secretService: repository and audit service are required")
	}
	if len(masterKey) < 16 {
		return nil, errors.New("secretService: master key must be at least 16 bytes")
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &secretService{
		repo:      repo,
		audit:     audit,
		telemetry: telemetry,
		logger:    logger,
		masterKey: masterKey,
		// Expiry is time-based, not LRU: staleness bounds matter more than
		// memory bounds at the secret counts involved. No background
		// janitor; eviction happens lazily and via SweepCache.
		cache: gocache.New(cacheTTL, 0),
		locks: newKeyedMutex(),
	}, nil
}

// recordAudit appends an audit entry. Sink failures are logged inside the
// audit service and never fail the secret operation itself.
func (s *secretService) recordAudit(ctx context.Context, secretID, userID string, action models.AuditAction, opErr error) {
	entry := models.AuditEntry{
		SecretID:  secretID,
		UserID:    userID,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Success:   opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	_ = s.audit.Record(ctx, entry)
}

func (s *secretService) countMetric(name string) {
	if s.telemetry != nil {
		s.telemetry.RecordMetric(name, 1, models.MetricCounter, nil)
	}
}

// SetSecret encrypts value and persists it. A second call for the same
// (key, environment) overwrites while preserving the secret's identity.
func (s *secretService) SetSecret(ctx context.Context, key, value, environment string, meta models.SecretMetadata, userID string) (*models.Secret, error) {
	if key == "" || environment == "" {
		return nil, fmt.Errorf("%w: key and environment are required", ErrInvalidInput)
	}
	secretType := meta.Type
	if secretType == "" {
		secretType = models.SecretTypeGeneric
	}
	if !secretType.Valid() {
		return nil, fmt.Errorf("%w: unknown secret type %q", ErrInvalidInput, meta.Type)
	}

	storageID := environment + "_" + key
	unlock := s.locks.lock(storageID)
	defer unlock()

	existing, err := s.repo.Load(ctx, environment, key)
	if err != nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionWrite, err)
		return nil, fmt.Errorf("failed to load existing secret: %w", err)
	}

	envelope, err := crypto.Encrypt(value, s.masterKey)
	if err != nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionWrite, err)
		return nil, err
	}

	now := time.Now().UTC()
	secret := &models.Secret{
		ID:                      crypto.GenerateUUID(),
		Key:                     key,
		Type:                    secretType,
		Environment:             environment,
		Description:             meta.Description,
		Tags:                    meta.Tags,
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
		ExpiresAt:               meta.ExpiresAt,
		RotationIntervalSeconds: meta.RotationIntervalSeconds,
		LastRotatedAt:           now,
		Permissions:             meta.Permissions,
		Envelope:                *envelope,
	}
	if existing != nil {
		// overwrite keeps identity and creation time
		secret.ID = existing.ID
		secret.CreatedAt = existing.CreatedAt
		secret.AccessCount = existing.AccessCount
	}

	if err := s.repo.Save(ctx, secret); err != nil {
		// A failed or timed-out write must not leave a cache entry that
		// claims success.
		s.cache.Delete(storageID)
		s.recordAudit(ctx, secret.ID, userID, models.AuditActionWrite, err)
		return nil, fmt.Errorf("failed to persist secret: %w", err)
	}

	s.cache.Set(storageID, &cachedSecret{plaintext: value, secret: secret.Clone()}, gocache.DefaultExpiration)
	s.recordAudit(ctx, secret.ID, userID, models.AuditActionWrite, nil)
	s.countMetric("secrets.write")
	return secret.Metadata(), nil
}

// GetSecret returns the decrypted value. A cache hit within the TTL serves
// the value without a storage load; every call appends a read audit entry and
// a successful read advances the access counters.
func (s *secretService) GetSecret(ctx context.Context, key, environment, userID string) (string, error) {
	if key == "" || environment == "" {
		return "", fmt.Errorf("%w: key and environment are required", ErrInvalidInput)
	}

	storageID := environment + "_" + key
	unlock := s.locks.lock(storageID)
	defer unlock()

	now := time.Now().UTC()

	var entry *cachedSecret
	if hit, found := s.cache.Get(storageID); found {
		entry = hit.(*cachedSecret)
	} else {
		stored, err := s.repo.Load(ctx, environment, key)
		if err != nil {
			s.recordAudit(ctx, storageID, userID, models.AuditActionRead, err)
			return "", fmt.Errorf("failed to load secret: %w", err)
		}
		if stored == nil {
			s.recordAudit(ctx, storageID, userID, models.AuditActionRead, ErrSecretNotFound)
			return "", ErrSecretNotFound
		}
		plaintext, err := crypto.Decrypt(&stored.Envelope, s.masterKey)
		if err != nil {
			// Never swallowed: a decrypt failure can mask tampering.
			s.recordAudit(ctx, stored.ID, userID, models.AuditActionRead, err)
			s.countMetric("secrets.decrypt_failure")
			return "", err
		}
		entry = &cachedSecret{plaintext: plaintext, secret: stored}
	}

	secret := entry.secret
	if !secret.IsActive {
		s.recordAudit(ctx, secret.ID, userID, models.AuditActionRead, ErrSecretInactive)
		return "", ErrSecretInactive
	}
	if secret.IsExpired(now) {
		s.cache.Delete(storageID)
		s.recordAudit(ctx, secret.ID, userID, models.AuditActionRead, ErrSecretExpired)
		return "", ErrSecretExpired
	}

	// Copy-on-write access bookkeeping: build a new snapshot rather than
	// mutating the one other readers may hold.
	updated := secret.Clone()
	updated.AccessCount++
	updated.LastUsedAt = &now
	if err := s.repo.Save(ctx, updated); err != nil {
		// The read itself succeeded; losing one access-count update is
		// tolerable but worth a warning.
		s.logger.Warn("failed to persist secret access metadata",
			zap.String("secret_id", updated.ID), zap.Error(err))
	}
	s.cache.Set(storageID, &cachedSecret{plaintext: entry.plaintext, secret: updated}, gocache.DefaultExpiration)

	s.recordAudit(ctx, secret.ID, userID, models.AuditActionRead, nil)
	s.countMetric("secrets.read")
	return entry.plaintext, nil
}

// replacementValue generates a rotation value by type-specific policy.
func replacementValue(secretType models.SecretType) (string, error) {
	switch secretType {
	case models.SecretTypeAPIKey:
		return crypto.GenerateAPIKey("ak")
	case models.SecretTypeJWTSecret, models.SecretTypeEncryptionKey:
		return crypto.GenerateSecureToken(32)
	default:
		return crypto.GenerateSecureToken(24)
	}
}

// RotateSecret re-encrypts the secret with a new value, preserving its id,
// key and environment, and repopulates the cache entry.
func (s *secretService) RotateSecret(ctx context.Context, key, environment, newValue, userID string) (string, error) {
	if key == "" || environment == "" {
		return "", fmt.Errorf("%w: key and environment are required", ErrInvalidInput)
	}

	storageID := environment + "_" + key
	unlock := s.locks.lock(storageID)
	defer unlock()

	return s.rotateLocked(ctx, key, environment, newValue, userID)
}

// rotateLocked performs the rotation; the caller must hold the per-key lock.
func (s *secretService) rotateLocked(ctx context.Context, key, environment, newValue, userID string) (string, error) {
	storageID := environment + "_" + key

	stored, err := s.repo.Load(ctx, environment, key)
	if err != nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionRotate, err)
		return "", fmt.Errorf("failed to load secret for rotation: %w", err)
	}
	if stored == nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionRotate, ErrSecretNotFound)
		return "", ErrSecretNotFound
	}
	if !stored.IsActive {
		s.recordAudit(ctx, stored.ID, userID, models.AuditActionRotate, ErrSecretInactive)
		return "", ErrSecretInactive
	}

	if newValue == "" {
		newValue, err = replacementValue(stored.Type)
		if err != nil {
			s.recordAudit(ctx, stored.ID, userID, models.AuditActionRotate, err)
			return "", fmt.Errorf("failed to generate replacement value: %w", err)
		}
	}

	envelope, err := crypto.Encrypt(newValue, s.masterKey)
	if err != nil {
		s.recordAudit(ctx, stored.ID, userID, models.AuditActionRotate, err)
		return "", err
	}

	now := time.Now().UTC()
	rotated := stored.Clone()
	rotated.Envelope = *envelope
	rotated.LastRotatedAt = now
	rotated.UpdatedAt = now

	// Invalidate before the write so a concurrent reader after a failed save
	// cannot observe the old cache entry claiming the new state.
	s.cache.Delete(storageID)
	if err := s.repo.Save(ctx, rotated); err != nil {
		s.recordAudit(ctx, rotated.ID, userID, models.AuditActionRotate, err)
		return "", fmt.Errorf("failed to persist rotated secret: %w", err)
	}
	s.cache.Set(storageID, &cachedSecret{plaintext: newValue, secret: rotated}, gocache.DefaultExpiration)

	s.recordAudit(ctx, rotated.ID, userID, models.AuditActionRotate, nil)
	s.countMetric("secrets.rotate")
	return newValue, nil
}

// DeactivateSecret soft-disables the secret without deleting its record.
func (s *secretService) DeactivateSecret(ctx context.Context, key, environment, userID string) error {
	if key == "" || environment == "" {
		return fmt.Errorf("%w: key and environment are required", ErrInvalidInput)
	}

	storageID := environment + "_" + key
	unlock := s.locks.lock(storageID)
	defer unlock()

	stored, err := s.repo.Load(ctx, environment, key)
	if err != nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionWrite, err)
		return fmt.Errorf("failed to load secret: %w", err)
	}
	if stored == nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionWrite, ErrSecretNotFound)
		return ErrSecretNotFound
	}

	disabled := stored.Clone()
	disabled.IsActive = false
	disabled.UpdatedAt = time.Now().UTC()

	s.cache.Delete(storageID)
	if err := s.repo.Save(ctx, disabled); err != nil {
		s.recordAudit(ctx, disabled.ID, userID, models.AuditActionWrite, err)
		return fmt.Errorf("failed to persist deactivated secret: %w", err)
	}

	s.recordAudit(ctx, disabled.ID, userID, models.AuditActionWrite, nil)
	return nil
}

// DeleteSecret removes the persisted record and cache entry.
func (s *secretService) DeleteSecret(ctx context.Context, key, environment, userID string) error {
	if key == "" || environment == "" {
		return fmt.Errorf("%w: key and environment are required", ErrInvalidInput)
	}

	storageID := environment + "_" + key
	unlock := s.locks.lock(storageID)
	defer unlock()

	stored, err := s.repo.Load(ctx, environment, key)
	if err != nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionDelete, err)
		return fmt.Errorf("failed to load secret: %w", err)
	}
	if stored == nil {
		s.recordAudit(ctx, storageID, userID, models.AuditActionDelete, ErrSecretNotFound)
		return ErrSecretNotFound
	}

	if err := s.repo.Delete(ctx, environment, key); err != nil {
		s.recordAudit(ctx, stored.ID, userID, models.AuditActionDelete, err)
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	s.cache.Delete(storageID)

	s.recordAudit(ctx, stored.ID, userID, models.AuditActionDelete, nil)
	s.countMetric("secrets.delete")
	return nil
}

// ListSecrets returns envelope-stripped metadata; neither plaintext nor
// ciphertext ever leaves the service through this path.
func (s *secretService) ListSecrets(ctx context.Context, environment string) ([]*models.Secret, error) {
	stored, err := s.repo.List(ctx, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	return lo.Map(stored, func(sec *models.Secret, _ int) *models.Secret {
		return sec.Metadata()
	}), nil
}

// RotateDueSecrets rotates every active secret whose rotation interval has
// elapsed. Invoked by the periodic sweep.
func (s *secretService) RotateDueSecrets(ctx context.Context) (int, error) {
	stored, err := s.repo.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list secrets for rotation sweep: %w", err)
	}

	now := time.Now().UTC()
	rotated := 0
	for _, sec := range stored {
		if !sec.IsActive || !sec.RotationDue(now) {
			continue
		}
		storageID := sec.Environment + "_" + sec.Key
		unlock := s.locks.lock(storageID)
		_, err := s.rotateLocked(ctx, sec.Key, sec.Environment, "", "rotation-sweep")
		unlock()
		if err != nil {
			s.logger.Warn("scheduled rotation failed",
				zap.String("secret_id", sec.ID),
				zap.String("environment", sec.Environment),
				zap.Error(err),
			)
			continue
		}
		rotated++
	}
	return rotated, nil
}

// SweepCache evicts expired entries. Expiry is otherwise checked lazily on
// access, so the sweep only bounds memory between accesses.
func (s *secretService) SweepCache() {
	s.cache.DeleteExpired()
}
