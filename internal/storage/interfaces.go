package storage

import (
	"context"
	"errors"

	"trustlayer-backend-go/internal/models"
)

// ErrStoreClosed is returned once a repository has been shut down.
var ErrStoreClosed = errors.New("storage: repository is closed")

// SecretRepository persists encrypted secret records. A missing record loads
// as (nil, nil) so callers above the secret store can distinguish "not found"
// from an I/O failure.
type SecretRepository interface {
	// Save writes the full record, replacing any previous one for the same
	// (environment, key). The write must be atomic: a crash mid-write must
	// never leave a truncated record behind.
	Save(ctx context.Context, secret *models.Secret) error
	// Load reads one record; (nil, nil) when absent.
	Load(ctx context.Context, environment, key string) (*models.Secret, error)
	// Delete removes the record; deleting an absent record is not an error.
	Delete(ctx context.Context, environment, key string) error
	// List returns all records, optionally filtered by environment
	// (empty string means all environments).
	List(ctx context.Context, environment string) ([]*models.Secret, error)
}

// AuditRepository is the optional durable sink behind the in-memory audit
// ring.
type AuditRepository interface {
	Append(ctx context.Context, entry models.AuditEntry) error
}
