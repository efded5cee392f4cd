package models

import (
	"time"

	"trustlayer-backend-go/internal/crypto"
)

// SecretType is the closed set of secret kinds the store understands. The
// type drives the replacement-value policy on rotation.
type SecretType string

const (
	SecretTypeAPIKey        SecretType = "api_key"
	SecretTypeJWTSecret     SecretType = "jwt_secret"
	SecretTypeEncryptionKey SecretType = "encryption_key"
	SecretTypeGeneric       SecretType = "generic"
)

// Valid reports whether t is one of the known secret types.
func (t SecretType) Valid() bool {
	switch t {
	case SecretTypeAPIKey, SecretTypeJWTSecret, SecretTypeEncryptionKey, SecretTypeGeneric:
		return true
	}
	return false
}

// Secret is an encrypted named value scoped to an environment. The plaintext
// only exists transiently inside the secret service; the persisted record
// carries the envelope and never the value itself.
//
// Secrets are treated as copy-on-write: every access produces an updated
// snapshot (access count, timestamps) rather than mutating shared memory.
type Secret struct {
	ID                      string          `json:"id"`
	Key                     string          `json:"key"`
	Type                    SecretType      `json:"type"`
	Environment             string          `json:"environment"`
	Description             string          `json:"description,omitempty"`
	Tags                    []string        `json:"tags,omitempty"`
	IsActive                bool            `json:"isActive"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
	ExpiresAt               *time.Time      `json:"expiresAt,omitempty"`
	RotationIntervalSeconds int64           `json:"rotationIntervalSeconds,omitempty"`
	LastRotatedAt           time.Time       `json:"lastRotatedAt"`
	LastUsedAt              *time.Time      `json:"lastUsedAt,omitempty"`
	AccessCount             int64           `json:"accessCount"`
	Permissions             []string        `json:"permissions,omitempty"`
	Envelope                crypto.Envelope `json:"envelope"`
}

// StorageID is the `environment_key` unit the file store persists a secret
// under.
func (s *Secret) StorageID() string {
	return s.Environment + "_" + s.Key
}

// Clone returns a deep copy of the secret so callers never share slices with
// the stored snapshot.
func (s *Secret) Clone() *Secret {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Tags != nil {
		cp.Tags = append([]string(nil), s.Tags...)
	}
	if s.Permissions != nil {
		cp.Permissions = append([]string(nil), s.Permissions...)
	}
	if s.ExpiresAt != nil {
		expires := *s.ExpiresAt
		cp.ExpiresAt = &expires
	}
	if s.LastUsedAt != nil {
		used := *s.LastUsedAt
		cp.LastUsedAt = &used
	}
	return &cp
}

// Metadata returns a copy with the envelope stripped, safe for listings. It
// never exposes plaintext or ciphertext.
func (s *Secret) Metadata() *Secret {
	cp := s.Clone()
	cp.Envelope = crypto.Envelope{}
	return cp
}

// IsExpired reports whether the secret's expiry has passed at the given time.
func (s *Secret) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// RotationDue reports whether the rotation interval has elapsed since the
// last rotation. Secrets without an interval never become due.
func (s *Secret) RotationDue(now time.Time) bool {
	if s.RotationIntervalSeconds <= 0 {
		return false
	}
	return now.Sub(s.LastRotatedAt) >= time.Duration(s.RotationIntervalSeconds)*time.Second
}

// SecretMetadata carries the optional attributes a caller may supply when
// creating or overwriting a secret.
type SecretMetadata struct {
	Type                    SecretType `json:"type,omitempty"`
	Description             string     `json:"description,omitempty"`
	Tags                    []string   `json:"tags,omitempty"`
	ExpiresAt               *time.Time `json:"expiresAt,omitempty"`
	RotationIntervalSeconds int64      `json:"rotationIntervalSeconds,omitempty"`
	Permissions             []string   `json:"permissions,omitempty"`
}
