package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"trustlayer-backend-go/internal/models"
)

// fileSecretRepository implements SecretRepository with one JSON file per
// secret under a configured root directory, named <environment>_<key>.json.
// Records contain the encryption envelope but never plaintext.
type fileSecretRepository struct {
	rootDir string
	mu      sync.Mutex // serializes directory-level operations (List vs writes)
}

// NewFileSecretRepository creates the root directory if needed and returns a
// file-backed SecretRepository.
func NewFileSecretRepository(rootDir string) (SecretRepository, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("storage: root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: failed to create root directory %q: %w", rootDir, err)
	}
	return &fileSecretRepository{rootDir: rootDir}, nil
}

// recordPath maps an (environment, key) pair onto its file. Path separators
// in either component are rejected to keep records inside the root.
func (r *fileSecretRepository) recordPath(environment, key string) (string, error) {
	if environment == "" || key == "" {
		return "", fmt.Errorf("storage: environment and key are required")
	}
	name := environment + "_" + key + ".json"
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("storage: invalid record name %q", name)
	}
	return filepath.Join(r.rootDir, name), nil
}

// Save writes the record atomically via a temp file and rename, honoring the
// caller's context deadline before touching the disk.
func (r *fileSecretRepository) Save(ctx context.Context, secret *models.Secret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := r.recordPath(secret.Environment, secret.Key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(secret, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: failed to encode secret record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(r.rootDir, ".secret-*.tmp")
	if err != nil {
		return fmt.Errorf("storage: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: failed to write secret record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: failed to flush secret record: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: failed to persist secret record: %w", err)
	}
	return nil
}

// Load reads one record. A missing file is (nil, nil), indistinguishable from
// "never written" to callers above.
func (r *fileSecretRepository) Load(ctx context.Context, environment, key string) (*models.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := r.recordPath(environment, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to read secret record: %w", err)
	}

	var secret models.Secret
	if err := json.Unmarshal(data, &secret); err != nil {
		return nil, fmt.Errorf("storage: corrupt secret record %q: %w", path, err)
	}
	return &secret, nil
}

// Delete removes the record file. Deleting an absent record succeeds.
func (r *fileSecretRepository) Delete(ctx context.Context, environment, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := r.recordPath(environment, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: failed to delete secret record: %w", err)
	}
	return nil
}

// List scans the root directory for records, optionally filtered by
// environment.
func (r *fileSecretRepository) List(ctx context.Context, environment string) ([]*models.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	entries, err := os.ReadDir(r.rootDir)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to scan secret directory: %w", err)
	}

	var secrets []*models.Secret
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if environment != "" && !strings.HasPrefix(entry.Name(), environment+"_") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.rootDir, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue // deleted between scan and read
			}
			return nil, fmt.Errorf("storage: failed to read secret record %q: %w", entry.Name(), err)
		}
		var secret models.Secret
		if err := json.Unmarshal(data, &secret); err != nil {
			return nil, fmt.Errorf("storage: corrupt secret record %q: %w", entry.Name(), err)
		}
		if environment != "" && secret.Environment != environment {
			// prefix matched but the record belongs to another environment
			// (an environment name containing '_' can collide on prefix)
			continue
		}
		secrets = append(secrets, &secret)
	}
	return secrets, nil
}
