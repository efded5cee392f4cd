package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"trustlayer-backend-go/internal/models"
)

// FileAuditRepository appends audit entries to a JSON-lines file. Entries are
// never rewritten or reordered once appended. The handle is exported so the
// caller can close the underlying file on shutdown.
type FileAuditRepository struct {
	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewFileAuditRepository opens (or creates) the audit log file in append-only
// mode.
func NewFileAuditRepository(path string) (*FileAuditRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: audit log path is required")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open audit log %q: %w", path, err)
	}
	return &FileAuditRepository{file: file}, nil
}

// Append writes one entry as a single JSON line.
func (r *FileAuditRepository) Append(ctx context.Context, entry models.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: failed to encode audit entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStoreClosed
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("storage: failed to append audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the audit log file. Further appends fail with
// ErrStoreClosed.
func (r *FileAuditRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
