package core

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

const defaultAuditRingSize = 10_000

// auditService implements AuditService with a bounded in-memory ring and an
// optional durable sink. Append order follows the order Record is called,
// which the secret service ties to operation completion order per key.
type auditService struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	maxSize int

	durable storage.AuditRepository // may be nil
	logger  *zap.Logger
}

// NewAuditService creates an AuditService. durable may be nil when no
// persistent audit sink is configured.
func NewAuditService(durable storage.AuditRepository, logger *zap.Logger) AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &auditService{
		maxSize: defaultAuditRingSize,
		durable: durable,
		logger:  logger,
	}
}

// Record appends the entry to the ring and forwards it to the durable sink.
// The in-memory append always happens; a durable-sink failure is reported to
// the caller but must not be treated as an operation failure upstream.
func (s *auditService) Record(ctx context.Context, entry models.AuditEntry) error {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxSize {
		// evict oldest; the ring favors recent history
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	if s.durable == nil {
		return nil
	}
	if err := s.durable.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to persist audit entry",
			zap.String("secret_id", entry.SecretID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Entries returns a snapshot filtered by secretID (empty means all), oldest
// first.
func (s *auditService) Entries(secretID string) []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if secretID == "" || e.SecretID == secretID {
			out = append(out, e)
		}
	}
	return out
}
