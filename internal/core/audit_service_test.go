package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

func TestAuditServiceFiltersBySecret(t *testing.T) {
	audit := NewAuditService(nil, zap.NewNop())
	ctx := context.Background()

	for i, secretID := range []string{"s1", "s2", "s1"} {
		require.NoError(t, audit.Record(ctx, models.AuditEntry{
			SecretID:  secretID,
			UserID:    "alice",
			Action:    models.AuditActionRead,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
			Success:   true,
		}))
	}

	assert.Len(t, audit.Entries(""), 3)
	assert.Len(t, audit.Entries("s1"), 2)
	assert.Len(t, audit.Entries("s2"), 1)
	assert.Empty(t, audit.Entries("s3"))
}

func TestAuditServiceDurableSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	durable, err := storage.NewFileAuditRepository(path)
	require.NoError(t, err)

	audit := NewAuditService(durable, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, audit.Record(ctx, models.AuditEntry{
		SecretID: "s1", UserID: "alice", Action: models.AuditActionWrite,
		Timestamp: time.Now().UTC(), Success: true,
	}))

	// After the sink closes, the ring append still succeeds; the sink error
	// surfaces to the caller who decides what to do with it.
	require.NoError(t, durable.Close())
	err = audit.Record(ctx, models.AuditEntry{
		SecretID: "s1", UserID: "alice", Action: models.AuditActionRead,
		Timestamp: time.Now().UTC(), Success: true,
	})
	assert.Error(t, err)
	assert.Len(t, audit.Entries("s1"), 2)
}
