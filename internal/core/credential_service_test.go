package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

func newTestCredentialService(t *testing.T) (CredentialService, SecretService) {
	t.Helper()

	repo, err := storage.NewFileSecretRepository(t.TempDir())
	require.NoError(t, err)
	audit := NewAuditService(nil, zap.NewNop())
	secrets, err := NewSecretService(repo, audit, nil, zap.NewNop(), testMasterKey, time.Minute)
	require.NoError(t, err)
	creds, err := NewCredentialService(secrets, nil, zap.NewNop())
	require.NoError(t, err)
	return creds, secrets
}

func TestCredentialIssueAndValidate(t *testing.T) {
	creds, _ := newTestCredentialService(t)
	ctx := context.Background()

	key, err := creds.GenerateAPIKey(ctx, "ci-pipeline", "alice", []string{"deploy"}, []string{"read", "write"}, nil, nil, "production")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.Key, "tlk_"))
	assert.True(t, key.IsActive)

	validated, err := creds.ValidateAPIKey(ctx, key.Key)
	require.NoError(t, err)
	require.NotNil(t, validated)
	assert.Equal(t, key.ID, validated.ID)
	assert.Equal(t, "alice", validated.OwnerUserID)
	assert.Equal(t, int64(1), validated.UsageCount)
	assert.NotNil(t, validated.LastUsedAt)

	again, err := creds.ValidateAPIKey(ctx, key.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.UsageCount)
}

func TestCredentialUnknownKeyFallsThrough(t *testing.T) {
	creds, _ := newTestCredentialService(t)
	ctx := context.Background()

	key, err := creds.ValidateAPIKey(ctx, "tlk_not_issued")
	require.NoError(t, err)
	assert.Nil(t, key, "unknown keys must return (nil, nil) so the caller can try other auth methods")

	key, err = creds.ValidateAPIKey(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestCredentialRevocation(t *testing.T) {
	creds, secrets := newTestCredentialService(t)
	ctx := context.Background()

	key, err := creds.GenerateAPIKey(ctx, "doomed", "alice", nil, nil, nil, nil, "production")
	require.NoError(t, err)

	require.NoError(t, creds.RevokeAPIKey(ctx, key.ID, "alice"))

	validated, err := creds.ValidateAPIKey(ctx, key.Key)
	require.NoError(t, err)
	assert.Nil(t, validated, "a revoked key is evicted and behaves like an unknown one")

	// The backing secret is gone too.
	_, err = secrets.GetSecret(ctx, "api_key_"+key.ID, "production", "")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.ErrorIs(t, creds.RevokeAPIKey(ctx, key.ID, "alice"), ErrAPIKeyNotFound)
}

func TestCredentialValidateDoesNotResurrectRevokedKey(t *testing.T) {
	creds, _ := newTestCredentialService(t)
	ctx := context.Background()

	key, err := creds.GenerateAPIKey(ctx, "racer", "alice", nil, nil, nil, nil, "production")
	require.NoError(t, err)

	// Validations racing the revocation must not write a stale clone back
	// into the cache after the bearer has been evicted.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, _ = creds.ValidateAPIKey(ctx, key.Key)
		}
	}()
	require.NoError(t, creds.RevokeAPIKey(ctx, key.ID, "alice"))
	<-done

	validated, err := creds.ValidateAPIKey(ctx, key.Key)
	require.NoError(t, err)
	assert.Nil(t, validated, "a revoked bearer must stay unknown to the cache")
	assert.Empty(t, creds.ListAPIKeys("production"))

	svc := creds.(*credentialService)
	svc.keyMu.RLock()
	_, present := svc.byBearer[key.Key]
	svc.keyMu.RUnlock()
	assert.False(t, present, "the bearer entry must not reappear after revocation")
}

func TestCredentialExpiredKeyFails(t *testing.T) {
	creds, _ := newTestCredentialService(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	key, err := creds.GenerateAPIKey(ctx, "stale", "alice", nil, nil, nil, &past, "production")
	require.NoError(t, err)

	_, err = creds.ValidateAPIKey(ctx, key.Key)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestCredentialListRedactsBearerValues(t *testing.T) {
	creds, _ := newTestCredentialService(t)
	ctx := context.Background()

	_, err := creds.GenerateAPIKey(ctx, "prod-key", "alice", nil, nil, nil, nil, "production")
	require.NoError(t, err)
	_, err = creds.GenerateAPIKey(ctx, "stage-key", "bob", nil, nil, nil, nil, "staging")
	require.NoError(t, err)

	all := creds.ListAPIKeys("")
	assert.Len(t, all, 2)
	for _, key := range all {
		assert.True(t, strings.HasSuffix(key.Key, "..."), "listings must not expose full bearer values")
		assert.LessOrEqual(t, len(key.Key), 11)
	}

	prodOnly := creds.ListAPIKeys("production")
	require.Len(t, prodOnly, 1)
	assert.Equal(t, "prod-key", prodOnly[0].Name)
}

func TestCredentialWarmCacheRehydrates(t *testing.T) {
	repo, err := storage.NewFileSecretRepository(t.TempDir())
	require.NoError(t, err)
	audit := NewAuditService(nil, zap.NewNop())
	secrets, err := NewSecretService(repo, audit, nil, zap.NewNop(), testMasterKey, time.Minute)
	require.NoError(t, err)

	issuer, err := NewCredentialService(secrets, nil, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	issued, err := issuer.GenerateAPIKey(ctx, "survivor", "alice", nil, []string{"read"}, &models.RateLimit{WindowMs: 1000, Requests: 3}, nil, "production")
	require.NoError(t, err)

	// A fresh service over the same secret store simulates a restart: the
	// bearer cache starts empty.
	restarted, err := NewCredentialService(secrets, nil, zap.NewNop())
	require.NoError(t, err)

	cold, err := restarted.ValidateAPIKey(ctx, issued.Key)
	require.NoError(t, err)
	assert.Nil(t, cold, "before warm-up the cache is empty")

	loaded, err := restarted.WarmCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	warm, err := restarted.ValidateAPIKey(ctx, issued.Key)
	require.NoError(t, err)
	require.NotNil(t, warm)
	assert.Equal(t, issued.ID, warm.ID)
	require.NotNil(t, warm.RateLimit)
	assert.Equal(t, int64(1000), warm.RateLimit.WindowMs)
}

func TestCredentialEndpointRegistry(t *testing.T) {
	creds, _ := newTestCredentialService(t)

	creds.RegisterEndpoint(models.Endpoint{
		Method:              "POST",
		Path:                "/api/v1/secrets",
		RequiredPermissions: []string{"secrets:write"},
	})

	ep, ok := creds.EndpointFor("POST", "/api/v1/secrets")
	require.True(t, ok)
	assert.Equal(t, []string{"secrets:write"}, ep.RequiredPermissions)

	_, ok = creds.EndpointFor("GET", "/api/v1/secrets")
	assert.False(t, ok)
}

func TestCredentialRejectsMissingFields(t *testing.T) {
	creds, _ := newTestCredentialService(t)
	ctx := context.Background()

	_, err := creds.GenerateAPIKey(ctx, "", "alice", nil, nil, nil, nil, "production")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = creds.GenerateAPIKey(ctx, "name", "", nil, nil, nil, nil, "production")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
