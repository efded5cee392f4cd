package core

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

func newTestConfigService(t *testing.T) (ConfigService, SecretService) {
	t.Helper()

	repo, err := storage.NewFileSecretRepository(t.TempDir())
	require.NoError(t, err)
	audit := NewAuditService(nil, zap.NewNop())
	secrets, err := NewSecretService(repo, audit, nil, zap.NewNop(), testMasterKey, time.Minute)
	require.NoError(t, err)
	cfg, err := NewConfigService(secrets, zap.NewNop())
	require.NoError(t, err)
	return cfg, secrets
}

func floatPtr(f float64) *float64 { return &f }

func TestConfigSetGetAndTypeInference(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	require.NoError(t, cfg.SetConfig(ctx, "appName", "trustlayer", "production", models.ConfigOptions{}))
	require.NoError(t, cfg.SetConfig(ctx, "maxUsers", 50, "production", models.ConfigOptions{}))
	require.NoError(t, cfg.SetConfig(ctx, "debug", false, "production", models.ConfigOptions{}))
	require.NoError(t, cfg.SetConfig(ctx, "origins", []string{"a", "b"}, "production", models.ConfigOptions{}))
	require.NoError(t, cfg.SetConfig(ctx, "limits", map[string]int{"rps": 10}, "production", models.ConfigOptions{}))

	value, err := cfg.GetConfig(ctx, "maxUsers", "production", nil)
	require.NoError(t, err)
	assert.Equal(t, 50, value)

	types := map[string]models.ConfigValueType{}
	for _, exported := range cfg.ExportConfigurations("production") {
		types[exported.Key] = exported.Type
	}
	assert.Equal(t, models.ConfigTypeString, types["appName"])
	assert.Equal(t, models.ConfigTypeNumber, types["maxUsers"])
	assert.Equal(t, models.ConfigTypeBoolean, types["debug"])
	assert.Equal(t, models.ConfigTypeArray, types["origins"])
	assert.Equal(t, models.ConfigTypeObject, types["limits"])
}

func TestConfigValidationRejectsBeforePersist(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	err := cfg.SetConfig(ctx, "maxUsers", 0, "production", models.ConfigOptions{
		ValidationRule: &models.ValidationRule{Min: floatPtr(1)},
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 1)

	// The rejected value must not be observable afterwards.
	_, err = cfg.GetConfig(ctx, "maxUsers", "production", nil)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestConfigValidationCollectsAllViolations(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	err := cfg.SetConfig(ctx, "port", 70000, "production", models.ConfigOptions{
		ValidationRule: &models.ValidationRule{
			Min:           floatPtr(1024),
			Max:           floatPtr(65535),
			AllowedValues: []interface{}{8080, 8443},
		},
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	// Above max and not in the allowed set.
	assert.Len(t, verr.Violations, 2)

	err = cfg.SetConfig(ctx, "hostname", "has spaces", "production", models.ConfigOptions{
		ValidationRule: &models.ValidationRule{Pattern: `^[a-z0-9.-]+$`},
	})
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 1)
}

func TestConfigDefaultsAndNotFound(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	value, err := cfg.GetConfig(ctx, "absent", "production", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)

	_, err = cfg.GetConfig(ctx, "absent", "production", nil)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	require.NoError(t, cfg.SetConfig(ctx, "timeout", nil, "production", models.ConfigOptions{DefaultValue: 30}))
	value, err = cfg.GetConfig(ctx, "timeout", "production", nil)
	require.NoError(t, err)
	assert.Equal(t, 30, value)
}

func TestConfigSecretBackedValues(t *testing.T) {
	cfg, secrets := newTestConfigService(t)
	ctx := context.Background()

	require.NoError(t, cfg.SetConfig(ctx, "dbPassword", "hunter2", "production", models.ConfigOptions{IsSecret: true}))

	value, err := cfg.GetConfig(ctx, "dbPassword", "production", nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)

	// The registry export never carries the secret value.
	for _, exported := range cfg.ExportConfigurations("production") {
		if exported.Key == "dbPassword" {
			assert.True(t, exported.IsSecret)
			assert.Nil(t, exported.Value)
		}
	}

	// The companion secret is the authoritative copy.
	plaintext, err := secrets.GetSecret(ctx, "config_production:dbPassword", "production", "")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)

	// Non-string secret values are rejected.
	err = cfg.SetConfig(ctx, "dbPort", 5432, "production", models.ConfigOptions{IsSecret: true})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	// Deleting the configuration removes the companion secret.
	require.NoError(t, cfg.DeleteConfig(ctx, "dbPassword", "production"))
	_, err = secrets.GetSecret(ctx, "config_production:dbPassword", "production", "")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestConfigSecretBackedDecryptFailureBypassesDefault(t *testing.T) {
	repo, err := storage.NewFileSecretRepository(t.TempDir())
	require.NoError(t, err)
	audit := NewAuditService(nil, zap.NewNop())
	secrets, err := NewSecretService(repo, audit, nil, zap.NewNop(), testMasterKey, 50*time.Millisecond)
	require.NoError(t, err)
	cfg, err := NewConfigService(secrets, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, cfg.SetConfig(ctx, "dbPassword", "hunter2", "production", models.ConfigOptions{IsSecret: true}))

	// Corrupt the stored ciphertext behind the registry's back.
	stored, err := repo.Load(ctx, "production", "config_production:dbPassword")
	require.NoError(t, err)
	require.NotNil(t, stored)
	raw, err := base64.StdEncoding.DecodeString(stored.Envelope.Ciphertext)
	require.NoError(t, err)
	raw[0] ^= 0x01
	stored.Envelope.Ciphertext = base64.StdEncoding.EncodeToString(raw)
	require.NoError(t, repo.Save(ctx, stored))

	// Wait out the plaintext cache so the next read hits the tampered file.
	time.Sleep(80 * time.Millisecond)

	// A decrypt failure surfaces even when the caller supplied a fallback.
	_, err = cfg.GetConfig(ctx, "dbPassword", "production", "fallback")
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	// The fallback still covers plain not-found.
	value, err := cfg.GetConfig(ctx, "absent", "production", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)
}

func TestConfigWatchers(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	var order []string
	unsubA := cfg.WatchConfig("watched", func(value interface{}, environment string) {
		order = append(order, "a")
	})
	cfg.WatchConfig("watched", func(value interface{}, environment string) {
		panic("watcher blew up")
	})
	var lastValue interface{}
	var lastEnv string
	cfg.WatchConfig("watched", func(value interface{}, environment string) {
		order = append(order, "c")
		lastValue = value
		lastEnv = environment
	})

	require.NoError(t, cfg.SetConfig(ctx, "watched", 1, "dev", models.ConfigOptions{}))

	// Registration order, and the panicking watcher does not stop the rest.
	assert.Equal(t, []string{"a", "c"}, order)
	assert.Equal(t, 1, lastValue)
	assert.Equal(t, "dev", lastEnv)

	unsubA()
	order = nil
	require.NoError(t, cfg.SetConfig(ctx, "watched", 2, "dev", models.ConfigOptions{}))
	assert.Equal(t, []string{"c"}, order)

	// Deletion notifies with a nil value.
	require.NoError(t, cfg.DeleteConfig(ctx, "watched", "dev"))
	assert.Nil(t, lastValue)
}

func TestConfigValidateEnvironment(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	require.NoError(t, cfg.SetConfig(ctx, "present", "yes", "production", models.ConfigOptions{IsRequired: true}))
	require.NoError(t, cfg.SetConfig(ctx, "empty", nil, "production", models.ConfigOptions{IsRequired: true}))
	require.NoError(t, cfg.SetConfig(ctx, "alsoEmpty", nil, "production", models.ConfigOptions{IsRequired: true}))
	require.NoError(t, cfg.SetConfig(ctx, "otherEnv", nil, "staging", models.ConfigOptions{IsRequired: true}))

	result := cfg.ValidateEnvironment(ctx, "production")
	assert.False(t, result.IsValid)
	assert.Len(t, result.Errors, 2)

	okResult := cfg.ValidateEnvironment(ctx, "qa")
	assert.True(t, okResult.IsValid)
	assert.Empty(t, okResult.Errors)
}

func TestFeatureFlagEvaluation(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	// Absent flags are off.
	assert.False(t, cfg.IsFeatureEnabled("missing", "production", models.EvaluationContext{}))

	require.NoError(t, cfg.SetFeatureFlag(ctx, "plain", true, "production", nil, nil))
	assert.True(t, cfg.IsFeatureEnabled("plain", "production", models.EvaluationContext{}))

	require.NoError(t, cfg.SetFeatureFlag(ctx, "plain", false, "production", nil, nil))
	assert.False(t, cfg.IsFeatureEnabled("plain", "production", models.EvaluationContext{}))

	// All conditions must pass.
	require.NoError(t, cfg.SetFeatureFlag(ctx, "gated", true, "production", []models.FlagCondition{
		models.UserCondition{UserIDs: []string{"alice"}},
		models.RoleCondition{Roles: []string{"admin"}},
	}, nil))

	assert.True(t, cfg.IsFeatureEnabled("gated", "production", models.EvaluationContext{
		UserID: "alice", Roles: []string{"admin"},
	}))
	assert.False(t, cfg.IsFeatureEnabled("gated", "production", models.EvaluationContext{
		UserID: "alice",
	}))
	assert.False(t, cfg.IsFeatureEnabled("gated", "production", models.EvaluationContext{
		UserID: "bob", Roles: []string{"admin"},
	}))
}

func TestFeatureFlagPercentageIsSticky(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	require.NoError(t, cfg.SetFeatureFlag(ctx, "rollout", true, "production", []models.FlagCondition{
		models.PercentageCondition{Percentage: 50},
	}, nil))

	evalCtx := models.EvaluationContext{UserID: "carol"}
	first := cfg.IsFeatureEnabled("rollout", "production", evalCtx)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, cfg.IsFeatureEnabled("rollout", "production", evalCtx))
	}

	// Boundary percentages are absolute.
	require.NoError(t, cfg.SetFeatureFlag(ctx, "everyone", true, "production", []models.FlagCondition{
		models.PercentageCondition{Percentage: 100},
	}, nil))
	require.NoError(t, cfg.SetFeatureFlag(ctx, "noone", true, "production", []models.FlagCondition{
		models.PercentageCondition{Percentage: 0},
	}, nil))
	assert.True(t, cfg.IsFeatureEnabled("everyone", "production", evalCtx))
	assert.False(t, cfg.IsFeatureEnabled("noone", "production", evalCtx))
}

func TestFeatureFlagDateWindow(t *testing.T) {
	cfg, _ := newTestConfigService(t)
	ctx := context.Background()

	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cfg.SetFeatureFlag(ctx, "campaign", true, "production", []models.FlagCondition{
		models.DateWindowCondition{Start: start, End: end},
	}, nil))

	inside := models.EvaluationContext{Now: time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)}
	before := models.EvaluationContext{Now: time.Date(2026, 5, 15, 12, 0, 0, 0, time.UTC)}
	after := models.EvaluationContext{Now: time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)}

	assert.True(t, cfg.IsFeatureEnabled("campaign", "production", inside))
	assert.False(t, cfg.IsFeatureEnabled("campaign", "production", before))
	assert.False(t, cfg.IsFeatureEnabled("campaign", "production", after))
}

func TestRolloutBucketRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		bucket := models.RolloutBucket("production:rollout", models.EvaluationContext{
			UserID: string(rune('a' + i%26)),
		})
		assert.GreaterOrEqual(t, bucket, 1)
		assert.LessOrEqual(t, bucket, 100)
	}
	// Anonymous fallback is stable too.
	anon := models.RolloutBucket("production:rollout", models.EvaluationContext{})
	assert.Equal(t, anon, models.RolloutBucket("production:rollout", models.EvaluationContext{}))
}
