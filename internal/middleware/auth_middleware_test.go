package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/models"
	"trustlayer-backend-go/internal/storage"
)

var (
	testSigningKey = []byte("jwt-signing-key-for-middleware-tests")
	testMasterKey  = []byte("test-master-key-0123456789abcdef")
)

func newTestCredentials(t *testing.T) core.CredentialService {
	t.Helper()

	repo, err := storage.NewFileSecretRepository(t.TempDir())
	require.NoError(t, err)
	audit := core.NewAuditService(nil, zap.NewNop())
	secrets, err := core.NewSecretService(repo, audit, nil, zap.NewNop(), testMasterKey, time.Minute)
	require.NoError(t, err)
	creds, err := core.NewCredentialService(secrets, nil, zap.NewNop())
	require.NoError(t, err)
	return creds
}

func signToken(t *testing.T, claims AccessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	return token
}

func newAuthRouter(t *testing.T, creds core.CredentialService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := NewAuthMiddleware(creds, nil, zap.NewNop(), testSigningKey)
	router := gin.New()
	router.Use(auth.Authenticate(), RequirePermissions(creds))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, IdentityFrom(c))
	})
	router.DELETE("/guarded", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func doRequest(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateBearerToken(t *testing.T) {
	creds := newTestCredentials(t)
	router := newAuthRouter(t, creds)

	token := signToken(t, AccessClaims{
		Roles:       []string{"admin"},
		Permissions: []string{"secrets:read"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	rec := doRequest(router, http.MethodGet, "/whoami", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)

	var identity models.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, "bearer", identity.Method)
	assert.Equal(t, []string{"admin"}, identity.Roles)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	creds := newTestCredentials(t)
	router := newAuthRouter(t, creds)

	expired := signToken(t, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	cases := map[string]map[string]string{
		"no credentials":   nil,
		"malformed header": {"Authorization": "Token abc"},
		"garbage token":    {"Authorization": "Bearer not.a.jwt"},
		"expired token":    {"Authorization": "Bearer " + expired},
		"unknown api key":  {"X-API-Key": "tlk_never_issued"},
	}
	for name, headers := range cases {
		rec := doRequest(router, http.MethodGet, "/whoami", headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)

		var envelope models.APIResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), name)
		assert.False(t, envelope.Success)
		assert.Equal(t, models.ErrTypeAuthentication, envelope.Error.Type, name)
	}
}

func TestAuthenticateAPIKey(t *testing.T) {
	creds := newTestCredentials(t)
	issued, err := creds.GenerateAPIKey(context.Background(), "ci", "bob", nil, []string{"secrets:read"}, nil, nil, "production")
	require.NoError(t, err)

	router := newAuthRouter(t, creds)

	rec := doRequest(router, http.MethodGet, "/whoami", map[string]string{"X-API-Key": issued.Key})
	require.Equal(t, http.StatusOK, rec.Code)

	var identity models.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "bob", identity.UserID)
	assert.Equal(t, "api_key", identity.Method)
	assert.Equal(t, issued.ID, identity.APIKeyID)
}

func TestRequirePermissions(t *testing.T) {
	creds := newTestCredentials(t)
	creds.RegisterEndpoint(models.Endpoint{
		Method:              http.MethodDelete,
		Path:                "/guarded",
		RequiredPermissions: []string{"secrets:delete", "secrets:read"},
	})
	router := newAuthRouter(t, creds)

	partial := signToken(t, AccessClaims{
		Permissions: []string{"secrets:read"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	rec := doRequest(router, http.MethodDelete, "/guarded", map[string]string{"Authorization": "Bearer " + partial})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var envelope models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, models.ErrTypeAuthorization, envelope.Error.Type)

	wildcard := signToken(t, AccessClaims{
		Permissions: []string{"*"},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "root",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	rec = doRequest(router, http.MethodDelete, "/guarded", map[string]string{"Authorization": "Bearer " + wildcard})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
