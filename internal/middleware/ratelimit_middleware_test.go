package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlayer-backend-go/internal/models"
)

func newRateLimitedRouter(t *testing.T, limiter *RateLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		// Identity is normally set by the auth stage.
		c.Set(ContextIdentityKey, &models.Identity{UserID: "alice", Method: "bearer"})
		c.Next()
	}, limiter.Limit())
	router.GET("/limited", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/other", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimitRejectsExcessWithinWindow(t *testing.T) {
	creds := newTestCredentials(t)
	creds.RegisterEndpoint(models.Endpoint{
		Method:    http.MethodGet,
		Path:      "/limited",
		RateLimit: &models.RateLimit{WindowMs: 1000, Requests: 3},
	})

	limiter := NewRateLimiter(creds, nil, models.RateLimit{WindowMs: 60_000, Requests: 100})
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	router := newRateLimitedRouter(t, limiter)

	for i := 0; i < 3; i++ {
		rec := doRequest(router, http.MethodGet, "/limited", nil)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	rec := doRequest(router, http.MethodGet, "/limited", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var envelope models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, models.ErrTypeRateLimit, envelope.Error.Type)

	// Other endpoints have their own counters.
	rec = doRequest(router, http.MethodGet, "/other", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The first request of the next window succeeds again.
	limiter.now = func() time.Time { return base.Add(1100 * time.Millisecond) }
	rec = doRequest(router, http.MethodGet, "/limited", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitSeparatesIdentities(t *testing.T) {
	creds := newTestCredentials(t)
	creds.RegisterEndpoint(models.Endpoint{
		Method:    http.MethodGet,
		Path:      "/limited",
		RateLimit: &models.RateLimit{WindowMs: 1000, Requests: 1},
	})
	limiter := NewRateLimiter(creds, nil, models.RateLimit{})
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(ContextIdentityKey, &models.Identity{UserID: c.GetHeader("X-Test-User"), Method: "bearer"})
		c.Next()
	}, limiter.Limit())
	router.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := doRequest(router, http.MethodGet, "/limited", map[string]string{"X-Test-User": "alice"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(router, http.MethodGet, "/limited", map[string]string{"X-Test-User": "alice"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different identity is unaffected by alice's exhaustion.
	rec = doRequest(router, http.MethodGet, "/limited", map[string]string{"X-Test-User": "bob"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitZeroWindowOverrideFallsBackToDefault(t *testing.T) {
	creds := newTestCredentials(t)
	// An override may carry a request count without a window.
	creds.RegisterEndpoint(models.Endpoint{
		Method:    http.MethodGet,
		Path:      "/limited",
		RateLimit: &models.RateLimit{Requests: 3},
	})

	limiter := NewRateLimiter(creds, nil, models.RateLimit{WindowMs: 60_000, Requests: 100})
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	router := newRateLimitedRouter(t, limiter)

	// The zero window falls back to the default window rather than entering
	// the window arithmetic; the override's request count still applies.
	for i := 0; i < 3; i++ {
		rec := doRequest(router, http.MethodGet, "/limited", nil)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}
	rec := doRequest(router, http.MethodGet, "/limited", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var envelope models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	details, ok := envelope.Error.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(60_000), details["windowMs"])

	// A fully zero override behaves exactly like the default limit.
	creds.RegisterEndpoint(models.Endpoint{
		Method:    http.MethodGet,
		Path:      "/other",
		RateLimit: &models.RateLimit{},
	})
	rec = doRequest(router, http.MethodGet, "/other", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidateRequestCollectsAllViolations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/things", ValidateRequest(FieldRules{
		BodyFields:  []string{"name", "value"},
		QueryParams: []string{"environment"},
	}), func(c *gin.Context) {
		// The body must still be readable after validation.
		var body map[string]interface{}
		require.NoError(t, c.ShouldBindJSON(&body))
		c.Status(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/things", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, models.ErrTypeValidation, envelope.Error.Type)
	details, ok := envelope.Error.Details.([]interface{})
	require.True(t, ok)
	assert.Len(t, details, 2, "missing body field and missing query param are both reported")

	req = httptest.NewRequest(http.MethodPost, "/things?environment=dev", strings.NewReader(`{"name":"x","value":"y"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SecurityHeaders(map[string]string{
		"X-Frame-Options":           "SAMEORIGIN",
		"Strict-Transport-Security": "",
	}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := doRequest(router, http.MethodGet, "/", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "empty override removes the header")
}
