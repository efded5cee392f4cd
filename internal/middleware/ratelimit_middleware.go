package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/models"
)

// windowCounter is one fixed-window counter. Windows are aligned to wall
// clock time (windowStart = now - now % windowMs), so all callers sharing a
// key roll over at the same instant.
type windowCounter struct {
	windowStart int64 // unix milliseconds
	count       int
}

// RateLimiter enforces per-identity, per-endpoint fixed-window limits. The
// effective limit is the endpoint's override when registered, otherwise the
// API key's own limit, otherwise the default.
type RateLimiter struct {
	credentials  core.CredentialService
	telemetry    core.TelemetryService // may be nil
	defaultLimit models.RateLimit

	mu       sync.Mutex
	counters map[string]*windowCounter

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter with the given default limit.
func NewRateLimiter(credentials core.CredentialService, telemetry core.TelemetryService, defaultLimit models.RateLimit) *RateLimiter {
	if defaultLimit.WindowMs <= 0 {
		defaultLimit.WindowMs = 60_000
	}
	if defaultLimit.Requests <= 0 {
		defaultLimit.Requests = 100
	}
	return &RateLimiter{
		credentials:  credentials,
		telemetry:    telemetry,
		defaultLimit: defaultLimit,
		counters:     make(map[string]*windowCounter),
		now:          time.Now,
	}
}

// limitFor resolves the effective limit for this request. Overrides with a
// missing or non-positive window or request count fall back to the default
// for that field, so a partial override can never divide by zero.
func (r *RateLimiter) limitFor(c *gin.Context, identity *models.Identity) models.RateLimit {
	limit := r.defaultLimit
	if endpoint, ok := r.credentials.EndpointFor(c.Request.Method, c.FullPath()); ok && endpoint.RateLimit != nil {
		limit = *endpoint.RateLimit
	} else if identity != nil && identity.APIKeyID != "" {
		for _, key := range r.credentials.ListAPIKeys("") {
			if key.ID == identity.APIKeyID && key.RateLimit != nil {
				limit = *key.RateLimit
				break
			}
		}
	}
	if limit.WindowMs <= 0 {
		limit.WindowMs = r.defaultLimit.WindowMs
	}
	if limit.Requests <= 0 {
		limit.Requests = r.defaultLimit.Requests
	}
	return limit
}

// identityKey is the counter key's identity half.
func identityKey(c *gin.Context, identity *models.Identity) string {
	if identity == nil {
		return "anon:" + c.ClientIP()
	}
	if identity.APIKeyID != "" {
		return "key:" + identity.APIKeyID
	}
	return "user:" + identity.UserID
}

// Limit is the pipeline's rate-limiting stage. The Nth+1 request inside a
// window is rejected with a Retry-After hint; the first request of the next
// window succeeds again.
func (r *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFrom(c)
		limit := r.limitFor(c, identity)
		key := identityKey(c, identity) + " " + c.Request.Method + " " + c.FullPath()

		nowMs := r.now().UnixMilli()
		windowStart := nowMs - nowMs%limit.WindowMs

		r.mu.Lock()
		counter, ok := r.counters[key]
		if !ok || counter.windowStart != windowStart {
			counter = &windowCounter{windowStart: windowStart}
			r.counters[key] = counter
		}
		counter.count++
		exceeded := counter.count > limit.Requests
		r.mu.Unlock()

		if exceeded {
			retryAfterMs := windowStart + limit.WindowMs - nowMs
			if r.telemetry != nil {
				r.telemetry.RecordMetric("ratelimit.rejections", 1, models.MetricCounter, nil)
			}
			c.Header("Retry-After", time.Duration(retryAfterMs*int64(time.Millisecond)).Round(time.Second).String())
			abortWithError(c, http.StatusTooManyRequests, models.ErrTypeRateLimit, "Rate limit exceeded", map[string]interface{}{
				"limit":        limit.Requests,
				"windowMs":     limit.WindowMs,
				"retryAfterMs": retryAfterMs,
			})
			return
		}
		c.Next()
	}
}

// SweepCounters drops counters from past windows. Driven by the cron sweep;
// the limiter is correct without it, the sweep only bounds the map size.
func (r *RateLimiter) SweepCounters() {
	nowMs := r.now().UnixMilli()

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, counter := range r.counters {
		// Anything older than the largest plausible window is from a closed
		// window.
		if nowMs-counter.windowStart > 24*60*60*1000 {
			delete(r.counters, key)
		}
	}
}
