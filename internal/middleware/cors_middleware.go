package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSMiddleware configures Cross-Origin Resource Sharing (CORS) for the
// application. clientURLs is a comma-separated list of allowed origins; it
// must be configured, a permissive fallback would silently widen the attack
// surface.
func CORSMiddleware(clientURLs string) gin.HandlerFunc {
	if clientURLs == "" {
		panic("client URLs for CORS are not configured")
	}

	origins := strings.Split(clientURLs, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		// Authorization carries bearer tokens, X-API-Key carries issued keys.
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", "X-Request-ID", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
