package middleware

import (
	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/crypto"
)

// SecurityHeaders applies the hardened response-header baseline to every
// response. Overrides replace individual headers; an override with an empty
// value removes the header entirely.
func SecurityHeaders(overrides map[string]string) gin.HandlerFunc {
	headers := crypto.SecurityHeaders(overrides)
	return func(c *gin.Context) {
		for name, value := range headers {
			c.Header(name, value)
		}
		c.Next()
	}
}
