package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/models"
)

// Gin context keys shared between the pipeline stages and handlers.
const (
	ContextIdentityKey  = "identity"
	ContextRequestIDKey = "requestID"
)

// IdentityFrom returns the authenticated identity set by the auth stage, or
// nil when the request is unauthenticated.
func IdentityFrom(c *gin.Context) *models.Identity {
	value, ok := c.Get(ContextIdentityKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}

// RequestIDFrom returns the request id assigned by the logging stage.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ContextRequestIDKey)
}

// abortWithError writes the uniform error envelope and stops the pipeline.
func abortWithError(c *gin.Context, statusCode int, errType, message string, details interface{}) {
	c.AbortWithStatusJSON(statusCode, models.NewErrorResponse(statusCode, errType, message, details, RequestIDFrom(c)))
}

// abortUnauthorized is the shared 401 shape; the message stays generic so the
// response does not reveal which credential check failed.
func abortUnauthorized(c *gin.Context) {
	abortWithError(c, http.StatusUnauthorized, models.ErrTypeAuthentication, "Invalid or missing credentials", nil)
}
