package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/models"
)

// RecoveryMiddleware returns a gin.HandlerFunc (middleware) that recovers
// from any panics within a handler, logs the panic with a stack trace, and
// returns a generic 500 envelope to the client. This prevents the server
// from crashing due to unhandled panics.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		panic("RecoveryMiddleware requires a non-nil zap.Logger instance")
	}
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				// debug.Stack() captures the panicking goroutine's stack.
				logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("stacktrace", string(debug.Stack())),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				// Skip the write if a handler already produced a response;
				// this avoids "multiple WriteHeader calls" errors.
				if !c.Writer.Written() {
					c.JSON(http.StatusInternalServerError, models.NewErrorResponse(
						http.StatusInternalServerError,
						models.ErrTypeInternal,
						"The server encountered an unexpected condition",
						nil,
						RequestIDFrom(c),
					))
				}
				c.Abort()
			}
		}()

		c.Next()
	}
}
