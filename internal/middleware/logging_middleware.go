package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
)

// RequestLogger returns a gin.HandlerFunc (middleware) that logs requests
// using zap and mirrors request counters and latency into the telemetry
// sink. It also assigns the request id: an incoming X-Request-ID is kept,
// otherwise one is generated, and either way it is echoed in the response.
func RequestLogger(logger *zap.Logger, telemetry core.TelemetryService) gin.HandlerFunc {
	if logger == nil {
		panic("RequestLogger requires a non-nil zap.Logger instance")
	}
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = crypto.GenerateUUID()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		// Copy path and query before downstream handlers can touch them.
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logFields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status_code", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", requestID),
		}
		if query != "" {
			logFields = append(logFields, zap.String("query", query))
		}
		if len(c.Errors) > 0 {
			logFields = append(logFields, zap.String("gin_errors", c.Errors.String()))
		}

		switch {
		case statusCode >= http.StatusInternalServerError:
			logger.Error("Incoming Request", logFields...)
		case statusCode >= http.StatusBadRequest:
			logger.Warn("Incoming Request", logFields...)
		default:
			logger.Info("Incoming Request", logFields...)
		}

		if telemetry != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			tags := map[string]string{"method": c.Request.Method, "route": route}
			telemetry.RecordMetric("http.requests", 1, models.MetricCounter, tags)
			telemetry.RecordMetric("http.request_duration_ms", float64(latency.Milliseconds()), models.MetricTimer, tags)
			if statusCode >= http.StatusInternalServerError {
				telemetry.RecordMetric("http.server_errors", 1, models.MetricCounter, tags)
			}
		}
	}
}
