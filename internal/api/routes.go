package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/middleware"
	"trustlayer-backend-go/internal/models"
)

// registerEndpoints declares the permission and rate-limit requirements the
// pipeline stages enforce per route. Routes absent from the registry carry no
// permission requirement and fall back to the default rate limit.
func registerEndpoints(credentialService core.CredentialService) {
	for _, endpoint := range []models.Endpoint{
		{Method: http.MethodPut, Path: "/api/v1/secrets", RequiredPermissions: []string{"secrets:write"}},
		{Method: http.MethodGet, Path: "/api/v1/secrets", RequiredPermissions: []string{"secrets:read"}},
		{Method: http.MethodGet, Path: "/api/v1/audit", RequiredPermissions: []string{"audit:read"}},
		{Method: http.MethodGet, Path: "/api/v1/secrets/:environment/:key", RequiredPermissions: []string{"secrets:read"}},
		{Method: http.MethodPost, Path: "/api/v1/secrets/:environment/:key/rotate", RequiredPermissions: []string{"secrets:rotate"}},
		{Method: http.MethodPost, Path: "/api/v1/secrets/:environment/:key/deactivate", RequiredPermissions: []string{"secrets:write"}},
		{Method: http.MethodDelete, Path: "/api/v1/secrets/:environment/:key", RequiredPermissions: []string{"secrets:delete"}},

		{Method: http.MethodPut, Path: "/api/v1/configs", RequiredPermissions: []string{"configs:write"}},
		{Method: http.MethodDelete, Path: "/api/v1/configs/:environment/:key", RequiredPermissions: []string{"configs:write"}},
		{Method: http.MethodGet, Path: "/api/v1/environments/:environment/validate", RequiredPermissions: []string{"configs:read"}},
		{Method: http.MethodPut, Path: "/api/v1/flags", RequiredPermissions: []string{"configs:write"}},

		{Method: http.MethodPost, Path: "/api/v1/apikeys", RequiredPermissions: []string{"apikeys:manage"}},
		{Method: http.MethodGet, Path: "/api/v1/apikeys", RequiredPermissions: []string{"apikeys:manage"}},
		{Method: http.MethodDelete, Path: "/api/v1/apikeys/:id", RequiredPermissions: []string{"apikeys:manage"}},

		{Method: http.MethodGet, Path: "/api/v1/telemetry/logs", RequiredPermissions: []string{"telemetry:read"}},
		{Method: http.MethodPost, Path: "/api/v1/telemetry/alerts", RequiredPermissions: []string{"telemetry:manage"}},
		{Method: http.MethodPost, Path: "/api/v1/telemetry/alerts/:name/trigger", RequiredPermissions: []string{"telemetry:manage"}},
		{Method: http.MethodPut, Path: "/api/v1/telemetry/alerts/:name/enabled", RequiredPermissions: []string{"telemetry:manage"}},
	} {
		credentialService.RegisterEndpoint(endpoint)
	}
}

// SetupRoutes configures all the application routes with their handlers and
// pipeline stages. Global middleware (logging, recovery, CORS, security
// headers) is applied to the router before this function is called, in
// main.go.
func SetupRoutes(
	router *gin.Engine,
	logger *zap.Logger,
	secretService core.SecretService,
	auditService core.AuditService,
	configService core.ConfigService,
	credentialService core.CredentialService,
	telemetryService core.TelemetryService,
	authMW *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
) {
	registerEndpoints(credentialService)

	secretHandler := NewSecretHandler(secretService, auditService)
	cryptoHandler := NewCryptoHandler()
	configHandler := NewConfigHandler(configService)
	apiKeyHandler := NewAPIKeyHandler(credentialService)
	telemetryHandler := NewTelemetryHandler(telemetryService)

	// Stage order: authenticate, authorize, then rate-limit. Unauthenticated
	// requests never consume a rate-limit window.
	apiV1 := router.Group("/api/v1",
		authMW.Authenticate(),
		middleware.RequirePermissions(credentialService),
		rateLimiter.Limit(),
	)
	{
		secretsGroup := apiV1.Group("/secrets")
		{
			secretsGroup.PUT("", middleware.ValidateRequest(middleware.FieldRules{
				BodyFields: []string{"key", "value", "environment"},
			}), secretHandler.SetSecret)
			secretsGroup.GET("", secretHandler.ListSecrets)
			secretsGroup.GET("/:environment/:key", secretHandler.GetSecret)
			secretsGroup.POST("/:environment/:key/rotate", secretHandler.RotateSecret)
			secretsGroup.POST("/:environment/:key/deactivate", secretHandler.DeactivateSecret)
			secretsGroup.DELETE("/:environment/:key", secretHandler.DeleteSecret)
		}

		// The audit trail and environment validation live outside their
		// natural groups: a static segment cannot share a position with the
		// :environment wildcard in the router tree.
		apiV1.GET("/audit", secretHandler.GetAuditTrail)
		apiV1.POST("/crypto/validate-password", cryptoHandler.ValidatePassword)
		apiV1.GET("/environments/:environment/validate", configHandler.ValidateEnvironment)

		configsGroup := apiV1.Group("/configs")
		{
			configsGroup.PUT("", middleware.ValidateRequest(middleware.FieldRules{
				BodyFields: []string{"key", "environment"},
			}), configHandler.SetConfig)
			configsGroup.GET("", configHandler.ExportConfigs)
			configsGroup.GET("/:environment/:key", configHandler.GetConfig)
			configsGroup.DELETE("/:environment/:key", configHandler.DeleteConfig)
		}

		flagsGroup := apiV1.Group("/flags")
		{
			flagsGroup.PUT("", configHandler.SetFeatureFlag)
			flagsGroup.POST("/:name/evaluate", configHandler.EvaluateFeatureFlag)
		}

		apiKeysGroup := apiV1.Group("/apikeys")
		{
			apiKeysGroup.POST("", apiKeyHandler.GenerateAPIKey)
			apiKeysGroup.GET("", apiKeyHandler.ListAPIKeys)
			apiKeysGroup.DELETE("/:id", apiKeyHandler.RevokeAPIKey)
		}

		telemetryGroup := apiV1.Group("/telemetry")
		{
			telemetryGroup.GET("/logs", telemetryHandler.ExportLogs)
			telemetryGroup.GET("/metrics", telemetryHandler.ExportMetrics)
			telemetryGroup.GET("/metrics/:name/stats", telemetryHandler.GetMetricStats)
			telemetryGroup.POST("/metrics", telemetryHandler.RecordMetric)
			telemetryGroup.POST("/alerts", telemetryHandler.CreateAlert)
			telemetryGroup.POST("/alerts/:name/trigger", telemetryHandler.TriggerAlert)
			telemetryGroup.PUT("/alerts/:name/enabled", telemetryHandler.SetAlertEnabled)
		}
	}

	// Prometheus scrape endpoint and health check stay outside the
	// authenticated group.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	logger.Info("API routes configured under /api/v1, /metrics and /health")
}
