package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/models"
)

// AccessClaims is the JWT payload issued for interactive sessions.
type AccessClaims struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware authenticates requests. Two credential kinds are accepted:
// a signed bearer token in the Authorization header, or an issued API key in
// the X-API-Key header. The resolved identity is stored in the Gin context
// for the downstream stages.
type AuthMiddleware struct {
	credentials core.CredentialService
	telemetry   core.TelemetryService // may be nil
	logger      *zap.Logger
	signingKey  []byte
}

// NewAuthMiddleware creates an AuthMiddleware. It panics on a missing
// credential service or signing key: both are setup errors the server cannot
// run without.
func NewAuthMiddleware(credentials core.CredentialService, telemetry core.TelemetryService, logger *zap.Logger, signingKey []byte) *AuthMiddleware {
	if credentials == nil {
		panic("AuthMiddleware requires a credential service")
	}
	if len(signingKey) == 0 {
		panic("AuthMiddleware requires a JWT signing key")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		credentials: credentials,
		telemetry:   telemetry,
		logger:      logger,
		signingKey:  signingKey,
	}
}

// parseBearerToken validates a JWT and maps its claims onto an identity.
func (m *AuthMiddleware) parseBearerToken(tokenString string) (*models.Identity, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("token is not valid")
	}
	return &models.Identity{
		UserID:      claims.Subject,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		Method:      "bearer",
	}, nil
}

// Authenticate is the pipeline's authentication stage. Bearer tokens are
// tried first, then API keys; a request carrying neither, or an invalid
// credential, is rejected with a generic 401.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				abortUnauthorized(c)
				return
			}
			identity, err := m.parseBearerToken(parts[1])
			if err != nil {
				m.recordAuthFailure(c, "bearer", err)
				abortUnauthorized(c)
				return
			}
			c.Set(ContextIdentityKey, identity)
			c.Next()
			return
		}

		if apiKeyValue := c.GetHeader("X-API-Key"); apiKeyValue != "" {
			key, err := m.credentials.ValidateAPIKey(c.Request.Context(), apiKeyValue)
			if err != nil {
				m.recordAuthFailure(c, "api_key", err)
				abortUnauthorized(c)
				return
			}
			if key == nil {
				m.recordAuthFailure(c, "api_key", errors.New("unknown api key"))
				abortUnauthorized(c)
				return
			}
			c.Set(ContextIdentityKey, &models.Identity{
				UserID:      key.OwnerUserID,
				Permissions: key.Permissions,
				Method:      "api_key",
				APIKeyID:    key.ID,
			})
			c.Next()
			return
		}

		abortUnauthorized(c)
	}
}

func (m *AuthMiddleware) recordAuthFailure(c *gin.Context, method string, err error) {
	m.logger.Warn("authentication failed",
		zap.String("method", method),
		zap.String("path", c.Request.URL.Path),
		zap.String("client_ip", c.ClientIP()),
		zap.Error(err),
	)
	if m.telemetry != nil {
		m.telemetry.RecordMetric("auth.failures", 1, models.MetricCounter, map[string]string{"method": method})
		m.telemetry.Log(models.LogWarn, "authentication failed", "security",
			core.WithLogRequest(RequestIDFrom(c)),
			core.WithLogMetadata(map[string]interface{}{
				"method":   method,
				"path":     c.Request.URL.Path,
				"clientIp": c.ClientIP(),
			}),
		)
	}
}

// RequirePermissions is the authorization stage. It resolves the endpoint's
// registered permission set and requires the identity to hold every entry
// (or the wildcard). Endpoints that were never registered carry no
// permission requirement.
func RequirePermissions(credentials core.CredentialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		endpoint, ok := credentials.EndpointFor(c.Request.Method, c.FullPath())
		if !ok || len(endpoint.RequiredPermissions) == 0 {
			c.Next()
			return
		}

		identity := IdentityFrom(c)
		if identity == nil {
			abortUnauthorized(c)
			return
		}

		var missing []string
		for _, required := range endpoint.RequiredPermissions {
			if !identity.HasPermission(required) {
				missing = append(missing, required)
			}
		}
		if len(missing) > 0 {
			abortWithError(c, http.StatusForbidden, models.ErrTypeAuthorization, "Insufficient permissions", map[string]interface{}{
				"missingPermissions": missing,
			})
			return
		}
		c.Next()
	}
}
