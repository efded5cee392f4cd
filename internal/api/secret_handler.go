package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/middleware"
	"trustlayer-backend-go/internal/models"
)

// SecretHandler handles the secret lifecycle endpoints.
type SecretHandler struct {
	secretService core.SecretService
	auditService  core.AuditService
}

// NewSecretHandler creates a new SecretHandler.
func NewSecretHandler(secretService core.SecretService, auditService core.AuditService) *SecretHandler {
	return &SecretHandler{secretService: secretService, auditService: auditService}
}

// actorID resolves the acting user for audit attribution.
func actorID(c *gin.Context) string {
	if identity := middleware.IdentityFrom(c); identity != nil {
		return identity.UserID
	}
	return "anonymous"
}

// SetSecret handles PUT /api/v1/secrets. Creating and overwriting are the
// same operation.
func (h *SecretHandler) SetSecret(c *gin.Context) {
	var req SetSecretRequest
	if !bindJSON(c, &req) {
		return
	}

	meta := models.SecretMetadata{
		Type:                    models.SecretType(req.Type),
		Description:             crypto.SanitizeInput(req.Description),
		Tags:                    req.Tags,
		ExpiresAt:               req.ExpiresAt,
		RotationIntervalSeconds: req.RotationIntervalSeconds,
		Permissions:             req.Permissions,
	}

	secret, err := h.secretService.SetSecret(c.Request.Context(), req.Key, req.Value, req.Environment, meta, actorID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusCreated, secret)
}

// GetSecret handles GET /api/v1/secrets/:environment/:key and returns the
// decrypted value. This is the only endpoint that ever carries plaintext.
func (h *SecretHandler) GetSecret(c *gin.Context) {
	environment := c.Param("environment")
	key := c.Param("key")

	value, err := h.secretService.GetSecret(c.Request.Context(), key, environment, actorID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusOK, SecretValueResponse{Key: key, Environment: environment, Value: value})
}

// ListSecrets handles GET /api/v1/secrets. The optional environment query
// parameter filters the listing; responses carry metadata only.
func (h *SecretHandler) ListSecrets(c *gin.Context) {
	secrets, err := h.secretService.ListSecrets(c.Request.Context(), c.Query("environment"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusOK, secrets)
}

// RotateSecret handles POST /api/v1/secrets/:environment/:key/rotate.
func (h *SecretHandler) RotateSecret(c *gin.Context) {
	var req RotateSecretRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	environment := c.Param("environment")
	key := c.Param("key")

	value, err := h.secretService.RotateSecret(c.Request.Context(), key, environment, req.NewValue, actorID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusOK, SecretValueResponse{Key: key, Environment: environment, Value: value})
}

// DeactivateSecret handles POST /api/v1/secrets/:environment/:key/deactivate.
func (h *SecretHandler) DeactivateSecret(c *gin.Context) {
	err := h.secretService.DeactivateSecret(c.Request.Context(), c.Param("key"), c.Param("environment"), actorID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteSecret handles DELETE /api/v1/secrets/:environment/:key.
func (h *SecretHandler) DeleteSecret(c *gin.Context) {
	err := h.secretService.DeleteSecret(c.Request.Context(), c.Param("key"), c.Param("environment"), actorID(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAuditTrail handles GET /api/v1/secrets/audit. The optional secretId
// query parameter filters to one secret's history.
func (h *SecretHandler) GetAuditTrail(c *gin.Context) {
	respond(c, http.StatusOK, h.auditService.Entries(c.Query("secretId")))
}
