package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/core"
)

// APIKeyHandler handles API key issuance and revocation.
type APIKeyHandler struct {
	credentialService core.CredentialService
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(credentialService core.CredentialService) *APIKeyHandler {
	return &APIKeyHandler{credentialService: credentialService}
}

// GenerateAPIKey handles POST /api/v1/apikeys. The response is the only
// place the full bearer value ever appears.
func (h *APIKeyHandler) GenerateAPIKey(c *gin.Context) {
	var req GenerateAPIKeyRequest
	if !bindJSON(c, &req) {
		return
	}

	key, err := h.credentialService.GenerateAPIKey(
		c.Request.Context(),
		req.Name,
		actorID(c),
		req.Scopes,
		req.Permissions,
		req.RateLimit,
		req.ExpiresAt,
		req.Environment,
	)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusCreated, key)
}

// ListAPIKeys handles GET /api/v1/apikeys. Bearer values are redacted.
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	respond(c, http.StatusOK, h.credentialService.ListAPIKeys(c.Query("environment")))
}

// RevokeAPIKey handles DELETE /api/v1/apikeys/:id.
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	if err := h.credentialService.RevokeAPIKey(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
