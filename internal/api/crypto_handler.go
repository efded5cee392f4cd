package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/crypto"
)

// CryptoHandler exposes the stateless crypto utilities that make sense over
// HTTP. Encryption itself is not exposed; callers go through the secret
// store.
type CryptoHandler struct{}

// NewCryptoHandler creates a new CryptoHandler.
func NewCryptoHandler() *CryptoHandler {
	return &CryptoHandler{}
}

// ValidatePasswordRequest carries a candidate password and an optional
// policy; absent fields fall back to the default policy.
type ValidatePasswordRequest struct {
	Password string                 `json:"password" binding:"required"`
	Policy   *crypto.PasswordPolicy `json:"policy,omitempty"`
}

// ValidatePassword handles POST /api/v1/crypto/validate-password. Every
// violated rule is reported, not just the first.
func (h *CryptoHandler) ValidatePassword(c *gin.Context) {
	var req ValidatePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	policy := crypto.DefaultPasswordPolicy
	if req.Policy != nil {
		policy = *req.Policy
	}
	respond(c, http.StatusOK, crypto.ValidatePasswordPolicy(req.Password, policy))
}
