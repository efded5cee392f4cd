package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/middleware"
	"trustlayer-backend-go/internal/models"
)

// respond writes the uniform success envelope.
func respond(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, models.NewSuccessResponse(statusCode, data, middleware.RequestIDFrom(c)))
}

// respondError writes the uniform error envelope.
func respondError(c *gin.Context, statusCode int, errType, message string, details interface{}) {
	c.JSON(statusCode, models.NewErrorResponse(statusCode, errType, message, details, middleware.RequestIDFrom(c)))
}

// bindJSON binds the request body into dst and, on failure, responds with a
// validation envelope listing every violated binding rule. Returns false when
// the request was already answered.
func bindJSON(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			details = append(details, fmt.Sprintf("field %q failed rule %q", fieldError.Field(), fieldError.Tag()))
		}
		respondError(c, http.StatusBadRequest, models.ErrTypeValidation, "Request validation failed", details)
		return false
	}

	respondError(c, http.StatusBadRequest, models.ErrTypeValidation, "Invalid request payload", err.Error())
	return false
}

// mapServiceError translates service-layer errors into the envelope. Crypto
// failures stay generic: the response must not reveal whether tampering or a
// wrong key caused them.
func mapServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrSecretNotFound),
		errors.Is(err, core.ErrConfigNotFound),
		errors.Is(err, core.ErrAPIKeyNotFound),
		errors.Is(err, core.ErrAlertNotFound):
		respondError(c, http.StatusNotFound, models.ErrTypeNotFound, err.Error(), nil)
	case errors.Is(err, core.ErrSecretInactive),
		errors.Is(err, core.ErrSecretExpired):
		respondError(c, http.StatusConflict, models.ErrTypeConflict, err.Error(), nil)
	case errors.Is(err, core.ErrAlertExists):
		respondError(c, http.StatusConflict, models.ErrTypeConflict, err.Error(), nil)
	case errors.Is(err, core.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, models.ErrTypeValidation, err.Error(), nil)
	case errors.Is(err, core.ErrAuthenticationFailed):
		respondError(c, http.StatusUnauthorized, models.ErrTypeAuthentication, "Invalid or missing credentials", nil)
	case errors.Is(err, crypto.ErrEncryptionFailed), errors.Is(err, crypto.ErrDecryptionFailed):
		respondError(c, http.StatusInternalServerError, models.ErrTypeInternal, "Cryptographic operation failed", nil)
	default:
		var validationError *core.ValidationError
		if errors.As(err, &validationError) {
			respondError(c, http.StatusBadRequest, models.ErrTypeValidation, "Validation failed", validationError.Violations)
			return
		}
		respondError(c, http.StatusInternalServerError, models.ErrTypeInternal, "An unexpected internal error occurred", nil)
	}
}
