package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
)

// ConfigHandler handles the configuration and feature-flag endpoints.
type ConfigHandler struct {
	configService core.ConfigService
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(configService core.ConfigService) *ConfigHandler {
	return &ConfigHandler{configService: configService}
}

// SetConfig handles PUT /api/v1/configs.
func (h *ConfigHandler) SetConfig(c *gin.Context) {
	var req SetConfigRequest
	if !bindJSON(c, &req) {
		return
	}

	err := h.configService.SetConfig(c.Request.Context(), req.Key, req.Value, req.Environment, models.ConfigOptions{
		Description:    crypto.SanitizeInput(req.Description),
		Tags:           req.Tags,
		IsSecret:       req.IsSecret,
		IsRequired:     req.IsRequired,
		DefaultValue:   req.DefaultValue,
		ValidationRule: req.ValidationRule,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetConfig handles GET /api/v1/configs/:environment/:key. An optional
// default query parameter is returned verbatim when the key is absent.
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	var defaultValue interface{}
	if raw, ok := c.GetQuery("default"); ok {
		defaultValue = raw
	}

	value, err := h.configService.GetConfig(c.Request.Context(), c.Param("key"), c.Param("environment"), defaultValue)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"key": c.Param("key"), "environment": c.Param("environment"), "value": value})
}

// DeleteConfig handles DELETE /api/v1/configs/:environment/:key.
func (h *ConfigHandler) DeleteConfig(c *gin.Context) {
	if err := h.configService.DeleteConfig(c.Request.Context(), c.Param("key"), c.Param("environment")); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportConfigs handles GET /api/v1/configs. Secret-backed entries appear as
// metadata only.
func (h *ConfigHandler) ExportConfigs(c *gin.Context) {
	respond(c, http.StatusOK, h.configService.ExportConfigurations(c.Query("environment")))
}

// ValidateEnvironment handles GET /api/v1/configs/:environment/validate.
func (h *ConfigHandler) ValidateEnvironment(c *gin.Context) {
	respond(c, http.StatusOK, h.configService.ValidateEnvironment(c.Request.Context(), c.Param("environment")))
}

// SetFeatureFlag handles PUT /api/v1/flags.
func (h *ConfigHandler) SetFeatureFlag(c *gin.Context) {
	var req SetFeatureFlagRequest
	if !bindJSON(c, &req) {
		return
	}

	conditions := lo.FilterMap(req.Conditions, func(cond FlagConditionRequest, _ int) (models.FlagCondition, bool) {
		mapped := cond.toCondition()
		return mapped, mapped != nil
	})

	err := h.configService.SetFeatureFlag(c.Request.Context(), req.Name, req.Enabled, req.Environment, conditions, req.Metadata)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EvaluateFeatureFlag handles POST /api/v1/flags/:name/evaluate.
func (h *ConfigHandler) EvaluateFeatureFlag(c *gin.Context) {
	var req EvaluateFlagRequest
	if !bindJSON(c, &req) {
		return
	}

	enabled := h.configService.IsFeatureEnabled(c.Param("name"), req.Environment, models.EvaluationContext{
		UserID:    req.UserID,
		Roles:     req.Roles,
		IPAddress: req.IPAddress,
	})
	respond(c, http.StatusOK, gin.H{"name": c.Param("name"), "environment": req.Environment, "enabled": enabled})
}
