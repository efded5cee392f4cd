package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trustlayer-backend-go/internal/core"
	"trustlayer-backend-go/internal/models"
)

// TelemetryHandler exposes the telemetry sink's logs, metrics and alerts.
type TelemetryHandler struct {
	telemetryService core.TelemetryService
}

// NewTelemetryHandler creates a new TelemetryHandler.
func NewTelemetryHandler(telemetryService core.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{telemetryService: telemetryService}
}

// ExportLogs handles GET /api/v1/telemetry/logs.
func (h *TelemetryHandler) ExportLogs(c *gin.Context) {
	respond(c, http.StatusOK, h.telemetryService.ExportLogs())
}

// ExportMetrics handles GET /api/v1/telemetry/metrics.
func (h *TelemetryHandler) ExportMetrics(c *gin.Context) {
	respond(c, http.StatusOK, h.telemetryService.ExportMetrics())
}

// GetMetricStats handles GET /api/v1/telemetry/metrics/:name/stats.
func (h *TelemetryHandler) GetMetricStats(c *gin.Context) {
	stats, ok := h.telemetryService.GetMetricStats(c.Param("name"))
	if !ok {
		respondError(c, http.StatusNotFound, models.ErrTypeNotFound, "no samples recorded for metric", nil)
		return
	}
	respond(c, http.StatusOK, stats)
}

// RecordMetric handles POST /api/v1/telemetry/metrics.
func (h *TelemetryHandler) RecordMetric(c *gin.Context) {
	var req RecordMetricRequest
	if !bindJSON(c, &req) {
		return
	}
	h.telemetryService.RecordMetric(req.Name, req.Value, models.MetricType(req.Type), req.Tags)
	c.Status(http.StatusAccepted)
}

// CreateAlert handles POST /api/v1/telemetry/alerts.
func (h *TelemetryHandler) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if !bindJSON(c, &req) {
		return
	}
	alert, err := h.telemetryService.CreateAlert(req.Name, models.AlertSeverity(req.Severity), req.Channels)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	respond(c, http.StatusCreated, alert)
}

// TriggerAlert handles POST /api/v1/telemetry/alerts/:name/trigger.
func (h *TelemetryHandler) TriggerAlert(c *gin.Context) {
	var req TriggerAlertRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	h.telemetryService.TriggerAlert(c.Request.Context(), c.Param("name"), req.Details)
	c.Status(http.StatusAccepted)
}

// SetAlertEnabled handles PUT /api/v1/telemetry/alerts/:name/enabled.
func (h *TelemetryHandler) SetAlertEnabled(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := h.telemetryService.SetAlertEnabled(c.Param("name"), req.Enabled); err != nil {
		mapServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
