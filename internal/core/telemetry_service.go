package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"trustlayer-backend-go/internal/crypto"
	"trustlayer-backend-go/internal/models"
)

// Custom errors for the TelemetryService.
var (
	ErrAlertExists   = errors.New("alert already exists")
	ErrAlertNotFound = errors.New("alert not found")
)

// securityIncidentAlert is raised automatically by high-severity security
// logs.
const securityIncidentAlert = "security-incident"

// LogOption attaches optional context to a log entry.
type LogOption func(*models.LogEntry)

// WithLogMetadata attaches free-form metadata to the entry.
func WithLogMetadata(md map[string]interface{}) LogOption {
	return func(e *models.LogEntry) { e.Metadata = md }
}

// WithLogUser tags the entry with the acting user.
func WithLogUser(userID string) LogOption {
	return func(e *models.LogEntry) { e.UserID = userID }
}

// WithLogSession tags the entry with a session id.
func WithLogSession(sessionID string) LogOption {
	return func(e *models.LogEntry) { e.SessionID = sessionID }
}

// WithLogRequest tags the entry with a request id.
func WithLogRequest(requestID string) LogOption {
	return func(e *models.LogEntry) { e.RequestID = requestID }
}

// TelemetryOptions sizes the sink's bounded buffers.
type TelemetryOptions struct {
	MaxLogEntries       int
	MaxSamplesPerMetric int
	MetricRetention     time.Duration
	// Registerer receives the mirrored prometheus collectors; nil uses the
	// default registerer.
	Registerer prometheus.Registerer
}

func (o *TelemetryOptions) withDefaults() {
	if o.MaxLogEntries <= 0 {
		o.MaxLogEntries = 1000
	}
	if o.MaxSamplesPerMetric <= 0 {
		o.MaxSamplesPerMetric = 500
	}
	if o.MetricRetention <= 0 {
		o.MetricRetention = time.Hour
	}
	if o.Registerer == nil {
		o.Registerer = prometheus.DefaultRegisterer
	}
}

// telemetryService implements TelemetryService: a bounded log ring mirrored
// to zap, per-name metric rings mirrored into prometheus collectors, and
// named alert rules with pluggable dispatch channels.
type telemetryService struct {
	logger *zap.Logger
	opts   TelemetryOptions

	logMu      sync.Mutex
	logs       []models.LogEntry
	listeners  map[int]func(models.LogEntry)
	listenerID int

	metricMu   sync.Mutex
	metrics    map[string][]models.Metric
	collectors map[string]mirroredCollector

	alertMu  sync.Mutex
	alerts   map[string]*models.Alert
	channels map[string]AlertChannel
}

// NewTelemetryService creates the sink and registers the built-in console
// channel.
func NewTelemetryService(logger *zap.Logger, opts TelemetryOptions) TelemetryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.withDefaults()

	s := &telemetryService{
		logger:     logger,
		opts:       opts,
		listeners:  make(map[int]func(models.LogEntry)),
		metrics:    make(map[string][]models.Metric),
		collectors: make(map[string]mirroredCollector),
		alerts:     make(map[string]*models.Alert),
		channels:   make(map[string]AlertChannel),
	}
	s.channels["console"] = NewConsoleChannel(logger)

	// The automatic security alert exists from the start so escalation never
	// depends on setup order.
	s.alerts[securityIncidentAlert] = &models.Alert{
		ID:        crypto.GenerateUUID(),
		Name:      securityIncidentAlert,
		Severity:  models.SeverityCritical,
		Channels:  []string{"console"},
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	return s
}

// zapFieldsFor converts an entry's context into zap fields.
func zapFieldsFor(entry models.LogEntry) []zap.Field {
	fields := []zap.Field{
		zap.String("category", entry.Category),
		zap.String("log_id", entry.ID),
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	if entry.Metadata != nil {
		fields = append(fields, zap.Any("metadata", entry.Metadata))
	}
	return fields
}

// Log records a leveled, categorized entry into the bounded ring, mirrors it
// to zap and notifies listeners synchronously. Error-or-worse entries in the
// "security" category raise the security incident alert.
func (s *telemetryService) Log(level models.LogLevel, message, category string, opts ...LogOption) {
	entry := models.LogEntry{
		ID:        crypto.GenerateUUID(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Category:  category,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	s.logMu.Lock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > s.opts.MaxLogEntries {
		s.logs = s.logs[len(s.logs)-s.opts.MaxLogEntries:]
	}
	notify := make([]func(models.LogEntry), 0, len(s.listeners))
	for _, l := range s.listeners {
		notify = append(notify, l)
	}
	s.logMu.Unlock()

	fields := zapFieldsFor(entry)
	switch level {
	case models.LogDebug:
		s.logger.Debug(message, fields...)
	case models.LogInfo:
		s.logger.Info(message, fields...)
	case models.LogWarn:
		s.logger.Warn(message, fields...)
	default:
		// Fatal is recorded at error level: the sink must never terminate
		// the process on behalf of a caller.
		s.logger.Error(message, append(fields, zap.String("level", level.String()))...)
	}

	for _, listener := range notify {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Warn("log listener panicked", zap.Any("panic", r))
				}
			}()
			listener(entry)
		}()
	}

	if category == "security" && level >= models.LogError {
		s.TriggerAlert(context.Background(), securityIncidentAlert, map[string]interface{}{
			"message": message,
			"level":   level.String(),
			"logId":   entry.ID,
		})
	}
}

// AddLogListener registers a synchronous listener; the returned func removes
// it.
func (s *telemetryService) AddLogListener(listener func(models.LogEntry)) func() {
	s.logMu.Lock()
	s.listenerID++
	id := s.listenerID
	s.listeners[id] = listener
	s.logMu.Unlock()

	return func() {
		s.logMu.Lock()
		delete(s.listeners, id)
		s.logMu.Unlock()
	}
}

// promName maps a dotted metric name onto the prometheus namespace.
func promName(name string) string {
	return "trustlayer_" + strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// mirroredCollector pairs a prometheus collector with the kind it was
// registered as. The kind, not the collector's interface set, decides how a
// sample is applied (a prometheus Gauge also satisfies Counter).
type mirroredCollector struct {
	kind      models.MetricType
	collector prometheus.Collector
}

// collectorKind folds timers into histograms; those are the only kinds the
// mirror distinguishes.
func collectorKind(metricType models.MetricType) models.MetricType {
	if metricType == models.MetricTimer {
		return models.MetricHistogram
	}
	return metricType
}

// mirror reflects a sample into the registered prometheus collector for its
// name, creating the collector on first use. The first sample fixes the
// collector's kind; later samples of a different kind are dropped with a
// debug log, since prometheus forbids re-registering a name.
func (s *telemetryService) mirror(name string, value float64, metricType models.MetricType) {
	kind := collectorKind(metricType)
	entry, ok := s.collectors[name]
	if !ok {
		var collector prometheus.Collector
		switch kind {
		case models.MetricCounter:
			collector = prometheus.NewCounter(prometheus.CounterOpts{
				Name: promName(name) + "_total",
				Help: "Counter mirrored from the telemetry sink.",
			})
		case models.MetricGauge:
			collector = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: promName(name),
				Help: "Gauge mirrored from the telemetry sink.",
			})
		default:
			collector = prometheus.NewHistogram(prometheus.HistogramOpts{
				Name: promName(name),
				Help: "Distribution mirrored from the telemetry sink.",
			})
		}
		if err := s.opts.Registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				s.logger.Warn("failed to register prometheus collector",
					zap.String("metric", name), zap.Error(err))
				return
			}
			collector = already.ExistingCollector
		}
		entry = mirroredCollector{kind: kind, collector: collector}
		s.collectors[name] = entry
	}

	if entry.kind != kind {
		s.logger.Debug("metric sample dropped from prometheus mirror, type differs from registration",
			zap.String("metric", name),
			zap.String("registered", string(entry.kind)),
			zap.String("sample", string(metricType)))
		return
	}

	switch entry.kind {
	case models.MetricCounter:
		if value >= 0 {
			entry.collector.(prometheus.Counter).Add(value)
		}
	case models.MetricGauge:
		entry.collector.(prometheus.Gauge).Set(value)
	default:
		entry.collector.(prometheus.Histogram).Observe(value)
	}
}

// RecordMetric appends a sample to the per-name bounded ring and mirrors it
// to prometheus.
func (s *telemetryService) RecordMetric(name string, value float64, metricType models.MetricType, tags map[string]string) {
	if name == "" {
		return
	}
	sample := models.Metric{
		Name:      name,
		Value:     value,
		Type:      metricType,
		Timestamp: time.Now().UTC(),
		Tags:      tags,
	}

	s.metricMu.Lock()
	samples := append(s.metrics[name], sample)
	if len(samples) > s.opts.MaxSamplesPerMetric {
		samples = samples[len(samples)-s.opts.MaxSamplesPerMetric:]
	}
	s.metrics[name] = samples
	s.mirror(name, value, metricType)
	s.metricMu.Unlock()
}

// GetMetricStats summarizes the retained samples for one name.
func (s *telemetryService) GetMetricStats(name string) (models.MetricStats, bool) {
	s.metricMu.Lock()
	samples := s.metrics[name]
	s.metricMu.Unlock()

	if len(samples) == 0 {
		return models.MetricStats{}, false
	}

	stats := models.MetricStats{
		Name:  name,
		Count: len(samples),
		Min:   samples[0].Value,
		Max:   samples[0].Value,
	}
	for _, sample := range samples {
		stats.Sum += sample.Value
		if sample.Value < stats.Min {
			stats.Min = sample.Value
		}
		if sample.Value > stats.Max {
			stats.Max = sample.Value
		}
	}
	stats.Avg = stats.Sum / float64(stats.Count)
	return stats, true
}

// CreateAlert registers a named alert rule.
func (s *telemetryService) CreateAlert(name string, severity models.AlertSeverity, channels []string) (*models.Alert, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: alert name is required", ErrInvalidInput)
	}

	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	if _, ok := s.alerts[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertExists, name)
	}
	alert := &models.Alert{
		ID:        crypto.GenerateUUID(),
		Name:      name,
		Severity:  severity,
		Channels:  channels,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	s.alerts[name] = alert

	cp := *alert
	return &cp, nil
}

// SetAlertEnabled flips an alert's enabled state.
func (s *telemetryService) SetAlertEnabled(name string, enabled bool) error {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	alert, ok := s.alerts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, name)
	}
	alert.Enabled = enabled
	return nil
}

// RegisterChannel plugs in a dispatch sink under the given name.
func (s *telemetryService) RegisterChannel(name string, channel AlertChannel) {
	s.alertMu.Lock()
	s.channels[name] = channel
	s.alertMu.Unlock()
}

// TriggerAlert fires a named alert. Triggering a disabled or unknown alert
// is a silent no-op; each configured channel is attempted independently.
func (s *telemetryService) TriggerAlert(ctx context.Context, name string, details map[string]interface{}) {
	s.alertMu.Lock()
	alert, ok := s.alerts[name]
	if !ok || !alert.Enabled {
		s.alertMu.Unlock()
		return
	}
	now := time.Now().UTC()
	alert.LastTriggeredAt = &now
	snapshot := *alert
	channels := make(map[string]AlertChannel, len(alert.Channels))
	for _, chName := range alert.Channels {
		if ch, ok := s.channels[chName]; ok {
			channels[chName] = ch
		}
	}
	s.alertMu.Unlock()

	s.logger.Warn("alert triggered",
		zap.String("alert", name),
		zap.String("severity", string(snapshot.Severity)),
		zap.Any("details", details),
	)

	for chName, ch := range channels {
		if err := ch.Dispatch(ctx, snapshot, details); err != nil {
			s.logger.Warn("alert channel dispatch failed",
				zap.String("alert", name),
				zap.String("channel", chName),
				zap.Error(err),
			)
		}
	}
}

// ExportLogs snapshots the retained log ring.
func (s *telemetryService) ExportLogs() []models.LogEntry {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	return append([]models.LogEntry(nil), s.logs...)
}

// ExportMetrics snapshots every retained metric sample.
func (s *telemetryService) ExportMetrics() []models.Metric {
	s.metricMu.Lock()
	defer s.metricMu.Unlock()

	var out []models.Metric
	for _, samples := range s.metrics {
		out = append(out, samples...)
	}
	return out
}

// SweepRetention drops metric samples older than the retention window.
func (s *telemetryService) SweepRetention() {
	cutoff := time.Now().UTC().Add(-s.opts.MetricRetention)

	s.metricMu.Lock()
	defer s.metricMu.Unlock()
	for name, samples := range s.metrics {
		kept := samples[:0]
		for _, sample := range samples {
			if sample.Timestamp.After(cutoff) {
				kept = append(kept, sample)
			}
		}
		if len(kept) == 0 {
			delete(s.metrics, name)
			continue
		}
		s.metrics[name] = append([]models.Metric(nil), kept...)
	}
}
