package models

import "time"

// LogLevel orders log severity for threshold checks.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
	LogFatal
)

// String returns the lowercase level name.
func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	case LogFatal:
		return "fatal"
	}
	return "unknown"
}

// LogEntry is one immutable record in the telemetry ring buffer.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Category  string                 `json:"category"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	RequestID string                 `json:"requestId,omitempty"`
}

// MetricType is the closed set of metric kinds the sink records.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
	MetricTimer     MetricType = "timer"
)

// Metric is one immutable sample.
type Metric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Type      MetricType        `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// MetricStats summarizes the retained window of samples for one metric name.
type MetricStats struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// AlertSeverity gates alert dispatch.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a named rule with a severity and a set of dispatch channels.
// Enabled and LastTriggeredAt are the only mutable fields.
type Alert struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Severity        AlertSeverity `json:"severity"`
	Channels        []string      `json:"channels"`
	Enabled         bool          `json:"enabled"`
	CreatedAt       time.Time     `json:"createdAt"`
	LastTriggeredAt *time.Time    `json:"lastTriggeredAt,omitempty"`
}
