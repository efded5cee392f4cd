package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"trustlayer-backend-go/internal/models"
)

// ConsoleChannel dispatches alerts to the process log.
type ConsoleChannel struct {
	logger *zap.Logger
}

// NewConsoleChannel creates the default alert channel.
func NewConsoleChannel(logger *zap.Logger) *ConsoleChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Dispatch(_ context.Context, alert models.Alert, details map[string]interface{}) error {
	c.logger.Warn("ALERT",
		zap.String("name", alert.Name),
		zap.String("severity", string(alert.Severity)),
		zap.Any("details", details),
	)
	return nil
}

// WebhookChannel posts the alert as JSON to a configured URL.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a channel posting to url. A nil client gets a
// short default timeout so a slow endpoint cannot stall dispatch.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookChannel{url: url, client: client}
}

func (c *WebhookChannel) Dispatch(ctx context.Context, alert models.Alert, details map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"alert":     alert.Name,
		"severity":  alert.Severity,
		"details":   details,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
