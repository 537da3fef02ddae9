// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"bytes"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/metrics"
)

// WebhookNotifier posts alert payloads to an external webhook endpoint.
// Deliveries are rate limited; alerts beyond the limit are dropped with
// a metric rather than queued, so a flood of suspicious activity cannot
// back-pressure the pipeline.
type WebhookNotifier struct {
	mu          sync.RWMutex
	webhookURL  string
	minSeverity audit.Severity

	client  *http.Client
	limiter *rate.Limiter
}

// WebhookNotifierConfig configures the webhook notifier.
type WebhookNotifierConfig struct {
	WebhookURL    string
	Timeout       time.Duration
	RatePerMinute int
	MinSeverity   audit.Severity
}

// WebhookPayload is the JSON body posted to the endpoint.
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookNotifierConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	minSev := cfg.MinSeverity
	if minSev == "" {
		minSev = audit.SeverityHigh
	}
	return &WebhookNotifier{
		webhookURL:  cfg.WebhookURL,
		minSeverity: minSev,
		client:      &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string { return "webhook" }

// SetWebhookURL updates the endpoint at runtime. Empty disables delivery.
func (n *WebhookNotifier) SetWebhookURL(url string) {
	n.mu.Lock()
	n.webhookURL = url
	n.mu.Unlock()
}

// Notify delivers one alert. Alerts below the severity gate or beyond
// the rate limit are silently skipped.
func (n *WebhookNotifier) Notify(alert *Alert) error {
	n.mu.RLock()
	url := n.webhookURL
	minSev := n.minSeverity
	n.mu.RUnlock()

	if url == "" {
		return nil
	}
	if alert.Severity.Rank() < minSev.Rank() {
		return nil
	}
	if !n.limiter.Allow() {
		metrics.AlertsDelivered.WithLabelValues(n.Name(), "throttled").Inc()
		return nil
	}

	payload := WebhookPayload{
		Alert:     alert,
		EventType: "audit_alert",
		Timestamp: time.Now().UTC(),
		Source:    "vigilium",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		metrics.AlertsDelivered.WithLabelValues(n.Name(), "error").Inc()
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.AlertsDelivered.WithLabelValues(n.Name(), "error").Inc()
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	metrics.AlertsDelivered.WithLabelValues(n.Name(), "ok").Inc()
	return nil
}
