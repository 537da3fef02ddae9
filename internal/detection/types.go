// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package detection implements the stateful suspicious-activity detector.
//
// The detector keeps a sliding window of recent observations per actor
// and per source IP, bounded by both age and count. Rules evaluate an
// incoming record against those windows and fire independent signals;
// multiple signals may fire for one record. State is purely in-memory
// per process: under multi-instance deployment detection is best-effort.
package detection

import (
	"time"

	"github.com/mkessl/vigilium/internal/audit"
)

// RuleType identifies a detection rule. Rule types double as the signal
// names attached to records.
type RuleType string

const (
	RuleRepeatedFailureBurst RuleType = "repeated-failure-burst"
	RuleGeoAnomaly           RuleType = "geo-anomaly"
	RuleOffHoursAdmin        RuleType = "off-hours-admin"
	RuleBulkExport           RuleType = "bulk-export"
)

// Observation is one window entry. Entries are append-only per key and
// evicted by age or cap.
type Observation struct {
	Time     time.Time
	Action   string
	Category audit.Category
	Result   audit.Result
	Country  string
}

// Rule evaluates one incoming record against the sliding windows for its
// actor and IP. The histories passed to Check already include the
// incoming event as their newest entry.
type Rule interface {
	// Type returns the rule type, used as the signal name.
	Type() RuleType

	// Check reports whether the rule fires for the record.
	Check(rec *audit.Record, actorHistory, ipHistory []Observation) (bool, error)

	// Enabled reports whether the rule participates in evaluation.
	Enabled() bool

	// SetEnabled toggles the rule at runtime.
	SetEnabled(enabled bool)
}

// Alert is the notification payload produced when a suspicious or
// high-risk record passes through the pipeline.
type Alert struct {
	RecordID  string         `json:"record_id"`
	Action    string         `json:"action"`
	Result    audit.Result   `json:"result"`
	Severity  audit.Severity `json:"severity"`
	RiskScore int            `json:"risk_score"`
	Signals   []string       `json:"signals,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AlertFromRecord builds the notification payload for a scored record.
func AlertFromRecord(rec *audit.Record) *Alert {
	return &Alert{
		RecordID:  rec.ID,
		Action:    rec.Action,
		Result:    rec.Result,
		Severity:  rec.Severity,
		RiskScore: rec.RiskScore,
		Signals:   rec.Signals,
		ActorID:   rec.Actor.ID,
		IPAddress: rec.Request.IPAddress,
		CreatedAt: rec.CreatedAt,
	}
}

// Notifier delivers alerts to an external channel.
type Notifier interface {
	// Notify delivers one alert. Implementations must not block the
	// pipeline; slow deliveries should drop or queue internally.
	Notify(alert *Alert) error

	// Name identifies the channel for metrics.
	Name() string
}

// FailureBurstConfig configures the repeated-failure rule.
type FailureBurstConfig struct {
	// Count of FAILURE results within Window that fires the signal.
	Count  int           `koanf:"count"`
	Window time.Duration `koanf:"window"`
}

// DefaultFailureBurstConfig returns the default burst thresholds.
func DefaultFailureBurstConfig() FailureBurstConfig {
	return FailureBurstConfig{Count: 5, Window: 5 * time.Minute}
}

// OffHoursConfig configures the off-hours-admin rule. Hours are local to
// the service clock, [Start, End).
type OffHoursConfig struct {
	Start int `koanf:"start"`
	End   int `koanf:"end"`
}

// DefaultOffHoursConfig returns the default business-hours range.
func DefaultOffHoursConfig() OffHoursConfig {
	return OffHoursConfig{Start: 7, End: 20}
}

// BulkExportConfig configures the bulk-export rule.
type BulkExportConfig struct {
	// Count of resource reads within Window that fires the signal.
	Count  int           `koanf:"count"`
	Window time.Duration `koanf:"window"`
}

// DefaultBulkExportConfig returns the default bulk-export thresholds.
func DefaultBulkExportConfig() BulkExportConfig {
	return BulkExportConfig{Count: 3, Window: 10 * time.Minute}
}
