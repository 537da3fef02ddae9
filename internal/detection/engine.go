// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/metrics"
)

// EngineConfig holds window bounds and rule thresholds.
type EngineConfig struct {
	// Window bounds observation age per key.
	Window time.Duration

	// MaxEvents caps retained observations per key regardless of age.
	MaxEvents int

	FailureBurst FailureBurstConfig
	OffHours     OffHoursConfig
	BulkExport   BulkExportConfig
}

// DefaultEngineConfig returns the default detector configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Window:       60 * time.Minute,
		MaxEvents:    500,
		FailureBurst: DefaultFailureBurstConfig(),
		OffHours:     DefaultOffHoursConfig(),
		BulkExport:   DefaultBulkExportConfig(),
	}
}

// Engine evaluates incoming records against per-actor and per-IP sliding
// windows and returns the set of fired signals.
type Engine struct {
	windows *WindowStore

	mu    sync.RWMutex
	rules []Rule

	enabled atomic.Bool

	// now is swappable for tests.
	now func() time.Time
}

// NewEngine creates an Engine with the built-in rule set.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		windows: NewWindowStore(cfg.Window, cfg.MaxEvents),
		now:     time.Now,
	}
	e.enabled.Store(true)
	e.rules = []Rule{
		NewFailureBurstRule(cfg.FailureBurst),
		NewGeoAnomalyRule(),
		NewOffHoursRule(cfg.OffHours),
		NewBulkExportRule(cfg.BulkExport),
	}
	return e
}

// SetEnabled toggles the whole engine. When disabled, Evaluate returns
// no signals and window state is not updated.
func (e *Engine) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// Enabled reports whether the engine is active.
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// Rule returns a rule by type.
func (e *Engine) Rule(ruleType RuleType) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.Type() == ruleType {
			return r, true
		}
	}
	return nil, false
}

// actorKey and ipKey namespace the two tracked dimensions in one store.
func actorKey(id string) string { return "actor:" + id }
func ipKey(ip string) string    { return "ip:" + ip }

// Evaluate runs every enabled rule against the record and returns the
// fired signals, sorted for determinism. The record's own observation is
// recorded first, unconditionally, and each key's history is read in the
// same critical section as its append, so concurrent events for one
// actor or IP are fully visible to whichever evaluation lands last.
//
// Rule errors are advisory for the record: the failing rule is skipped,
// the error is logged and counted, the record's window state is reset,
// and the remaining rules still run against the snapshots already taken.
func (e *Engine) Evaluate(rec *audit.Record) []string {
	if !e.enabled.Load() {
		return nil
	}

	now := rec.CreatedAt
	if now.IsZero() {
		now = e.now().UTC()
	}

	obs := Observation{
		Time:     now,
		Action:   rec.Action,
		Category: rec.Category,
		Result:   rec.Result,
	}
	if rec.Geo != nil {
		obs.Country = rec.Geo.Country
	}

	// Append and snapshot atomically per key; rules see the incoming
	// event as the newest entry. State updates are unconditional:
	// suspicious or not, the event becomes history.
	var actorHistory, ipHistory []Observation
	if rec.Actor.ID != "" {
		actorHistory = e.windows.AppendAndSnapshot(actorKey(rec.Actor.ID), obs)
	}
	if rec.Request.IPAddress != "" {
		ipHistory = e.windows.AppendAndSnapshot(ipKey(rec.Request.IPAddress), obs)
	}
	metrics.TrackedKeys.Set(float64(e.windows.Len()))

	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var signals []string
	for _, rule := range rules {
		if !rule.Enabled() {
			continue
		}
		fired, err := rule.Check(rec, actorHistory, ipHistory)
		if err != nil {
			stateErr := &audit.DetectorStateError{
				Detector: string(rule.Type()),
				Key:      actorKey(rec.Actor.ID),
				Err:      err,
			}
			logging.Warn().Err(stateErr).Str("rule", string(rule.Type())).
				Msg("Detection rule failed; resetting window state for the record's keys")
			metrics.DetectorErrors.WithLabelValues(string(rule.Type())).Inc()
			// Per-key recovery: corrupt state is discarded rather than
			// carried into future evaluations.
			if rec.Actor.ID != "" {
				e.windows.Reset(actorKey(rec.Actor.ID))
			}
			if rec.Request.IPAddress != "" {
				e.windows.Reset(ipKey(rec.Request.IPAddress))
			}
			continue
		}
		if fired {
			signals = append(signals, string(rule.Type()))
			metrics.SignalsFired.WithLabelValues(string(rule.Type())).Inc()
		}
	}
	sort.Strings(signals)

	return signals
}

// pruneInterval controls how often idle keys are dropped.
const pruneInterval = 5 * time.Minute

// RunWithContext runs the periodic window pruner until the context is
// canceled. Intended to run under the supervision tree.
func (e *Engine) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := e.windows.Prune(e.now().UTC())
			if removed > 0 {
				logging.Debug().Int("removed", removed).Msg("Pruned idle detection keys")
			}
			metrics.TrackedKeys.Set(float64(e.windows.Len()))
		}
	}
}

// String implements suture's friendly naming.
func (e *Engine) String() string { return "detection-engine" }
