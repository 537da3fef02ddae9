// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"sync"
	"sync/atomic"

	"github.com/mkessl/vigilium/internal/audit"
)

// FailureBurstRule fires when an actor or IP accumulates too many
// FAILURE results inside a short window. Classic credential-stuffing and
// brute-force shape.
type FailureBurstRule struct {
	mu      sync.RWMutex
	cfg     FailureBurstConfig
	enabled atomic.Bool
}

// NewFailureBurstRule creates the rule with the given thresholds.
func NewFailureBurstRule(cfg FailureBurstConfig) *FailureBurstRule {
	r := &FailureBurstRule{cfg: cfg}
	r.enabled.Store(true)
	return r
}

func (r *FailureBurstRule) Type() RuleType { return RuleRepeatedFailureBurst }

func (r *FailureBurstRule) Enabled() bool { return r.enabled.Load() }

func (r *FailureBurstRule) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Configure swaps the thresholds at runtime.
func (r *FailureBurstRule) Configure(cfg FailureBurstConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Check counts FAILURE observations within the burst window for both the
// actor and the IP dimension; either reaching the threshold fires.
func (r *FailureBurstRule) Check(rec *audit.Record, actorHistory, ipHistory []Observation) (bool, error) {
	if rec.Result != audit.ResultFailure {
		return false, nil
	}

	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	return countFailures(actorHistory, cfg) >= cfg.Count ||
		countFailures(ipHistory, cfg) >= cfg.Count, nil
}

// countFailures counts FAILURE entries no older than the burst window
// relative to the newest entry.
func countFailures(history []Observation, cfg FailureBurstConfig) int {
	if len(history) == 0 {
		return 0
	}
	cutoff := history[len(history)-1].Time.Add(-cfg.Window)
	count := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Time.Before(cutoff) {
			break
		}
		if history[i].Result == audit.ResultFailure {
			count++
		}
	}
	return count
}
