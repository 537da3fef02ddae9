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

// BulkExportRule fires when one actor's resource-read volume inside the
// window crosses the configured threshold. Reads are view-category
// actions plus explicit data exports.
type BulkExportRule struct {
	mu      sync.RWMutex
	cfg     BulkExportConfig
	enabled atomic.Bool
}

// NewBulkExportRule creates the rule with the given thresholds.
func NewBulkExportRule(cfg BulkExportConfig) *BulkExportRule {
	r := &BulkExportRule{cfg: cfg}
	r.enabled.Store(true)
	return r
}

func (r *BulkExportRule) Type() RuleType { return RuleBulkExport }

func (r *BulkExportRule) Enabled() bool { return r.enabled.Load() }

func (r *BulkExportRule) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Configure swaps the thresholds at runtime.
func (r *BulkExportRule) Configure(cfg BulkExportConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Check counts the actor's reads within the window, incoming event
// included. The rule is per-actor only; IPs sharing a NAT would flood it
// with false positives.
func (r *BulkExportRule) Check(rec *audit.Record, actorHistory, _ []Observation) (bool, error) {
	if !isRead(rec.Category, rec.Action) {
		return false, nil
	}
	if len(actorHistory) == 0 {
		return false, nil
	}

	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	cutoff := actorHistory[len(actorHistory)-1].Time.Add(-cfg.Window)
	reads := 0
	for i := len(actorHistory) - 1; i >= 0; i-- {
		obs := actorHistory[i]
		if obs.Time.Before(cutoff) {
			break
		}
		if isRead(obs.Category, obs.Action) {
			reads++
		}
	}
	return reads >= cfg.Count, nil
}

// isRead reports whether an action counts toward bulk-export volume.
func isRead(category audit.Category, action string) bool {
	return category == audit.CategoryView || action == "data-export"
}
