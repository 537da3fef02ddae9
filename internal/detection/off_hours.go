// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mkessl/vigilium/internal/audit"
)

// OffHoursRule fires for administrative actions performed outside the
// configured business-hours range. Hours are evaluated against the
// record's creation time in UTC.
type OffHoursRule struct {
	mu      sync.RWMutex
	cfg     OffHoursConfig
	enabled atomic.Bool
}

// NewOffHoursRule creates the rule with the given hours range.
func NewOffHoursRule(cfg OffHoursConfig) *OffHoursRule {
	r := &OffHoursRule{cfg: cfg}
	r.enabled.Store(true)
	return r
}

func (r *OffHoursRule) Type() RuleType { return RuleOffHoursAdmin }

func (r *OffHoursRule) Enabled() bool { return r.enabled.Load() }

func (r *OffHoursRule) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Configure swaps the hours range at runtime.
func (r *OffHoursRule) Configure(cfg OffHoursConfig) error {
	if cfg.Start < 0 || cfg.Start > 23 || cfg.End < 1 || cfg.End > 24 || cfg.Start >= cfg.End {
		return fmt.Errorf("invalid business hours [%d,%d)", cfg.Start, cfg.End)
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
	return nil
}

// Check fires when an admin-category action lands outside [Start, End).
func (r *OffHoursRule) Check(rec *audit.Record, _, _ []Observation) (bool, error) {
	if rec.Category != audit.CategoryAdmin {
		return false, nil
	}

	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	hour := rec.CreatedAt.UTC().Hour()
	return hour < cfg.Start || hour >= cfg.End, nil
}
