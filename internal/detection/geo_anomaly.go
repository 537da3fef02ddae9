// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"sync/atomic"

	"github.com/mkessl/vigilium/internal/audit"
)

// GeoAnomalyRule fires when a record's country differs from the actor's
// most common country in the current window. Records without geo data
// never fire; absence of data is not evidence of anomaly.
type GeoAnomalyRule struct {
	enabled atomic.Bool
}

// NewGeoAnomalyRule creates the rule.
func NewGeoAnomalyRule() *GeoAnomalyRule {
	r := &GeoAnomalyRule{}
	r.enabled.Store(true)
	return r
}

func (r *GeoAnomalyRule) Type() RuleType { return RuleGeoAnomaly }

func (r *GeoAnomalyRule) Enabled() bool { return r.enabled.Load() }

func (r *GeoAnomalyRule) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Check compares the record's country with the modal country of the
// actor's window, excluding the incoming event itself so a first visit
// from a new country is judged against prior history only.
func (r *GeoAnomalyRule) Check(rec *audit.Record, actorHistory, _ []Observation) (bool, error) {
	if rec.Geo == nil || rec.Geo.Country == "" {
		return false, nil
	}
	if len(actorHistory) < 2 {
		// No prior history to compare against.
		return false, nil
	}

	counts := make(map[string]int)
	for _, obs := range actorHistory[:len(actorHistory)-1] {
		if obs.Country != "" {
			counts[obs.Country]++
		}
	}
	if len(counts) == 0 {
		return false, nil
	}

	modal, best := "", 0
	for country, n := range counts {
		if n > best || (n == best && country < modal) {
			modal, best = country, n
		}
	}
	return rec.Geo.Country != modal, nil
}
