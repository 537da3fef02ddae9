// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package risk computes risk scores and severities for audit records.
//
// Scoring is deterministic given identical inputs and detector state.
// Severity is set from an independent policy table keyed on action
// category and result; it correlates with the risk score but is never
// derived from it, so the two can be tuned separately.
package risk

import (
	"sync"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/metrics"
)

const (
	// maxScore caps the risk score.
	maxScore = 10

	// failClosedScore is assigned when the action category is unknown.
	// Unknown actions are never silently scored low.
	failClosedScore = 8

	// failureAdjustment is added when the action failed.
	failureAdjustment = 2

	// signalWeight is added per concurrent suspicious signal.
	signalWeight = 1
)

// baseScore returns the base risk score for an action category. Each
// category carries its own policy arm; the default arm enforces
// fail-closed scoring for categories missing from the table.
func baseScore(category audit.Category) (score int, known bool) {
	switch category {
	case audit.CategoryView:
		return 1, true
	case audit.CategoryMutation:
		return 4, true
	case audit.CategoryFinancial:
		return 7, true
	case audit.CategoryDestructive:
		return 7, true
	case audit.CategorySecurity:
		return 8, true
	case audit.CategoryAdmin:
		return 9, true
	default:
		return failClosedScore, false
	}
}

// severityPolicy maps (category, result) to severity. Missing entries
// resolve to CRITICAL so that unmapped combinations surface loudly
// instead of defaulting low.
var severityPolicy = map[audit.Category]map[audit.Result]audit.Severity{
	audit.CategoryView: {
		audit.ResultSuccess: audit.SeverityLow,
		audit.ResultPartial: audit.SeverityLow,
		audit.ResultFailure: audit.SeverityMedium,
	},
	audit.CategoryMutation: {
		audit.ResultSuccess: audit.SeverityMedium,
		audit.ResultPartial: audit.SeverityMedium,
		audit.ResultFailure: audit.SeverityHigh,
	},
	audit.CategoryFinancial: {
		audit.ResultSuccess: audit.SeverityMedium,
		audit.ResultPartial: audit.SeverityHigh,
		audit.ResultFailure: audit.SeverityHigh,
	},
	audit.CategoryDestructive: {
		audit.ResultSuccess: audit.SeverityMedium,
		audit.ResultPartial: audit.SeverityHigh,
		audit.ResultFailure: audit.SeverityHigh,
	},
	audit.CategorySecurity: {
		audit.ResultSuccess: audit.SeverityMedium,
		audit.ResultPartial: audit.SeverityMedium,
		audit.ResultFailure: audit.SeverityHigh,
	},
	audit.CategoryAdmin: {
		audit.ResultSuccess: audit.SeverityHigh,
		audit.ResultPartial: audit.SeverityHigh,
		audit.ResultFailure: audit.SeverityCritical,
	},
}

// Scorer assigns risk scores, severities, and risk flags to draft audit
// records. The high-risk threshold is hot-reloadable.
type Scorer struct {
	mu        sync.RWMutex
	threshold int
}

// NewScorer creates a Scorer with the given high-risk threshold.
func NewScorer(highRiskThreshold int) *Scorer {
	return &Scorer{threshold: highRiskThreshold}
}

// SetThreshold updates the high-risk threshold. Applies to records scored
// after the call; persisted records are never rescored.
func (s *Scorer) SetThreshold(threshold int) {
	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()
}

// Threshold returns the current high-risk threshold.
func (s *Scorer) Threshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// Score fills in RiskScore, Severity, Signals, IsSuspicious, and
// IsHighRisk on the draft record, given the detector's current signals
// for the record's actor and IP. The record is scored exactly once,
// before persistence.
func (s *Scorer) Score(rec *audit.Record, signals []string) {
	score, known := baseScore(rec.Category)

	if !known {
		// Fail closed: maximum-caution score, flagged suspicious.
		rec.RiskScore = failClosedScore
		rec.Severity = audit.SeverityCritical
		rec.Signals = append([]string{"unknown-action"}, signals...)
		rec.IsSuspicious = true
		rec.IsHighRisk = rec.RiskScore >= s.Threshold()
		metrics.ScoringFailures.Inc()
		return
	}

	if rec.Result == audit.ResultFailure {
		score += failureAdjustment
	}
	score += signalWeight * len(signals)
	if score > maxScore {
		score = maxScore
	}

	rec.RiskScore = score
	rec.Severity = severityFor(rec.Category, rec.Result)
	rec.Signals = signals
	rec.IsSuspicious = len(signals) > 0
	rec.IsHighRisk = score >= s.Threshold()
}

// severityFor resolves the severity policy table.
func severityFor(category audit.Category, result audit.Result) audit.Severity {
	if byResult, ok := severityPolicy[category]; ok {
		if sev, ok := byResult[result]; ok {
			return sev
		}
	}
	return audit.SeverityCritical
}
