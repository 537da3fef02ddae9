// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package risk

import (
	"testing"

	"github.com/mkessl/vigilium/internal/audit"
)

func TestScorer_Score(t *testing.T) {
	tests := []struct {
		name           string
		category       audit.Category
		result         audit.Result
		signals        []string
		wantScore      int
		wantSeverity   audit.Severity
		wantSuspicious bool
		wantHighRisk   bool
	}{
		{
			name:         "view success",
			category:     audit.CategoryView,
			result:       audit.ResultSuccess,
			wantScore:    1,
			wantSeverity: audit.SeverityLow,
		},
		{
			name:         "view failure",
			category:     audit.CategoryView,
			result:       audit.ResultFailure,
			wantScore:    3,
			wantSeverity: audit.SeverityMedium,
		},
		{
			name:         "mutation success",
			category:     audit.CategoryMutation,
			result:       audit.ResultSuccess,
			wantScore:    4,
			wantSeverity: audit.SeverityMedium,
		},
		{
			name:         "financial failure crosses threshold",
			category:     audit.CategoryFinancial,
			result:       audit.ResultFailure,
			wantScore:    9,
			wantSeverity: audit.SeverityHigh,
			wantHighRisk: true,
		},
		{
			name:         "destructive partial",
			category:     audit.CategoryDestructive,
			result:       audit.ResultPartial,
			wantScore:    7,
			wantSeverity: audit.SeverityHigh,
		},
		{
			name:         "security success at threshold boundary",
			category:     audit.CategorySecurity,
			result:       audit.ResultSuccess,
			wantScore:    8,
			wantSeverity: audit.SeverityMedium,
			wantHighRisk: true,
		},
		{
			name:         "admin failure",
			category:     audit.CategoryAdmin,
			result:       audit.ResultFailure,
			wantScore:    10, // 9 + 2 capped
			wantSeverity: audit.SeverityCritical,
			wantHighRisk: true,
		},
		{
			name:           "signals raise the score",
			category:       audit.CategoryMutation,
			result:         audit.ResultSuccess,
			signals:        []string{"repeated-failure-burst", "geo-anomaly"},
			wantScore:      6, // 4 + 2 signals
			wantSeverity:   audit.SeverityMedium,
			wantSuspicious: true,
		},
		{
			name:           "score capped at ten",
			category:       audit.CategoryAdmin,
			result:         audit.ResultFailure,
			signals:        []string{"repeated-failure-burst", "geo-anomaly", "off-hours-admin"},
			wantScore:      10,
			wantSeverity:   audit.SeverityCritical,
			wantSuspicious: true,
			wantHighRisk:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(8)
			rec := &audit.Record{Category: tt.category, Result: tt.result}

			s.Score(rec, tt.signals)

			if rec.RiskScore != tt.wantScore {
				t.Errorf("RiskScore = %d, want %d", rec.RiskScore, tt.wantScore)
			}
			if rec.Severity != tt.wantSeverity {
				t.Errorf("Severity = %q, want %q", rec.Severity, tt.wantSeverity)
			}
			if rec.IsSuspicious != tt.wantSuspicious {
				t.Errorf("IsSuspicious = %v, want %v", rec.IsSuspicious, tt.wantSuspicious)
			}
			if rec.IsHighRisk != tt.wantHighRisk {
				t.Errorf("IsHighRisk = %v, want %v", rec.IsHighRisk, tt.wantHighRisk)
			}
		})
	}
}

func TestScorer_UnknownCategoryFailsClosed(t *testing.T) {
	s := NewScorer(8)
	rec := &audit.Record{
		Action:   "mystery-op",
		Category: audit.CategoryUnknown,
		Result:   audit.ResultSuccess,
	}

	s.Score(rec, []string{"geo-anomaly"})

	if rec.RiskScore != 8 {
		t.Errorf("RiskScore = %d, want fail-closed 8", rec.RiskScore)
	}
	if rec.Severity != audit.SeverityCritical {
		t.Errorf("Severity = %q, want CRITICAL", rec.Severity)
	}
	if !rec.IsSuspicious {
		t.Error("unknown actions must be flagged suspicious")
	}
	if !rec.IsHighRisk {
		t.Error("fail-closed score meets the default threshold")
	}
	if len(rec.Signals) != 2 || rec.Signals[0] != "unknown-action" || rec.Signals[1] != "geo-anomaly" {
		t.Errorf("Signals = %v, want [unknown-action geo-anomaly]", rec.Signals)
	}
}

func TestScorer_SeverityIndependentOfScore(t *testing.T) {
	// payment-process SUCCESS scores 7 but severity stays MEDIUM: the
	// severity table is keyed on category and result only.
	s := NewScorer(8)
	rec := &audit.Record{Category: audit.CategoryFinancial, Result: audit.ResultSuccess}

	s.Score(rec, nil)

	if rec.RiskScore != 7 {
		t.Errorf("RiskScore = %d, want 7", rec.RiskScore)
	}
	if rec.Severity != audit.SeverityMedium {
		t.Errorf("Severity = %q, want MEDIUM despite the high score", rec.Severity)
	}
}

func TestScorer_ThresholdReload(t *testing.T) {
	s := NewScorer(8)
	rec := &audit.Record{Category: audit.CategoryFinancial, Result: audit.ResultSuccess}
	s.Score(rec, nil)
	if rec.IsHighRisk {
		t.Fatal("score 7 under threshold 8 must not be high risk")
	}

	s.SetThreshold(7)
	if s.Threshold() != 7 {
		t.Fatalf("Threshold() = %d after SetThreshold(7)", s.Threshold())
	}

	// Only records scored after the change observe the new threshold.
	rec2 := &audit.Record{Category: audit.CategoryFinancial, Result: audit.ResultSuccess}
	s.Score(rec2, nil)
	if !rec2.IsHighRisk {
		t.Error("score 7 at threshold 7 must be high risk")
	}
	if rec.IsHighRisk {
		t.Error("previously scored record must not be rescored")
	}
}

func TestSeverityFor_UnmappedCombination(t *testing.T) {
	if got := severityFor(audit.CategoryView, audit.Result("UNMAPPED")); got != audit.SeverityCritical {
		t.Errorf("severityFor(view, UNMAPPED) = %q, want CRITICAL", got)
	}
	if got := severityFor(audit.Category("nope"), audit.ResultSuccess); got != audit.SeverityCritical {
		t.Errorf("severityFor(nope, SUCCESS) = %q, want CRITICAL", got)
	}
}
