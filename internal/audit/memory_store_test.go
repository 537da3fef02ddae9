// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var storeTestBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// seedRecord builds a minimal record offset from the test base time.
func seedRecord(id string, offset time.Duration) *Record {
	created := storeTestBase.Add(offset)
	return &Record{
		ID:            id,
		Action:        "record-view",
		Category:      CategoryView,
		Result:        ResultSuccess,
		Severity:      SeverityLow,
		Actor:         Actor{ID: "actor-1"},
		Request:       RequestContext{IPAddress: "203.0.113.1"},
		RiskScore:     1,
		CreatedAt:     created,
		RetentionDate: created.Add(365 * 24 * time.Hour),
		CorrelationID: id,
	}
}

func mustSave(t *testing.T, s *MemoryStore, records ...*Record) {
	t.Helper()
	if err := s.SaveBatch(context.Background(), records); err != nil {
		t.Fatalf("SaveBatch() error = %v", err)
	}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	rec := seedRecord("a", 0)
	mustSave(t, s, rec)

	got, err := s.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != "a" || got.Action != "record-view" {
		t.Errorf("Get() = %+v", got)
	}

	// Returned record is a copy; mutating it must not affect the store.
	got.Action = "mutated"
	again, _ := s.Get(context.Background(), "a")
	if again.Action != "record-view" {
		t.Error("store record was mutated through a returned copy")
	}

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SaveBatchIdempotent(t *testing.T) {
	s := NewMemoryStore()
	rec := seedRecord("a", 0)
	mustSave(t, s, rec)

	// Replaying the same record must not duplicate or error. This is
	// what makes fallback replay safe after a partial cleanup.
	mustSave(t, s, rec, seedRecord("b", time.Minute))

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestMemoryStore_Query(t *testing.T) {
	s := NewMemoryStore()

	high := seedRecord("high", time.Minute)
	high.Action = "payment-process"
	high.Category = CategoryFinancial
	high.Result = ResultFailure
	high.Severity = SeverityHigh
	high.RiskScore = 9
	high.IsHighRisk = true
	high.Actor.ID = "actor-2"

	suspicious := seedRecord("susp", 2*time.Minute)
	suspicious.Severity = SeverityMedium
	suspicious.IsSuspicious = true
	suspicious.Request.IPAddress = "198.51.100.7"

	mustSave(t, s, seedRecord("plain", 0), high, suspicious)

	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name    string
		filter  QueryFilter
		wantIDs []string
	}{
		{
			name:    "no filter returns newest first",
			filter:  DefaultQueryFilter(),
			wantIDs: []string{"susp", "high", "plain"},
		},
		{
			name: "by action",
			filter: QueryFilter{
				Actions: []string{"payment-process"},
				Limit:   10, OrderBy: "created_at", OrderDesc: true,
			},
			wantIDs: []string{"high"},
		},
		{
			name: "by result",
			filter: QueryFilter{
				Results: []Result{ResultFailure},
				Limit:   10, OrderBy: "created_at", OrderDesc: true,
			},
			wantIDs: []string{"high"},
		},
		{
			name: "severity range",
			filter: QueryFilter{
				MinSeverity: SeverityMedium, MaxSeverity: SeverityHigh,
				Limit: 10, OrderBy: "created_at",
			},
			wantIDs: []string{"high", "susp"},
		},
		{
			name: "suspicious only",
			filter: QueryFilter{
				Suspicious: boolPtr(true),
				Limit:      10, OrderBy: "created_at",
			},
			wantIDs: []string{"susp"},
		},
		{
			name: "high risk only",
			filter: QueryFilter{
				HighRisk: boolPtr(true),
				Limit:    10, OrderBy: "created_at",
			},
			wantIDs: []string{"high"},
		},
		{
			name: "by actor",
			filter: QueryFilter{
				ActorID: "actor-2",
				Limit:   10, OrderBy: "created_at",
			},
			wantIDs: []string{"high"},
		},
		{
			name: "by ip",
			filter: QueryFilter{
				IPAddress: "198.51.100.7",
				Limit:     10, OrderBy: "created_at",
			},
			wantIDs: []string{"susp"},
		},
		{
			name: "time range",
			filter: func() QueryFilter {
				start := storeTestBase.Add(30 * time.Second)
				end := storeTestBase.Add(90 * time.Second)
				return QueryFilter{
					StartTime: &start, EndTime: &end,
					Limit: 10, OrderBy: "created_at",
				}
			}(),
			wantIDs: []string{"high"},
		},
		{
			name: "order by risk score",
			filter: QueryFilter{
				Limit: 10, OrderBy: "risk_score", OrderDesc: true,
			},
			wantIDs: []string{"high", "plain", "susp"},
		},
		{
			name: "offset and limit",
			filter: QueryFilter{
				Limit: 1, Offset: 1, OrderBy: "created_at", OrderDesc: true,
			},
			wantIDs: []string{"high"},
		},
		{
			name: "offset past end",
			filter: QueryFilter{
				Limit: 10, Offset: 10, OrderBy: "created_at",
			},
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Query() returned %d records, want %d", len(got), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("record[%d].ID = %q, want %q", i, got[i].ID, want)
				}
			}
		})
	}
}

func TestMemoryStore_Count(t *testing.T) {
	s := NewMemoryStore()
	mustSave(t, s, seedRecord("a", 0), seedRecord("b", time.Minute))

	n, err := s.Count(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestMemoryStore_Chain(t *testing.T) {
	s := NewMemoryStore()

	first := seedRecord("first", 0)
	first.CorrelationID = "flow-1"
	second := seedRecord("second", time.Minute)
	second.CorrelationID = "flow-1"
	second.ParentAuditID = "first"
	other := seedRecord("other", 2*time.Minute)

	mustSave(t, s, second, first, other)

	chain, err := s.Chain(context.Background(), "flow-1")
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("Chain() returned %d records, want 2", len(chain))
	}
	// Oldest first.
	if chain[0].ID != "first" || chain[1].ID != "second" {
		t.Errorf("chain order = [%s, %s], want [first, second]", chain[0].ID, chain[1].ID)
	}
}

func TestMemoryStore_Stats(t *testing.T) {
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		rec := seedRecord(fmt.Sprintf("v%d", i), time.Duration(i)*time.Minute)
		rec.Actor.ID = "reader"
		mustSave(t, s, rec)
	}
	bad := seedRecord("bad", 10*time.Minute)
	bad.Action = "payment-process"
	bad.Result = ResultFailure
	bad.Severity = SeverityHigh
	bad.IsSuspicious = true
	bad.IsHighRisk = true
	bad.Actor.ID = "attacker"
	mustSave(t, s, bad)

	stats, err := s.Stats(context.Background(), StatsOptions{
		StartTime: storeTestBase.Add(-time.Hour),
		EndTime:   storeTestBase.Add(time.Hour),
		TopN:      1,
	})
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	if stats.Total != 6 {
		t.Errorf("Total = %d, want 6", stats.Total)
	}
	if stats.Suspicious != 1 || stats.HighRisk != 1 {
		t.Errorf("Suspicious = %d, HighRisk = %d, want 1, 1", stats.Suspicious, stats.HighRisk)
	}
	if stats.ByAction["record-view"] != 5 || stats.ByAction["payment-process"] != 1 {
		t.Errorf("ByAction = %v", stats.ByAction)
	}
	if stats.ByResult[string(ResultFailure)] != 1 {
		t.Errorf("ByResult = %v", stats.ByResult)
	}
	if len(stats.TopActors) != 1 || stats.TopActors[0].Key != "reader" || stats.TopActors[0].Count != 5 {
		t.Errorf("TopActors = %v", stats.TopActors)
	}
	if len(stats.Trend) == 0 {
		t.Error("expected trend buckets")
	}
}

func TestMemoryStore_DeleteExpired(t *testing.T) {
	s := NewMemoryStore()
	now := storeTestBase.Add(400 * 24 * time.Hour)

	expired := seedRecord("old", 0) // retention base+365d, before now
	fresh := seedRecord("fresh", 0)
	fresh.RetentionDate = now.Add(24 * time.Hour)
	mustSave(t, s, expired, fresh)

	deleted, err := s.DeleteExpired(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := s.Get(context.Background(), "old"); !errors.Is(err, ErrNotFound) {
		t.Error("expired record should be gone")
	}
	// A record inside its retention window is never deleted.
	if _, err := s.Get(context.Background(), "fresh"); err != nil {
		t.Errorf("fresh record missing: %v", err)
	}
}

func TestMemoryStore_DeleteExpiredBatchLimit(t *testing.T) {
	s := NewMemoryStore()
	now := storeTestBase.Add(400 * 24 * time.Hour)

	for i := 0; i < 5; i++ {
		mustSave(t, s, seedRecord(fmt.Sprintf("r%d", i), time.Duration(i)*time.Minute))
	}

	deleted, err := s.DeleteExpired(context.Background(), now, 2)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want batch limit 2", deleted)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	// Oldest retention dates go first.
	if _, err := s.Get(context.Background(), "r0"); !errors.Is(err, ErrNotFound) {
		t.Error("r0 should be deleted first")
	}
}

func TestMemoryStore_QueryExpired(t *testing.T) {
	s := NewMemoryStore()
	now := storeTestBase.Add(400 * 24 * time.Hour)

	mustSave(t, s, seedRecord("a", 0), seedRecord("b", time.Minute))
	fresh := seedRecord("fresh", 0)
	fresh.RetentionDate = now.Add(time.Hour)
	mustSave(t, s, fresh)

	got, err := s.QueryExpired(context.Background(), now, 10)
	if err != nil {
		t.Fatalf("QueryExpired() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryExpired() returned %d records, want 2", len(got))
	}
	if got[0].ID != "a" {
		t.Errorf("first expired = %q, want oldest retention first", got[0].ID)
	}
}
