// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-memory map. Intended for tests
// and ephemeral deployments; records do not survive process restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// SaveBatch stores a batch of records. The batch is applied atomically
// under the store lock. Records whose ID is already present are ignored,
// matching the idempotent insert semantics of the DuckDB store.
func (s *MemoryStore) SaveBatch(_ context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec == nil {
			return &WriteError{Batch: records, Err: errNilRecord}
		}
	}
	for _, rec := range records {
		if _, exists := s.records[rec.ID]; exists {
			continue
		}
		cp := *rec
		s.records[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	return nil
}

var errNilRecord = &ValidationError{Reason: "record is nil"}

// Get retrieves a record by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Query retrieves records matching the filter.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Record, error) {
	s.mu.RLock()
	matched := s.collect(func(rec *Record) bool { return matchesFilter(rec, filter) })
	s.mu.RUnlock()

	sortRecords(matched, filter.OrderBy, filter.OrderDesc)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of records matching the filter.
func (s *MemoryStore) Count(_ context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, id := range s.order {
		if matchesFilter(s.records[id], filter) {
			count++
		}
	}
	return count, nil
}

// Chain returns all records sharing a correlation ID, oldest first.
func (s *MemoryStore) Chain(_ context.Context, correlationID string) ([]Record, error) {
	s.mu.RLock()
	matched := s.collect(func(rec *Record) bool { return rec.CorrelationID == correlationID })
	s.mu.RUnlock()

	sortRecords(matched, "created_at", false)
	return matched, nil
}

// Stats computes aggregate statistics over a bounded time range.
func (s *MemoryStore) Stats(_ context.Context, opts StatsOptions) (*Stats, error) {
	opts.Normalize(time.Now().UTC())

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		StartTime:  opts.StartTime,
		EndTime:    opts.EndTime,
		ByAction:   make(map[string]int64),
		ByResult:   make(map[string]int64),
		BySeverity: make(map[string]int64),
	}
	actorCounts := make(map[string]int64)
	ipCounts := make(map[string]int64)
	buckets := make(map[time.Time]*TrendPoint)

	for _, id := range s.order {
		rec := s.records[id]
		if rec.CreatedAt.Before(opts.StartTime) || rec.CreatedAt.After(opts.EndTime) {
			continue
		}
		stats.Total++
		if rec.IsSuspicious {
			stats.Suspicious++
		}
		if rec.IsHighRisk {
			stats.HighRisk++
		}
		stats.ByAction[rec.Action]++
		stats.ByResult[string(rec.Result)]++
		stats.BySeverity[string(rec.Severity)]++
		if rec.Actor.ID != "" {
			actorCounts[rec.Actor.ID]++
		}
		if rec.Request.IPAddress != "" {
			ipCounts[rec.Request.IPAddress]++
		}

		bucket := rec.CreatedAt.Truncate(opts.BucketSize)
		tp, ok := buckets[bucket]
		if !ok {
			tp = &TrendPoint{Bucket: bucket}
			buckets[bucket] = tp
		}
		tp.Count++
		if rec.IsSuspicious {
			tp.Suspicious++
		}
		if rec.IsHighRisk {
			tp.HighRisk++
		}
	}

	stats.TopActors = topN(actorCounts, opts.TopN)
	stats.TopIPs = topN(ipCounts, opts.TopN)

	for _, tp := range buckets {
		stats.Trend = append(stats.Trend, *tp)
	}
	sort.Slice(stats.Trend, func(i, j int) bool {
		return stats.Trend[i].Bucket.Before(stats.Trend[j].Bucket)
	})

	return stats, nil
}

// QueryExpired returns up to limit records past their retention date.
func (s *MemoryStore) QueryExpired(_ context.Context, cutoff time.Time, limit int) ([]Record, error) {
	s.mu.RLock()
	matched := s.collect(func(rec *Record) bool { return !rec.RetentionDate.After(cutoff) })
	s.mu.RUnlock()

	sortRecords(matched, "retention_date", false)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// DeleteExpired removes up to limit records past their retention date.
func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Record
	for _, id := range s.order {
		rec := s.records[id]
		if !rec.RetentionDate.After(cutoff) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].RetentionDate.Before(expired[j].RetentionDate)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(s.records, rec.ID)
	}
	if len(expired) > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if _, ok := s.records[id]; ok {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
	return int64(len(expired)), nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// collect copies records matching the predicate. Caller holds the lock.
func (s *MemoryStore) collect(match func(*Record) bool) []Record {
	var out []Record
	for _, id := range s.order {
		rec := s.records[id]
		if match(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// matchesFilter reports whether a record satisfies the query filter.
func matchesFilter(rec *Record, filter QueryFilter) bool {
	if len(filter.Actions) > 0 && !containsString(filter.Actions, rec.Action) {
		return false
	}
	if len(filter.Results) > 0 {
		found := false
		for _, r := range filter.Results {
			if r == rec.Result {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.MinSeverity != "" && rec.Severity.Rank() < filter.MinSeverity.Rank() {
		return false
	}
	if filter.MaxSeverity != "" && rec.Severity.Rank() > filter.MaxSeverity.Rank() {
		return false
	}
	if filter.ActorID != "" && rec.Actor.ID != filter.ActorID {
		return false
	}
	if filter.IPAddress != "" && rec.Request.IPAddress != filter.IPAddress {
		return false
	}
	if filter.CorrelationID != "" && rec.CorrelationID != filter.CorrelationID {
		return false
	}
	if filter.Suspicious != nil && rec.IsSuspicious != *filter.Suspicious {
		return false
	}
	if filter.HighRisk != nil && rec.IsHighRisk != *filter.HighRisk {
		return false
	}
	if filter.StartTime != nil && rec.CreatedAt.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && rec.CreatedAt.After(*filter.EndTime) {
		return false
	}
	if filter.ResourceText != "" {
		needle := strings.ToLower(filter.ResourceText)
		if !strings.Contains(strings.ToLower(rec.Resource.Type), needle) &&
			!strings.Contains(strings.ToLower(rec.Resource.ID), needle) {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// sortRecords orders records by the given field.
func sortRecords(records []Record, orderBy string, desc bool) {
	less := func(a, b *Record) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch orderBy {
	case "risk_score":
		less = func(a, b *Record) bool { return a.RiskScore < b.RiskScore }
	case "severity":
		less = func(a, b *Record) bool { return a.Severity.Rank() < b.Severity.Rank() }
	case "retention_date":
		less = func(a, b *Record) bool { return a.RetentionDate.Before(b.RetentionDate) }
	}
	sort.SliceStable(records, func(i, j int) bool {
		if desc {
			return less(&records[j], &records[i])
		}
		return less(&records[i], &records[j])
	})
}

// topN returns the N highest-count keys, descending by count.
func topN(counts map[string]int64, n int) []KeyCount {
	out := make([]KeyCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, KeyCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
