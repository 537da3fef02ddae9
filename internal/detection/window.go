// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"hash/fnv"
	"sync"
	"time"
)

// window holds the bounded observation history for one key. Entries are
// ordered oldest first. Not safe for concurrent use; the owning shard
// serializes access per key.
type window struct {
	entries  []Observation
	maxAge   time.Duration
	maxCount int
}

// append adds an observation and evicts entries older than the window or
// beyond the cap. Eviction runs on every append so memory stays bounded
// even for keys that are only ever written.
func (w *window) append(obs Observation) {
	w.entries = append(w.entries, obs)
	w.evict(obs.Time)
}

// evict drops entries older than maxAge relative to now, then trims to
// maxCount keeping the newest.
func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	firstValid := 0
	for firstValid < len(w.entries) && w.entries[firstValid].Time.Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		w.entries = append(w.entries[:0], w.entries[firstValid:]...)
	}
	if len(w.entries) > w.maxCount {
		excess := len(w.entries) - w.maxCount
		w.entries = append(w.entries[:0], w.entries[excess:]...)
	}
}

// snapshot returns a copy of the live entries at the given time.
func (w *window) snapshot(now time.Time) []Observation {
	w.evict(now)
	out := make([]Observation, len(w.entries))
	copy(out, w.entries)
	return out
}

// windowShardCount must be a power of two.
const windowShardCount = 32

// windowShard guards a subset of keys. Different keys in different
// shards update fully in parallel; keys in the same shard serialize.
type windowShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// WindowStore tracks per-key sliding windows with sharded locking.
type WindowStore struct {
	shards   [windowShardCount]*windowShard
	maxAge   time.Duration
	maxCount int
}

// NewWindowStore creates a store with the given age and count bounds.
func NewWindowStore(maxAge time.Duration, maxCount int) *WindowStore {
	s := &WindowStore{maxAge: maxAge, maxCount: maxCount}
	for i := range s.shards {
		s.shards[i] = &windowShard{windows: make(map[string]*window)}
	}
	return s
}

func (s *WindowStore) shardFor(key string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()&(windowShardCount-1)]
}

// Append records an observation under the key.
func (s *WindowStore) Append(key string, obs Observation) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok {
		w = &window{maxAge: s.maxAge, maxCount: s.maxCount}
		shard.windows[key] = w
	}
	w.append(obs)
}

// AppendAndSnapshot atomically records the observation and returns a
// copy of the key's live entries, oldest first, with obs as the newest
// element. Append and copy share one critical section, so concurrent
// evaluations of the same key always see each other's observations.
func (s *WindowStore) AppendAndSnapshot(key string, obs Observation) []Observation {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok {
		w = &window{maxAge: s.maxAge, maxCount: s.maxCount}
		shard.windows[key] = w
	}
	w.append(obs)
	return w.snapshot(obs.Time)
}

// Reset drops all state for the key.
func (s *WindowStore) Reset(key string) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	delete(shard.windows, key)
	shard.mu.Unlock()
}

// Snapshot returns a copy of the key's live entries, oldest first.
// Returns nil for unknown keys.
func (s *WindowStore) Snapshot(key string, now time.Time) []Observation {
	shard := s.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.windows[key]
	if !ok {
		return nil
	}
	return w.snapshot(now)
}

// Len returns the number of tracked keys across all shards.
func (s *WindowStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.windows)
		shard.mu.Unlock()
	}
	return total
}

// Prune removes keys whose newest entry is older than the window. Run
// periodically so idle keys do not accumulate forever.
func (s *WindowStore) Prune(now time.Time) int {
	cutoff := now.Add(-s.maxAge)
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, w := range shard.windows {
			if len(w.entries) == 0 || w.entries[len(w.entries)-1].Time.Before(cutoff) {
				delete(shard.windows, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
