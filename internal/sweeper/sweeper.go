// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package sweeper implements the retention sweeper: a periodic task that
// removes (or archives, then removes) records whose retention date has
// passed. Deletion is batched so a sweep never holds the store for long,
// and records with a future retention date are never touched.
package sweeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/metrics"
)

// Config holds sweeper tuning.
type Config struct {
	Interval  time.Duration
	BatchSize int

	// ArchiveEnabled writes expired records to a JSONL archive file
	// before deleting them.
	ArchiveEnabled bool
	ArchivePath    string
}

// Sweeper periodically removes expired audit records.
type Sweeper struct {
	cfg   Config
	store audit.Store

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Sweeper.
func New(cfg Config, store audit.Store) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Sweeper{cfg: cfg, store: store, now: time.Now}
}

// RunWithContext runs sweep passes on the configured interval until the
// context is canceled. Intended to run under the supervision tree.
func (s *Sweeper) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				// Sweep failures are retried on the next interval.
				logging.Warn().Err(err).Msg("Retention sweep failed")
			}
		}
	}
}

// Sweep runs one pass: repeated bounded batches until no expired records
// remain. Returns the number of records removed. A failed batch stops
// the pass without undoing completed batches.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := s.now()
	cutoff := start.UTC()

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, &audit.SweepError{Deleted: total, Err: err}
		}

		if s.cfg.ArchiveEnabled {
			if err := s.archiveBatch(ctx, cutoff); err != nil {
				metrics.RecordSweep(total, 0, time.Since(start), err)
				return total, &audit.SweepError{Deleted: total, Err: err}
			}
		}

		deleted, err := s.store.DeleteExpired(ctx, cutoff, s.cfg.BatchSize)
		if err != nil {
			metrics.RecordSweep(total, 0, time.Since(start), err)
			return total, &audit.SweepError{Deleted: total, Err: err}
		}
		total += deleted
		if deleted < int64(s.cfg.BatchSize) {
			break
		}
	}

	metrics.RecordSweep(total, 0, time.Since(start), nil)
	if total > 0 {
		logging.Info().Int64("deleted", total).Time("cutoff", cutoff).
			Msg("Retention sweep removed expired records")
	}
	return total, nil
}

// archiveBatch appends the next batch of expired records to the JSONL
// archive before they are deleted. Archive failures abort the batch so
// records are never deleted unarchived.
func (s *Sweeper) archiveBatch(ctx context.Context, cutoff time.Time) error {
	records, err := s.store.QueryExpired(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("query expired for archive: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.ArchivePath), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	f, err := os.OpenFile(s.cfg.ArchivePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("archive record %s: %w", records[i].ID, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync archive file: %w", err)
	}

	metrics.SweepArchived.Add(float64(len(records)))
	return nil
}

// String implements suture's friendly naming.
func (s *Sweeper) String() string { return "retention-sweeper" }
