// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/metrics"
)

// FallbackLog is the durable local log for records that could not be
// flushed to primary storage. Records land here instead of being
// dropped; a background loop replays them once storage recovers.
type FallbackLog struct {
	db *badger.DB
}

const pendingPrefix = "pending:"

// OpenFallback opens (or creates) the fallback log at path. An empty
// path selects an in-memory log, which is only appropriate for tests.
func OpenFallback(path string) (*FallbackLog, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
		opts.SyncWrites = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fallback log: %w", err)
	}

	fl := &FallbackLog{db: db}
	if path != "" {
		logging.Info().Str("path", path).Msg("Fallback log opened")
	}
	return fl, nil
}

// Write appends records to the log in one transaction. Keys embed the
// creation timestamp so replay preserves rough arrival order.
func (f *FallbackLog) Write(records []*audit.Record) error {
	if len(records) == 0 {
		return nil
	}
	err := f.db.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record %s: %w", rec.ID, err)
			}
			key := fmt.Sprintf("%s%020d:%s", pendingPrefix, rec.CreatedAt.UnixNano(), rec.ID)
			if err := txn.Set([]byte(key), data); err != nil {
				return fmt.Errorf("set record %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fallback write of %d records: %w", len(records), err)
	}
	metrics.FallbackWrites.Add(float64(len(records)))
	return nil
}

// Count returns the number of pending records.
func (f *FallbackLog) Count() (int, error) {
	count := 0
	err := f.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: false,
			Prefix:         []byte(pendingPrefix),
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Replay reads up to batchSize pending records in key order, hands them
// to save, and removes them on success. Returns the number replayed.
// On save failure the records stay pending for the next attempt.
func (f *FallbackLog) Replay(ctx context.Context, batchSize int, save func(context.Context, []*audit.Record) error) (int, error) {
	var keys [][]byte
	var records []*audit.Record

	err := f.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   batchSize,
			Prefix:         []byte(pendingPrefix),
		})
		defer it.Close()

		for it.Rewind(); it.Valid() && len(records) < batchSize; it.Next() {
			item := it.Item()
			var rec audit.Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).
					Msg("Skipping undecodable fallback entry")
				continue
			}
			keys = append(keys, item.KeyCopy(nil))
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fallback replay scan: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	if err := save(ctx, records); err != nil {
		metrics.FallbackReplays.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("fallback replay save of %d records: %w", len(records), err)
	}

	err = f.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Records were persisted but the log entries remain; the next
		// replay will re-save them and storage dedup on ID rejects the
		// duplicates. Better duplicated than lost.
		return len(records), fmt.Errorf("fallback replay cleanup: %w", err)
	}

	metrics.FallbackReplays.WithLabelValues("ok").Add(float64(len(records)))
	return len(records), nil
}

// Close closes the underlying database.
func (f *FallbackLog) Close() error {
	return f.db.Close()
}

// ReplayLoop replays fallback records into primary storage on an
// interval. Runs under the supervision tree.
type ReplayLoop struct {
	fallback  *FallbackLog
	save      func(context.Context, []*audit.Record) error
	interval  time.Duration
	batchSize int
}

// NewReplayLoop creates a replay loop.
func NewReplayLoop(fallback *FallbackLog, interval time.Duration, batchSize int,
	save func(context.Context, []*audit.Record) error) *ReplayLoop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReplayLoop{
		fallback:  fallback,
		save:      save,
		interval:  interval,
		batchSize: batchSize,
	}
}

// RunWithContext runs until the context is canceled.
func (l *ReplayLoop) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := l.fallback.Replay(ctx, l.batchSize, l.save)
				if err != nil {
					logging.Warn().Err(err).Msg("Fallback replay failed; will retry")
					break
				}
				if n == 0 {
					break
				}
				logging.Info().Int("replayed", n).Msg("Replayed fallback records into storage")
			}
		}
	}
}

// String implements suture's friendly naming.
func (l *ReplayLoop) String() string { return "fallback-replay" }
