// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package writer implements the batched audit writer: an ordered intake
// buffer flushed to persistent storage on size or time thresholds, with
// bounded retries, a circuit breaker, and a durable fallback log.
//
// Records are never silently dropped. A batch that still fails after
// retries is written to the fallback log and the failure is reported on
// the monitoring channel.
package writer

import (
	"context"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/metrics"
)

// Flusher persists batches of audit records. audit.Store satisfies it.
type Flusher interface {
	SaveBatch(ctx context.Context, records []*audit.Record) error
}

// Config holds writer tuning.
type Config struct {
	// BatchSize triggers a flush when the buffer reaches this size.
	BatchSize int

	// FlushInterval triggers a flush when this much time passes since
	// the previous flush. Whichever of size or interval fires first
	// wins; the loser's trigger is reset so one batch flushes once.
	FlushInterval time.Duration

	// MaxRetries bounds retry attempts per batch.
	MaxRetries int

	// RetryBackoff is the base backoff, doubled per attempt.
	RetryBackoff time.Duration

	// ShutdownTimeout bounds the final flush on Close.
	ShutdownTimeout time.Duration

	// BufferCapacity bounds the intake buffer. When storage stalls and
	// failed batches are re-queued past this bound, Append blocks until
	// a flush frees space instead of growing the buffer. Zero means
	// unbounded.
	BufferCapacity int
}

// DefaultConfig returns the default writer tuning.
func DefaultConfig() Config {
	return Config{
		BatchSize:       100,
		FlushInterval:   5 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    200 * time.Millisecond,
		ShutdownTimeout: 10 * time.Second,
		BufferCapacity:  10000,
	}
}

// maxBackoff caps exponential retry backoff.
const maxBackoff = 30 * time.Second

// Writer buffers scored records and flushes them in batches. Appends
// block only for the time needed to swap the buffer reference; flushing
// and persistence run asynchronously relative to the caller.
type Writer struct {
	cfg      Config
	store    Flusher
	fallback *FallbackLog
	breaker  *gobreaker.CircuitBreaker[struct{}]

	mu         sync.Mutex
	buf        []*audit.Record
	flushWG    sync.WaitGroup
	closed     bool
	sizeFired  chan struct{}
	spaceFreed chan struct{}

	errCh chan error
}

// New creates a Writer. The fallback log is required; a writer that can
// drop records is not acceptable.
func New(cfg Config, store Flusher, fallback *FallbackLog) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	w := &Writer{
		cfg:        cfg,
		store:      store,
		fallback:   fallback,
		buf:        make([]*audit.Record, 0, cfg.BatchSize),
		sizeFired:  make(chan struct{}, 1),
		spaceFreed: make(chan struct{}, 1),
		errCh:      make(chan error, 64),
	}
	w.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "audit-flush",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("from", from.String()).Str("to", to.String()).
				Msg("Flush circuit breaker state change")
		},
	})
	return w
}

// Errors exposes the monitoring channel. Flush failures that diverted a
// batch to the fallback log are reported here; the channel is buffered
// and never blocks the writer.
func (w *Writer) Errors() <-chan error {
	return w.errCh
}

// Depth returns the number of records waiting in the current buffer.
func (w *Writer) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Append queues one scored record. Ordering within a batch is insertion
// order. When the buffer reaches BatchSize the batch is handed to an
// asynchronous flush and the interval timer is reset, so the size and
// time triggers together produce exactly one flush per batch. A buffer
// at BufferCapacity blocks the caller until a flush frees space or the
// context ends.
func (w *Writer) Append(ctx context.Context, rec *audit.Record) error {
	if rec == nil {
		return &audit.ValidationError{Reason: "record is nil"}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			// Writer is shutting down; divert straight to the fallback log
			// rather than lose the record.
			return w.fallback.Write([]*audit.Record{rec})
		}
		if w.cfg.BufferCapacity > 0 && len(w.buf) >= w.cfg.BufferCapacity {
			w.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.spaceFreed:
			case <-time.After(100 * time.Millisecond):
				// Wakeup signals coalesce; re-check the buffer anyway.
			}
			continue
		}
		w.buf = append(w.buf, rec)
		var batch []*audit.Record
		if len(w.buf) >= w.cfg.BatchSize {
			batch = w.swapLocked()
		}
		depth := len(w.buf)
		w.mu.Unlock()

		metrics.WriterBufferDepth.Set(float64(depth))

		if batch != nil {
			// Tell the interval loop its timer should restart.
			select {
			case w.sizeFired <- struct{}{}:
			default:
			}
			w.flushWG.Add(1)
			go func() {
				defer w.flushWG.Done()
				w.flush(context.WithoutCancel(ctx), batch, "size")
			}()
		}
		return nil
	}
}

// swapLocked takes the current buffer and installs a fresh one, waking
// one appender blocked on a full buffer. Caller holds w.mu.
func (w *Writer) swapLocked() []*audit.Record {
	if len(w.buf) == 0 {
		return nil
	}
	batch := w.buf
	w.buf = make([]*audit.Record, 0, w.cfg.BatchSize)
	select {
	case w.spaceFreed <- struct{}{}:
	default:
	}
	return batch
}

// RunWithContext runs the interval flush loop until the context is
// canceled, then performs a final best-effort flush bounded by the
// shutdown timeout. Intended to run under the supervision tree.
func (w *Writer) RunWithContext(ctx context.Context) error {
	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return ctx.Err()

		case <-w.sizeFired:
			// A size-triggered flush just ran; restart the interval.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.cfg.FlushInterval)

		case <-timer.C:
			w.mu.Lock()
			batch := w.swapLocked()
			w.mu.Unlock()
			if batch != nil {
				w.flush(ctx, batch, "interval")
			}
			timer.Reset(w.cfg.FlushInterval)
		}
	}
}

// shutdown drains the buffer with a hard timeout. Records that cannot
// be flushed in time go to the fallback log.
func (w *Writer) shutdown() {
	w.mu.Lock()
	w.closed = true
	batch := w.swapLocked()
	w.mu.Unlock()

	// Wait for in-flight size-triggered flushes.
	w.flushWG.Wait()

	if batch == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
	defer cancel()
	w.flush(ctx, batch, "shutdown")
}

// flush persists one batch, retrying with exponential backoff. A batch
// that exhausts its retries is written to the fallback log and the
// failure is reported on the monitoring channel.
func (w *Writer) flush(ctx context.Context, batch []*audit.Record, trigger string) {
	start := time.Now()

	var lastErr error
retries:
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.cfg.RetryBackoff << (attempt - 1)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retries
			case <-time.After(backoff):
			}
		}

		_, err := w.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, w.store.SaveBatch(ctx, batch)
		})
		if err == nil {
			metrics.RecordFlush(trigger, len(batch), time.Since(start), nil)
			logging.Debug().Int("batch", len(batch)).Str("trigger", trigger).
				Dur("took", time.Since(start)).Msg("Flushed audit batch")
			return
		}
		lastErr = err
		metrics.FlushFailures.Inc()
		logging.Warn().Err(err).Int("attempt", attempt+1).Int("batch", len(batch)).
			Msg("Flush attempt failed")
	}

	writeErr := &audit.WriteError{Batch: batch, Retries: w.cfg.MaxRetries, Err: lastErr}
	if err := w.fallback.Write(batch); err != nil {
		// Fallback itself failed. Keep the batch in memory by
		// re-queuing it; this is the one path where appends can grow
		// past BatchSize.
		logging.Error().Err(err).Int("batch", len(batch)).
			Msg("Fallback write failed; re-queuing batch")
		w.mu.Lock()
		w.buf = append(batch, w.buf...)
		w.mu.Unlock()
	} else {
		logging.Error().Err(lastErr).Int("batch", len(batch)).
			Msg("Flush exhausted retries; batch diverted to fallback log")
	}
	w.report(writeErr)
}

// report sends a write error to the monitoring channel without blocking.
func (w *Writer) report(err error) {
	select {
	case w.errCh <- err:
	default:
		logging.Warn().Err(err).Msg("Monitoring channel full; dropping error report")
	}
}

// String implements suture's friendly naming.
func (w *Writer) String() string { return "batched-writer" }
