// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mkessl/vigilium/internal/audit"
)

// captureFlusher records every batch it receives and can be told to
// fail a number of saves first.
type captureFlusher struct {
	mu       sync.Mutex
	batches  [][]*audit.Record
	failures int
}

func (f *captureFlusher) SaveBatch(_ context.Context, records []*audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("storage unavailable")
	}
	cp := make([]*audit.Record, len(records))
	copy(cp, records)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *captureFlusher) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *captureFlusher) records() []*audit.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*audit.Record
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func testFallback(t *testing.T) *FallbackLog {
	t.Helper()
	fb, err := OpenFallback("")
	if err != nil {
		t.Fatalf("OpenFallback() error = %v", err)
	}
	t.Cleanup(func() { _ = fb.Close() })
	return fb
}

func numberedRecord(i int) *audit.Record {
	return &audit.Record{
		ID:        fmt.Sprintf("rec-%04d", i),
		Action:    "record-view",
		Result:    audit.ResultSuccess,
		CreatedAt: time.Now().UTC(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWriter_SizeTrigger(t *testing.T) {
	store := &captureFlusher{}
	w := New(Config{BatchSize: 10, FlushInterval: time.Hour, MaxRetries: 0}, store, testFallback(t))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return store.batchCount() == 1 })

	recs := store.records()
	if len(recs) != 10 {
		t.Fatalf("flushed %d records, want 10", len(recs))
	}
	// Insertion order is preserved within the batch.
	for i, rec := range recs {
		if rec.ID != fmt.Sprintf("rec-%04d", i) {
			t.Errorf("record[%d].ID = %s, out of order", i, rec.ID)
		}
	}
}

func TestWriter_IntervalTrigger(t *testing.T) {
	store := &captureFlusher{}
	w := New(Config{BatchSize: 100, FlushInterval: 30 * time.Millisecond}, store, testFallback(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.RunWithContext(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	// Well under BatchSize; only the timer can flush these.
	waitFor(t, time.Second, func() bool { return store.batchCount() >= 1 })
	if len(store.records()) != 3 {
		t.Errorf("flushed %d records, want 3", len(store.records()))
	}

	cancel()
	<-done
}

func TestWriter_ExactlyOneFlushPerBatch(t *testing.T) {
	store := &captureFlusher{}
	w := New(Config{BatchSize: 50, FlushInterval: 50 * time.Millisecond}, store, testFallback(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.RunWithContext(ctx)
		close(done)
	}()

	// 150 records appended quickly: three full size-triggered batches,
	// and the timer reset on each must not produce duplicates.
	for i := 0; i < 150; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return len(store.records()) == 150 })
	if store.batchCount() != 3 {
		t.Errorf("flush count = %d, want exactly 3", store.batchCount())
	}

	seen := make(map[string]bool)
	for _, rec := range store.records() {
		if seen[rec.ID] {
			t.Fatalf("record %s flushed twice", rec.ID)
		}
		seen[rec.ID] = true
	}

	cancel()
	<-done
}

func TestWriter_RetryRecovers(t *testing.T) {
	store := &captureFlusher{failures: 2}
	w := New(Config{
		BatchSize:     5,
		FlushInterval: time.Hour,
		MaxRetries:    3,
		RetryBackoff:  time.Millisecond,
	}, store, testFallback(t))

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	// Two failures then success on the third attempt; order preserved.
	waitFor(t, 2*time.Second, func() bool { return store.batchCount() == 1 })
	recs := store.records()
	for i, rec := range recs {
		if rec.ID != fmt.Sprintf("rec-%04d", i) {
			t.Errorf("record[%d].ID = %s, order lost across retries", i, rec.ID)
		}
	}
}

func TestWriter_ExhaustedRetriesDivertToFallback(t *testing.T) {
	store := &captureFlusher{failures: 100}
	fb := testFallback(t)
	w := New(Config{
		BatchSize:     3,
		FlushInterval: time.Hour,
		MaxRetries:    2,
		RetryBackoff:  time.Millisecond,
	}, store, fb)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	// The batch lands in the fallback log, never dropped.
	waitFor(t, 2*time.Second, func() bool {
		n, err := fb.Count()
		return err == nil && n == 3
	})

	// The failure is reported on the monitoring channel as a WriteError.
	select {
	case err := <-w.Errors():
		var werr *audit.WriteError
		if !errors.As(err, &werr) {
			t.Fatalf("monitoring error type = %T, want *audit.WriteError", err)
		}
		if len(werr.Batch) != 3 || werr.Retries != 2 {
			t.Errorf("WriteError batch=%d retries=%d", len(werr.Batch), werr.Retries)
		}
	case <-time.After(time.Second):
		t.Fatal("no error reported on monitoring channel")
	}
}

func TestWriter_ShutdownFlushesRemainder(t *testing.T) {
	store := &captureFlusher{}
	w := New(Config{BatchSize: 100, FlushInterval: time.Hour, ShutdownTimeout: time.Second}, store, testFallback(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.RunWithContext(ctx)
		close(done)
	}()

	for i := 0; i < 7; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	cancel()
	<-done

	if len(store.records()) != 7 {
		t.Errorf("shutdown flushed %d records, want 7", len(store.records()))
	}
}

func TestWriter_AppendAfterShutdownGoesToFallback(t *testing.T) {
	store := &captureFlusher{}
	fb := testFallback(t)
	w := New(Config{BatchSize: 100, FlushInterval: time.Hour, ShutdownTimeout: time.Second}, store, fb)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.RunWithContext(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := w.Append(context.Background(), numberedRecord(0)); err != nil {
		t.Fatalf("Append() after shutdown error = %v", err)
	}
	n, err := fb.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("fallback count = %d, want 1", n)
	}
}

func TestWriter_NilRecordRejected(t *testing.T) {
	w := New(Config{BatchSize: 10, FlushInterval: time.Hour}, &captureFlusher{}, testFallback(t))
	if err := w.Append(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil record")
	}
}

func TestWriter_BufferCapacityBlocksAppend(t *testing.T) {
	store := &captureFlusher{}
	w := New(Config{BatchSize: 10, BufferCapacity: 2, FlushInterval: time.Hour}, store, testFallback(t))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	blockedCtx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- w.Append(blockedCtx, numberedRecord(2))
	}()

	select {
	case err := <-result:
		t.Fatalf("Append() returned %v on a full buffer, want block", err)
	case <-time.After(75 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("blocked Append() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Append() did not return after cancellation")
	}

	if w.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", w.Depth())
	}
}

func TestWriter_BlockedAppendResumesAfterFlush(t *testing.T) {
	store := &captureFlusher{}
	w := New(Config{BatchSize: 10, BufferCapacity: 2, FlushInterval: 20 * time.Millisecond}, store, testFallback(t))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := w.Append(ctx, numberedRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	result := make(chan error, 1)
	go func() {
		result <- w.Append(ctx, numberedRecord(2))
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.RunWithContext(runCtx)
		close(done)
	}()

	// The interval flush drains the full buffer and unblocks the waiter.
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("resumed Append() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Append() still blocked after the buffer was flushed")
	}

	waitFor(t, 2*time.Second, func() bool { return len(store.records()) == 3 })

	cancel()
	<-done
}
