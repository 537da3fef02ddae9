// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package writer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mkessl/vigilium/internal/audit"
)

func TestFallbackLog_WriteAndCount(t *testing.T) {
	fb := testFallback(t)

	if n, err := fb.Count(); err != nil || n != 0 {
		t.Fatalf("Count() = %d, %v on empty log", n, err)
	}

	if err := fb.Write(nil); err != nil {
		t.Fatalf("Write(nil) error = %v", err)
	}

	batch := []*audit.Record{numberedRecord(0), numberedRecord(1), numberedRecord(2)}
	if err := fb.Write(batch); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	n, err := fb.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
}

func TestFallbackLog_Replay(t *testing.T) {
	fb := testFallback(t)

	base := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	var batch []*audit.Record
	for i := 0; i < 5; i++ {
		rec := numberedRecord(i)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		batch = append(batch, rec)
	}
	if err := fb.Write(batch); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var replayed []*audit.Record
	save := func(_ context.Context, records []*audit.Record) error {
		replayed = append(replayed, records...)
		return nil
	}

	n, err := fb.Replay(context.Background(), 100, save)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Replay() = %d, want 5", n)
	}

	// Key order embeds the creation timestamp, so replay preserves
	// arrival order.
	for i, rec := range replayed {
		if rec.ID != fmt.Sprintf("rec-%04d", i) {
			t.Errorf("replayed[%d].ID = %s, order lost", i, rec.ID)
		}
	}

	// Successful replay clears the log.
	if count, _ := fb.Count(); count != 0 {
		t.Errorf("Count() = %d after replay, want 0", count)
	}

	// Replaying an empty log is a no-op.
	n, err = fb.Replay(context.Background(), 100, save)
	if err != nil || n != 0 {
		t.Errorf("Replay() on empty log = %d, %v", n, err)
	}
}

func TestFallbackLog_ReplayBatchLimit(t *testing.T) {
	fb := testFallback(t)

	var batch []*audit.Record
	for i := 0; i < 10; i++ {
		batch = append(batch, numberedRecord(i))
	}
	if err := fb.Write(batch); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	save := func(_ context.Context, records []*audit.Record) error { return nil }

	n, err := fb.Replay(context.Background(), 4, save)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != 4 {
		t.Errorf("Replay() = %d, want batch limit 4", n)
	}
	if count, _ := fb.Count(); count != 6 {
		t.Errorf("Count() = %d after partial replay, want 6", count)
	}
}

func TestFallbackLog_ReplaySaveFailureKeepsRecords(t *testing.T) {
	fb := testFallback(t)

	if err := fb.Write([]*audit.Record{numberedRecord(0)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	saveErr := errors.New("storage still down")
	n, err := fb.Replay(context.Background(), 100, func(context.Context, []*audit.Record) error {
		return saveErr
	})
	if n != 0 {
		t.Errorf("Replay() = %d on save failure, want 0", n)
	}
	if !errors.Is(err, saveErr) {
		t.Errorf("Replay() error = %v, want wrapped save error", err)
	}

	// The record stays pending for the next attempt.
	if count, _ := fb.Count(); count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestReplayLoop_DrainsPending(t *testing.T) {
	fb := testFallback(t)
	store := audit.NewMemoryStore()

	var batch []*audit.Record
	for i := 0; i < 7; i++ {
		batch = append(batch, numberedRecord(i))
	}
	if err := fb.Write(batch); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	loop := NewReplayLoop(fb, 10*time.Millisecond, 3, store.SaveBatch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.RunWithContext(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		n, err := fb.Count()
		return err == nil && n == 0
	})
	cancel()
	<-done

	if store.Len() != 7 {
		t.Errorf("store has %d records after replay, want 7", store.Len())
	}
}
