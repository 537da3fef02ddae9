// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/detection"
	"github.com/mkessl/vigilium/internal/risk"
	"github.com/mkessl/vigilium/internal/writer"
)

// captureSink records alerts broadcast by the pipeline.
type captureSink struct {
	mu     sync.Mutex
	alerts []*detection.Alert
}

func (s *captureSink) BroadcastAlert(alert *detection.Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

// captureNotifier records alerts delivered to the external channel.
type captureNotifier struct {
	mu     sync.Mutex
	alerts []*detection.Alert
}

func (n *captureNotifier) Notify(alert *detection.Alert) error {
	n.mu.Lock()
	n.alerts = append(n.alerts, alert)
	n.mu.Unlock()
	return nil
}

func (n *captureNotifier) Name() string { return "capture" }

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

func newTestPipeline(t *testing.T) (*Pipeline, *writer.Writer) {
	t.Helper()
	fb, err := writer.OpenFallback("")
	if err != nil {
		t.Fatalf("OpenFallback() error = %v", err)
	}
	t.Cleanup(func() { _ = fb.Close() })

	store := audit.NewMemoryStore()
	w := writer.New(writer.Config{BatchSize: 1000, FlushInterval: time.Hour}, store, fb)

	p := New(
		audit.NewNormalizer(365*24*time.Hour),
		risk.NewScorer(8),
		detection.NewEngine(detection.DefaultEngineConfig()),
		w,
	)
	return p, w
}

func testEvent() *audit.Event {
	return &audit.Event{
		Action: "record-view",
		Result: audit.ResultSuccess,
		Actor:  audit.Actor{ID: "user-1"},
		Request: audit.RequestContext{
			IPAddress: "203.0.113.20",
		},
	}
}

func TestPipeline_Ingest(t *testing.T) {
	p, _ := newTestPipeline(t)

	rec, err := p.Ingest(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("record has no ID")
	}
	if rec.RiskScore != 1 || rec.Severity != audit.SeverityLow {
		t.Errorf("RiskScore = %d Severity = %s, want 1 LOW", rec.RiskScore, rec.Severity)
	}
	if rec.IsSuspicious || rec.IsHighRisk {
		t.Error("plain view must not be flagged")
	}
}

func TestPipeline_IngestRejectsInvalid(t *testing.T) {
	p, _ := newTestPipeline(t)

	ev := testEvent()
	ev.Request.IPAddress = ""

	_, err := p.Ingest(context.Background(), ev)
	if err == nil {
		t.Fatal("Ingest() accepted an event without IP address")
	}
	var verr *audit.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *audit.ValidationError", err)
	}
	if verr.Field != "ip_address" {
		t.Errorf("ValidationError.Field = %q, want ip_address", verr.Field)
	}
}

func TestPipeline_DispatchesSuspicious(t *testing.T) {
	p, _ := newTestPipeline(t)
	sink := &captureSink{}
	notifier := &captureNotifier{}
	p.RegisterSink(sink)
	p.RegisterNotifier(notifier)

	// An unknown action scores fail-closed and dispatches.
	ev := testEvent()
	ev.Action = "mystery-op"

	rec, err := p.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !rec.IsSuspicious {
		t.Fatal("unknown action must be suspicious")
	}

	// Sinks are synchronous; notifiers run in goroutines.
	if sink.count() != 1 {
		t.Errorf("sink received %d alerts, want 1", sink.count())
	}
	deadline := time.Now().Add(time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if notifier.count() != 1 {
		t.Errorf("notifier received %d alerts, want 1", notifier.count())
	}

	alert := sink.alerts[0]
	if alert.RecordID != rec.ID || alert.RiskScore != rec.RiskScore {
		t.Errorf("alert = %+v does not match record", alert)
	}
}

func TestPipeline_NoDispatchForCleanRecords(t *testing.T) {
	p, _ := newTestPipeline(t)
	sink := &captureSink{}
	p.RegisterSink(sink)

	if _, err := p.Ingest(context.Background(), testEvent()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("clean record dispatched %d alerts", sink.count())
	}
}

func TestPipeline_SignalsReachRecord(t *testing.T) {
	p, _ := newTestPipeline(t)

	// Five rapid failures from one actor trip the burst rule; the
	// resulting signals land on the scored record.
	var last *audit.Record
	for i := 0; i < 5; i++ {
		ev := testEvent()
		ev.Action = "login-failed"
		ev.Result = audit.ResultFailure

		rec, err := p.Ingest(context.Background(), ev)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		last = rec
	}

	if len(last.Signals) == 0 || last.Signals[0] != "repeated-failure-burst" {
		t.Errorf("Signals = %v, want repeated-failure-burst", last.Signals)
	}
	if !last.IsSuspicious {
		t.Error("burst record must be suspicious")
	}
	// security base 8 + failure 2 capped at 10.
	if last.RiskScore != 10 {
		t.Errorf("RiskScore = %d, want 10", last.RiskScore)
	}
}
