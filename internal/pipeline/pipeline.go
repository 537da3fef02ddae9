// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package pipeline wires the ingestion path: normalize, score against
// detector state, queue for batched persistence, and dispatch alerts.
//
// Many producers may call Ingest concurrently. No call blocks beyond
// buffering; flushing and persistence happen asynchronously.
package pipeline

import (
	"context"
	"errors"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/detection"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/metrics"
	"github.com/mkessl/vigilium/internal/risk"
	"github.com/mkessl/vigilium/internal/writer"
)

// AlertSink receives alerts for suspicious or high-risk records.
type AlertSink interface {
	BroadcastAlert(alert *detection.Alert)
}

// Pipeline is the ingestion path for audit events.
type Pipeline struct {
	normalizer *audit.Normalizer
	scorer     *risk.Scorer
	detector   *detection.Engine
	writer     *writer.Writer

	notifiers []detection.Notifier
	sinks     []AlertSink
}

// New creates a Pipeline.
func New(normalizer *audit.Normalizer, scorer *risk.Scorer, detector *detection.Engine, w *writer.Writer) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		scorer:     scorer,
		detector:   detector,
		writer:     w,
	}
}

// RegisterNotifier adds an external alert channel.
func (p *Pipeline) RegisterNotifier(n detection.Notifier) {
	p.notifiers = append(p.notifiers, n)
}

// RegisterSink adds an in-process alert sink (the websocket hub).
func (p *Pipeline) RegisterSink(s AlertSink) {
	p.sinks = append(p.sinks, s)
}

// Ingest runs one event through the full path and returns the persisted
// record skeleton (queued, not yet durable). Validation failures reject
// the event; everything after validation is fail-open so an unhealthy
// detector or scorer never drops a record.
func (p *Pipeline) Ingest(ctx context.Context, ev *audit.Event) (*audit.Record, error) {
	rec, err := p.normalizer.Normalize(ev)
	if err != nil {
		field := "event"
		var verr *audit.ValidationError
		if errors.As(err, &verr) && verr.Field != "" {
			field = verr.Field
		}
		metrics.RecordsRejected.WithLabelValues(field).Inc()
		return nil, err
	}

	signals := p.detector.Evaluate(rec)
	p.scorer.Score(rec, signals)

	if err := p.writer.Append(ctx, rec); err != nil {
		return nil, err
	}

	metrics.RecordIngested(rec.Action, string(rec.Result), rec.RiskScore)

	if rec.IsSuspicious || rec.IsHighRisk {
		p.dispatch(rec)
	}
	return rec, nil
}

// dispatch fans an alert out to all registered channels. Delivery is
// best-effort and never blocks ingestion.
func (p *Pipeline) dispatch(rec *audit.Record) {
	alert := detection.AlertFromRecord(rec)
	for _, sink := range p.sinks {
		sink.BroadcastAlert(alert)
	}
	for _, n := range p.notifiers {
		go func(n detection.Notifier) {
			if err := n.Notify(alert); err != nil {
				logging.Warn().Err(err).Str("notifier", n.Name()).
					Str("record_id", alert.RecordID).Msg("Alert delivery failed")
			}
		}(n)
	}
}

// Health summarizes the pipeline's internal components for the
// composite health report.
type Health struct {
	DetectionEnabled bool `json:"detection_enabled"`
	WriterBuffered   int  `json:"writer_buffered"`
}

// HealthReport returns a point-in-time snapshot of pipeline health.
func (p *Pipeline) HealthReport() Health {
	return Health{
		DetectionEnabled: p.detector.Enabled(),
		WriterBuffered:   p.writer.Depth(),
	}
}

// DrainErrors logs writer monitoring-channel errors until the context is
// canceled. Runs under the supervision tree so flush failures always
// reach the logs even with no external monitoring attached.
func (p *Pipeline) DrainErrors(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-p.writer.Errors():
			logging.Error().Err(err).Msg("Batched writer reported a persistence failure")
		}
	}
}

// RunWithContext runs the monitoring drain loop under supervision.
func (p *Pipeline) RunWithContext(ctx context.Context) error {
	return p.DrainErrors(ctx)
}

// String implements suture's friendly naming.
func (p *Pipeline) String() string { return "pipeline-monitor" }
