// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline, the batched writer, the detection engine, the retention
// sweeper, and the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilium_records_ingested_total",
			Help: "Total number of audit records accepted by the pipeline",
		},
		[]string{"action", "result"},
	)

	RecordsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilium_records_rejected_total",
			Help: "Total number of inbound events rejected at validation",
		},
		[]string{"reason"},
	)

	RiskScoreDistribution = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilium_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		},
	)

	ScoringFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilium_scoring_failures_total",
			Help: "Total number of records scored with fail-closed defaults",
		},
	)

	// Detection metrics
	SignalsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilium_detection_signals_total",
			Help: "Total number of suspicious-activity signals fired",
		},
		[]string{"signal"},
	)

	DetectorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilium_detector_errors_total",
			Help: "Total number of detector state errors",
		},
		[]string{"detector"},
	)

	TrackedKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilium_detection_tracked_keys",
			Help: "Current number of actor/IP keys with sliding-window state",
		},
	)

	// Writer metrics
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigilium_flush_duration_seconds",
			Help:    "Duration of batch flushes to storage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"}, // "size", "interval", "shutdown"
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilium_flush_batch_size",
			Help:    "Number of records per flushed batch",
			Buckets: []float64{1, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	FlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilium_flush_failures_total",
			Help: "Total number of failed flush attempts, including retries",
		},
	)

	FallbackWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilium_fallback_writes_total",
			Help: "Total number of records diverted to the fallback log",
		},
	)

	FallbackReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilium_fallback_replays_total",
			Help: "Total number of fallback records replayed into storage",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	WriterBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilium_writer_buffer_depth",
			Help: "Current number of records buffered awaiting flush",
		},
	)

	// Sweeper metrics
	SweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilium_sweep_deleted_total",
			Help: "Total number of records removed by retention sweeps",
		},
	)

	SweepArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilium_sweep_archived_total",
			Help: "Total number of records archived before deletion",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigilium_sweep_duration_seconds",
			Help:    "Duration of retention sweep passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigilium_sweep_failures_total",
			Help: "Total number of failed retention sweeps",
		},
	)

	// API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigilium_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	APIRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilium_api_requests_in_flight",
			Help: "Current number of API requests being served",
		},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigilium_websocket_clients",
			Help: "Current number of connected alert stream clients",
		},
	)

	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigilium_alerts_delivered_total",
			Help: "Total number of alerts delivered per channel",
		},
		[]string{"channel", "outcome"}, // channel: "webhook", "websocket"
	)
)

// RecordIngested updates pipeline counters for one accepted record.
func RecordIngested(action, result string, riskScore int) {
	RecordsIngested.WithLabelValues(action, result).Inc()
	RiskScoreDistribution.Observe(float64(riskScore))
}

// RecordFlush updates writer metrics for one flush attempt.
func RecordFlush(trigger string, batchSize int, duration time.Duration, err error) {
	if err != nil {
		FlushFailures.Inc()
		return
	}
	FlushDuration.WithLabelValues(trigger).Observe(duration.Seconds())
	FlushBatchSize.Observe(float64(batchSize))
}

// RecordSweep updates sweeper metrics for one pass.
func RecordSweep(deleted, archived int64, duration time.Duration, err error) {
	if err != nil {
		SweepFailures.Inc()
		return
	}
	SweepDeleted.Add(float64(deleted))
	SweepArchived.Add(float64(archived))
	SweepDuration.Observe(duration.Seconds())
}
