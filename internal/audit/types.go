// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package audit defines the audit record data model, the action catalog,
// the event normalizer, and the persistence interface.
//
// Records are write-once: after a record leaves the scoring pipeline it is
// never mutated. Corrections are appended as new records correlated to the
// original via ParentAuditID.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Result indicates how an audited action concluded.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultPartial Result = "PARTIAL"
)

// Valid reports whether r is a known result value.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultPartial:
		return true
	}
	return false
}

// Severity indicates the severity level of an audit record.
// Severity is set by policy tables keyed on action category and result;
// it is correlated with risk score but never derived from it.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for range filtering.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity, with unknown values
// ranked below LOW.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Actor identifies who performed an audited action.
type Actor struct {
	// ID is the unique user or service-account identifier.
	ID string `json:"id,omitempty"`

	// Email of the actor, if known.
	Email string `json:"email,omitempty"`

	// Role of the actor at the time of the action.
	Role string `json:"role,omitempty"`
}

// RequestContext carries transport-level context for the audited action.
type RequestContext struct {
	// IPAddress of the client.
	IPAddress string `json:"ip_address"`

	// UserAgent of the client.
	UserAgent string `json:"user_agent,omitempty"`

	// RequestID of the originating request.
	RequestID string `json:"request_id,omitempty"`

	// TraceID from distributed tracing, if present.
	TraceID string `json:"trace_id,omitempty"`

	// SessionID of the authenticated session, if any.
	SessionID string `json:"session_id,omitempty"`
}

// Resource describes the business entity affected by the action.
type Resource struct {
	// Type of the resource (order, user, config, ...).
	Type string `json:"type,omitempty"`

	// ID of the resource.
	ID string `json:"id,omitempty"`

	// Before is an optional snapshot of the resource prior to the action.
	Before json.RawMessage `json:"before,omitempty"`

	// After is an optional snapshot of the resource after the action.
	After json.RawMessage `json:"after,omitempty"`

	// Metadata holds free-form action-specific details.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Technical carries execution details of the audited action.
type Technical struct {
	// Endpoint that served the action.
	Endpoint string `json:"endpoint,omitempty"`

	// Method is the HTTP method or RPC verb.
	Method string `json:"method,omitempty"`

	// StatusCode is the response code, if applicable.
	StatusCode int `json:"status_code,omitempty"`

	// DurationMs is the execution time in milliseconds.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// ErrorMessage holds the error text on failure.
	ErrorMessage string `json:"error_message,omitempty"`

	// ErrorStack holds the stack trace on failure, when captured.
	ErrorStack string `json:"error_stack,omitempty"`
}

// GeoLocation contains geographic information derived from the client IP.
type GeoLocation struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Record is one immutable audit log entry.
type Record struct {
	// ID is the unique identifier, generated at normalization time.
	ID string `json:"id"`

	// Action is the enumerated operation tag (see catalog.go).
	Action string `json:"action"`

	// Category resolved from the action catalog.
	Category Category `json:"category"`

	// Result of the action.
	Result Result `json:"result"`

	// Severity assigned by the risk scorer's policy table.
	Severity Severity `json:"severity"`

	// Actor who performed the action.
	Actor Actor `json:"actor"`

	// Request carries transport context.
	Request RequestContext `json:"request"`

	// Resource affected by the action.
	Resource Resource `json:"resource"`

	// Technical execution details.
	Technical Technical `json:"technical"`

	// Geo derived from the client IP, if available.
	Geo *GeoLocation `json:"geo,omitempty"`

	// RiskScore in [0,10], computed once before persistence.
	RiskScore int `json:"risk_score"`

	// Signals lists the suspicious-activity signals that fired for this
	// record, if any.
	Signals []string `json:"signals,omitempty"`

	// IsSuspicious is true when any detector signal fired or scoring
	// failed closed.
	IsSuspicious bool `json:"is_suspicious"`

	// IsHighRisk is true iff RiskScore >= the configured threshold.
	IsHighRisk bool `json:"is_high_risk"`

	// CreatedAt is the ingestion timestamp. Immutable.
	CreatedAt time.Time `json:"created_at"`

	// RetentionDate = CreatedAt + retention window. Fixed at creation,
	// never recomputed.
	RetentionDate time.Time `json:"retention_date"`

	// CorrelationID links related records into a causal chain.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ParentAuditID references the record this one corrects or follows.
	ParentAuditID string `json:"parent_audit_id,omitempty"`
}

// Store defines the persistence interface for audit records.
type Store interface {
	// SaveBatch persists a batch of records atomically. Either every
	// record in the batch is stored or none is.
	SaveBatch(ctx context.Context, records []*Record) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// Query retrieves records matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Record, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Chain returns all records sharing a correlation ID, oldest first.
	Chain(ctx context.Context, correlationID string) ([]Record, error)

	// Stats computes aggregate statistics over the given time range.
	Stats(ctx context.Context, opts StatsOptions) (*Stats, error)

	// DeleteExpired removes up to limit records whose retention date is
	// at or before the cutoff, returning the number removed.
	DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// QueryExpired returns up to limit records eligible for retention
	// processing, oldest retention date first.
	QueryExpired(ctx context.Context, cutoff time.Time, limit int) ([]Record, error)

	// Ping reports storage liveness.
	Ping(ctx context.Context) error
}

// QueryFilter defines filtering options for record queries.
type QueryFilter struct {
	// Actions filters by action tags.
	Actions []string `json:"actions,omitempty"`

	// Results filters by result values.
	Results []Result `json:"results,omitempty"`

	// MinSeverity and MaxSeverity bound the severity range, inclusive.
	MinSeverity Severity `json:"min_severity,omitempty"`
	MaxSeverity Severity `json:"max_severity,omitempty"`

	// ActorID filters by actor.
	ActorID string `json:"actor_id,omitempty"`

	// IPAddress filters by source IP.
	IPAddress string `json:"ip_address,omitempty"`

	// Suspicious filters on the IsSuspicious flag when non-nil.
	Suspicious *bool `json:"suspicious,omitempty"`

	// HighRisk filters on the IsHighRisk flag when non-nil.
	HighRisk *bool `json:"high_risk,omitempty"`

	// ResourceText performs a case-insensitive substring match on the
	// resource type.
	ResourceText string `json:"resource_text,omitempty"`

	// CorrelationID filters by correlation ID.
	CorrelationID string `json:"correlation_id,omitempty"`

	// StartTime and EndTime bound CreatedAt, inclusive.
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Limit is the maximum number of results.
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`

	// OrderBy specifies the sort field (created_at, risk_score, severity).
	OrderBy string `json:"order_by,omitempty"`

	// OrderDesc sorts in descending order.
	OrderDesc bool `json:"order_desc,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{
		Limit:     100,
		OrderBy:   "created_at",
		OrderDesc: true,
	}
}

// StatsOptions bounds an aggregate query. All aggregate queries operate
// over a bounded time range; callers that supply no range get the default
// window ending now.
type StatsOptions struct {
	// StartTime and EndTime bound the aggregation window.
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	// TopN bounds the top-actor and top-IP lists. Default 10.
	TopN int `json:"top_n,omitempty"`

	// BucketSize for the trend series. Default 1h.
	BucketSize time.Duration `json:"bucket_size,omitempty"`
}

// DefaultStatsWindow is the aggregation window applied when the caller
// supplies no time range.
const DefaultStatsWindow = 24 * time.Hour

// Normalize fills in defaults for zero-valued options.
func (o *StatsOptions) Normalize(now time.Time) {
	if o.EndTime.IsZero() {
		o.EndTime = now
	}
	if o.StartTime.IsZero() {
		o.StartTime = o.EndTime.Add(-DefaultStatsWindow)
	}
	if o.TopN <= 0 {
		o.TopN = 10
	}
	if o.BucketSize <= 0 {
		o.BucketSize = time.Hour
	}
}

// KeyCount pairs an aggregation key with its record count.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TrendPoint is one bucket of the time-bucketed trend series.
type TrendPoint struct {
	Bucket     time.Time `json:"bucket"`
	Count      int64     `json:"count"`
	Suspicious int64     `json:"suspicious"`
	HighRisk   int64     `json:"high_risk"`
}

// Stats holds aggregate statistics over a bounded time range.
type Stats struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Total      int64     `json:"total"`
	Suspicious int64     `json:"suspicious"`
	HighRisk   int64     `json:"high_risk"`

	ByAction   map[string]int64 `json:"by_action"`
	ByResult   map[string]int64 `json:"by_result"`
	BySeverity map[string]int64 `json:"by_severity"`

	TopActors []KeyCount   `json:"top_actors"`
	TopIPs    []KeyCount   `json:"top_ips"`
	Trend     []TrendPoint `json:"trend"`
}
