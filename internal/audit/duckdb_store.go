// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/mkessl/vigilium/internal/logging"
)

// DuckDBStore implements Store using DuckDB for persistent storage.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a DuckDB-backed audit store. The caller is
// responsible for calling CreateTable during initialization.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{db: db}
}

// CreateTable creates the audit_records table if it doesn't exist.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_records (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			category TEXT NOT NULL,
			result TEXT NOT NULL,
			severity TEXT NOT NULL,

			-- Actor
			actor_id TEXT,
			actor_email TEXT,
			actor_role TEXT,

			-- Request context
			ip_address TEXT NOT NULL,
			user_agent TEXT,
			request_id TEXT,
			trace_id TEXT,
			session_id TEXT,

			-- Resource
			resource_type TEXT,
			resource_id TEXT,
			resource_before JSON,
			resource_after JSON,
			resource_metadata JSON,

			-- Technical
			endpoint TEXT,
			method TEXT,
			status_code INTEGER,
			duration_ms BIGINT,
			error_message TEXT,
			error_stack TEXT,

			-- Geo
			geo JSON,

			-- Risk assessment
			risk_score INTEGER NOT NULL,
			signals JSON,
			is_suspicious BOOLEAN NOT NULL,
			is_high_risk BOOLEAN NOT NULL,

			-- Lifecycle
			created_at TIMESTAMPTZ NOT NULL,
			retention_date TIMESTAMPTZ NOT NULL,

			-- Correlation
			correlation_id TEXT,
			parent_audit_id TEXT
		);

		-- Indexes for common query patterns
		CREATE INDEX IF NOT EXISTS idx_records_created_at ON audit_records(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_records_action ON audit_records(action);
		CREATE INDEX IF NOT EXISTS idx_records_severity ON audit_records(severity);
		CREATE INDEX IF NOT EXISTS idx_records_actor_id ON audit_records(actor_id);
		CREATE INDEX IF NOT EXISTS idx_records_ip_address ON audit_records(ip_address);
		CREATE INDEX IF NOT EXISTS idx_records_suspicious ON audit_records(is_suspicious);
		CREATE INDEX IF NOT EXISTS idx_records_high_risk ON audit_records(is_high_risk);
		CREATE INDEX IF NOT EXISTS idx_records_retention ON audit_records(retention_date);
		CREATE INDEX IF NOT EXISTS idx_records_correlation ON audit_records(correlation_id);
	`

	// Split and execute each statement
	statements := strings.Split(query, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit records table created/verified")
	return nil
}

// SaveBatch persists a batch of records in a single transaction. Either
// every record is stored or none is.
func (s *DuckDBStore) SaveBatch(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertRecordQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec == nil {
			return fmt.Errorf("record cannot be nil")
		}
		if _, err := stmt.ExecContext(ctx, recordParams(rec)...); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch of %d: %w", len(records), err)
	}
	return nil
}

// INSERT OR IGNORE keeps fallback replay idempotent: a replayed batch may
// contain records that were persisted before the previous cleanup failed.
const insertRecordQuery = `
	INSERT OR IGNORE INTO audit_records (
		id, action, category, result, severity,
		actor_id, actor_email, actor_role,
		ip_address, user_agent, request_id, trace_id, session_id,
		resource_type, resource_id, resource_before, resource_after, resource_metadata,
		endpoint, method, status_code, duration_ms, error_message, error_stack,
		geo,
		risk_score, signals, is_suspicious, is_high_risk,
		created_at, retention_date,
		correlation_id, parent_audit_id
	) VALUES (
		?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?,
		?,
		?, ?, ?, ?,
		?, ?,
		?, ?
	)
`

// recordParams prepares all parameters for record insertion.
func recordParams(rec *Record) []interface{} {
	return []interface{}{
		rec.ID,
		rec.Action,
		string(rec.Category),
		string(rec.Result),
		string(rec.Severity),
		rec.Actor.ID,
		rec.Actor.Email,
		rec.Actor.Role,
		rec.Request.IPAddress,
		rec.Request.UserAgent,
		rec.Request.RequestID,
		rec.Request.TraceID,
		rec.Request.SessionID,
		rec.Resource.Type,
		rec.Resource.ID,
		marshalRaw(rec.Resource.Before),
		marshalRaw(rec.Resource.After),
		marshalRaw(rec.Resource.Metadata),
		rec.Technical.Endpoint,
		rec.Technical.Method,
		rec.Technical.StatusCode,
		rec.Technical.DurationMs,
		rec.Technical.ErrorMessage,
		rec.Technical.ErrorStack,
		marshalGeo(rec.Geo),
		rec.RiskScore,
		marshalSignals(rec.Signals),
		rec.IsSuspicious,
		rec.IsHighRisk,
		rec.CreatedAt,
		rec.RetentionDate,
		rec.CorrelationID,
		rec.ParentAuditID,
	}
}

// marshalRaw converts a raw JSON payload to a nullable string for DuckDB.
func marshalRaw(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

// marshalGeo marshals geo location to a JSON string (if present).
func marshalGeo(geo *GeoLocation) *string {
	if geo == nil {
		return nil
	}
	if data, err := json.Marshal(geo); err == nil {
		s := string(data)
		return &s
	}
	return nil
}

// marshalSignals marshals the signals slice to a JSON string.
func marshalSignals(signals []string) string {
	if len(signals) == 0 {
		return "[]"
	}
	if data, err := json.Marshal(signals); err == nil {
		return string(data)
	}
	return "[]"
}

// Get retrieves a record by ID.
func (s *DuckDBStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectRecordQuery + " WHERE id = ?"
	row := s.db.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

// Query retrieves records matching the filter.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecordFromRows(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit record row")
			continue
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}
	return records, nil
}

// Count returns the number of records matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, true)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// Chain returns all records sharing a correlation ID, oldest first.
func (s *DuckDBStore) Chain(ctx context.Context, correlationID string) ([]Record, error) {
	filter := QueryFilter{
		CorrelationID: correlationID,
		OrderBy:       "created_at",
		Limit:         1000,
	}
	return s.Query(ctx, filter)
}

// Stats computes aggregate statistics over a bounded time range.
func (s *DuckDBStore) Stats(ctx context.Context, opts StatsOptions) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts.Normalize(time.Now().UTC())

	stats := &Stats{
		StartTime:  opts.StartTime,
		EndTime:    opts.EndTime,
		ByAction:   make(map[string]int64),
		ByResult:   make(map[string]int64),
		BySeverity: make(map[string]int64),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN is_suspicious THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_high_risk THEN 1 ELSE 0 END), 0)
		FROM audit_records
		WHERE created_at >= ? AND created_at <= ?
	`, opts.StartTime, opts.EndTime).Scan(&stats.Total, &stats.Suspicious, &stats.HighRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to get record totals: %w", err)
	}

	for column, dest := range map[string]map[string]int64{
		"action":   stats.ByAction,
		"result":   stats.ByResult,
		"severity": stats.BySeverity,
	} {
		counts, err := s.countByColumn(ctx, column, opts)
		if err != nil {
			return nil, err
		}
		for k, v := range counts {
			dest[k] = v
		}
	}

	var err2 error
	if stats.TopActors, err2 = s.topByColumn(ctx, "actor_id", opts); err2 != nil {
		return nil, err2
	}
	if stats.TopIPs, err2 = s.topByColumn(ctx, "ip_address", opts); err2 != nil {
		return nil, err2
	}
	if stats.Trend, err2 = s.trend(ctx, opts); err2 != nil {
		return nil, err2
	}

	return stats, nil
}

// countByColumn executes a bounded GROUP BY query and returns counts per value.
func (s *DuckDBStore) countByColumn(ctx context.Context, column string, opts StatsOptions) (map[string]int64, error) {
	result := make(map[string]int64)
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) FROM audit_records
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY %s
	`, column, column)

	rows, err := s.db.QueryContext(ctx, query, opts.StartTime, opts.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s counts: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err == nil {
			result[key] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return result, nil
}

// topByColumn returns the top-N values of a column by record count.
func (s *DuckDBStore) topByColumn(ctx context.Context, column string, opts StatsOptions) ([]KeyCount, error) {
	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) AS c FROM audit_records
		WHERE created_at >= ? AND created_at <= ? AND %s IS NOT NULL AND %s != ''
		GROUP BY %s
		ORDER BY c DESC
		LIMIT ?
	`, column, column, column, column)

	rows, err := s.db.QueryContext(ctx, query, opts.StartTime, opts.EndTime, opts.TopN)
	if err != nil {
		return nil, fmt.Errorf("failed to get top %s: %w", column, err)
	}
	defer rows.Close()

	var out []KeyCount
	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err == nil {
			out = append(out, kc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top %s: %w", column, err)
	}
	return out, nil
}

// trend returns the time-bucketed record counts over the range.
func (s *DuckDBStore) trend(ctx context.Context, opts StatsOptions) ([]TrendPoint, error) {
	// DuckDB time_bucket takes an INTERVAL; build it from whole seconds.
	seconds := int64(opts.BucketSize / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	query := fmt.Sprintf(`
		SELECT time_bucket(INTERVAL '%d seconds', created_at) AS bucket,
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_suspicious THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_high_risk THEN 1 ELSE 0 END), 0)
		FROM audit_records
		WHERE created_at >= ? AND created_at <= ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`, seconds)

	rows, err := s.db.QueryContext(ctx, query, opts.StartTime, opts.EndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to get trend buckets: %w", err)
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var tp TrendPoint
		if err := rows.Scan(&tp.Bucket, &tp.Count, &tp.Suspicious, &tp.HighRisk); err == nil {
			out = append(out, tp)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trend buckets: %w", err)
	}
	return out, nil
}

// QueryExpired returns up to limit records eligible for retention
// processing, oldest retention date first.
func (s *DuckDBStore) QueryExpired(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := selectRecordQuery + " WHERE retention_date <= ? ORDER BY retention_date ASC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecordFromRows(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan expired record row")
			continue
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired records: %w", err)
	}
	return records, nil
}

// DeleteExpired removes up to limit records whose retention date is at or
// before the cutoff. Records with a future retention date are never touched.
func (s *DuckDBStore) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		DELETE FROM audit_records
		WHERE id IN (
			SELECT id FROM audit_records
			WHERE retention_date <= ?
			ORDER BY retention_date ASC
			LIMIT ?
		)
	`
	result, err := s.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return count, nil
}

// Ping reports storage liveness.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// buildQuery constructs the SQL query based on the filter.
func buildQuery(filter QueryFilter, countOnly bool) (string, []interface{}) {
	conditions, args := buildFilterConditions(filter)

	query := selectRecordQuery
	if countOnly {
		query = "SELECT COUNT(*) FROM audit_records"
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if !countOnly {
		query = appendOrderAndLimit(query, filter)
	}
	return query, args
}

// buildFilterConditions builds WHERE clause conditions from a QueryFilter.
func buildFilterConditions(filter QueryFilter) ([]string, []interface{}) {
	var args []interface{}
	var conditions []string

	if cond := buildSliceCondition("action", filter.Actions, &args); cond != "" {
		conditions = append(conditions, cond)
	}
	if cond := buildSliceCondition("result", filter.Results, &args); cond != "" {
		conditions = append(conditions, cond)
	}

	// Severity ranges translate to enumerated IN-lists so the column
	// index stays usable.
	if sevs := severitiesInRange(filter.MinSeverity, filter.MaxSeverity); sevs != nil {
		if cond := buildSliceCondition("severity", sevs, &args); cond != "" {
			conditions = append(conditions, cond)
		}
	}

	conditions, args = appendStringCondition(conditions, args, "actor_id", filter.ActorID)
	conditions, args = appendStringCondition(conditions, args, "ip_address", filter.IPAddress)
	conditions, args = appendStringCondition(conditions, args, "correlation_id", filter.CorrelationID)

	if filter.Suspicious != nil {
		conditions = append(conditions, "is_suspicious = ?")
		args = append(args, *filter.Suspicious)
	}
	if filter.HighRisk != nil {
		conditions = append(conditions, "is_high_risk = ?")
		args = append(args, *filter.HighRisk)
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *filter.EndTime)
	}

	if filter.ResourceText != "" {
		conditions = append(conditions, "(LOWER(resource_type) LIKE ? OR LOWER(resource_id) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.ResourceText) + "%"
		args = append(args, pattern, pattern)
	}

	return conditions, args
}

// severitiesInRange enumerates severities between min and max, inclusive.
// Returns nil when no bound was set.
func severitiesInRange(minSev, maxSev Severity) []Severity {
	if minSev == "" && maxSev == "" {
		return nil
	}
	lo, hi := 0, len(severityRank)-1
	if minSev != "" {
		lo = minSev.Rank()
	}
	if maxSev != "" {
		hi = maxSev.Rank()
	}
	var out []Severity
	for sev, rank := range severityRank {
		if rank >= lo && rank <= hi {
			out = append(out, sev)
		}
	}
	return out
}

// buildSliceCondition creates a SQL IN condition for a slice of string values.
func buildSliceCondition[T ~string](column string, values []T, args *[]interface{}) string {
	if len(values) == 0 {
		return ""
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

// appendStringCondition adds a string equality condition if value is non-empty.
func appendStringCondition(conditions []string, args []interface{}, column, value string) ([]string, []interface{}) {
	if value != "" {
		conditions = append(conditions, column+" = ?")
		args = append(args, value)
	}
	return conditions, args
}

// appendOrderAndLimit adds ORDER BY, LIMIT, and OFFSET clauses.
func appendOrderAndLimit(query string, filter QueryFilter) string {
	orderBy := "created_at"
	validFields := map[string]bool{
		"created_at": true, "risk_score": true, "severity": true,
		"action": true, "actor_id": true, "retention_date": true,
	}
	if filter.OrderBy != "" && validFields[filter.OrderBy] {
		orderBy = filter.OrderBy
	}

	if filter.OrderDesc {
		query += fmt.Sprintf(" ORDER BY %s DESC", orderBy)
	} else {
		query += fmt.Sprintf(" ORDER BY %s ASC", orderBy)
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return query
}

// selectRecordQuery is the SELECT statement for audit records. JSON
// columns are cast to VARCHAR for proper scanning.
const selectRecordQuery = `
	SELECT
		id, action, category, result, severity,
		actor_id, actor_email, actor_role,
		ip_address, user_agent, request_id, trace_id, session_id,
		resource_type, resource_id,
		CAST(resource_before AS VARCHAR) AS resource_before,
		CAST(resource_after AS VARCHAR) AS resource_after,
		CAST(resource_metadata AS VARCHAR) AS resource_metadata,
		endpoint, method, status_code, duration_ms, error_message, error_stack,
		CAST(geo AS VARCHAR) AS geo,
		risk_score,
		CAST(signals AS VARCHAR) AS signals,
		is_suspicious, is_high_risk,
		created_at, retention_date,
		correlation_id, parent_audit_id
	FROM audit_records
`

// scannedRecordData holds raw scanned values from the database.
type scannedRecordData struct {
	rec      Record
	category string
	result   string
	severity string

	resourceBefore   sql.NullString
	resourceAfter    sql.NullString
	resourceMetadata sql.NullString
	geo              sql.NullString
	signals          sql.NullString
}

// scanDestinations returns pointers to all fields for scanning.
func (d *scannedRecordData) scanDestinations() []interface{} {
	return []interface{}{
		&d.rec.ID,
		&d.rec.Action,
		&d.category,
		&d.result,
		&d.severity,
		&d.rec.Actor.ID,
		&d.rec.Actor.Email,
		&d.rec.Actor.Role,
		&d.rec.Request.IPAddress,
		&d.rec.Request.UserAgent,
		&d.rec.Request.RequestID,
		&d.rec.Request.TraceID,
		&d.rec.Request.SessionID,
		&d.rec.Resource.Type,
		&d.rec.Resource.ID,
		&d.resourceBefore,
		&d.resourceAfter,
		&d.resourceMetadata,
		&d.rec.Technical.Endpoint,
		&d.rec.Technical.Method,
		&d.rec.Technical.StatusCode,
		&d.rec.Technical.DurationMs,
		&d.rec.Technical.ErrorMessage,
		&d.rec.Technical.ErrorStack,
		&d.geo,
		&d.rec.RiskScore,
		&d.signals,
		&d.rec.IsSuspicious,
		&d.rec.IsHighRisk,
		&d.rec.CreatedAt,
		&d.rec.RetentionDate,
		&d.rec.CorrelationID,
		&d.rec.ParentAuditID,
	}
}

// toRecord converts scanned data to a fully populated Record.
func (d *scannedRecordData) toRecord() *Record {
	d.rec.Category = Category(d.category)
	d.rec.Result = Result(d.result)
	d.rec.Severity = Severity(d.severity)

	if d.resourceBefore.Valid && d.resourceBefore.String != "" {
		d.rec.Resource.Before = json.RawMessage(d.resourceBefore.String)
	}
	if d.resourceAfter.Valid && d.resourceAfter.String != "" {
		d.rec.Resource.After = json.RawMessage(d.resourceAfter.String)
	}
	if d.resourceMetadata.Valid && d.resourceMetadata.String != "" {
		d.rec.Resource.Metadata = json.RawMessage(d.resourceMetadata.String)
	}
	if d.geo.Valid && d.geo.String != "" {
		var geo GeoLocation
		if err := json.Unmarshal([]byte(d.geo.String), &geo); err == nil {
			d.rec.Geo = &geo
		}
	}
	if d.signals.Valid && d.signals.String != "" {
		if err := json.Unmarshal([]byte(d.signals.String), &d.rec.Signals); err != nil {
			logging.Debug().Err(err).Str("signals", d.signals.String).Msg("Failed to parse signals JSON")
		}
	}
	return &d.rec
}

// scanRecord scans a single row into a Record.
func scanRecord(row *sql.Row) (*Record, error) {
	var data scannedRecordData
	if err := row.Scan(data.scanDestinations()...); err != nil {
		return nil, err
	}
	return data.toRecord(), nil
}

// scanRecordFromRows scans a row from sql.Rows into a Record.
func scanRecordFromRows(rows *sql.Rows) (*Record, error) {
	var data scannedRecordData
	if err := rows.Scan(data.scanDestinations()...); err != nil {
		return nil, err
	}
	return data.toRecord(), nil
}
