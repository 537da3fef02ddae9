// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package api

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mkessl/vigilium/internal/audit"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/pipeline"
	ws "github.com/mkessl/vigilium/internal/websocket"
)

// maxEventPayload bounds the inbound event body.
const maxEventPayload = 1 << 20 // 1 MB

// Handler serves the audit API.
type Handler struct {
	pipeline *pipeline.Pipeline
	store    audit.Store
	hub      *ws.Hub
	jwt      *JWTManager

	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. jwtManager may be nil when auth is
// disabled.
func NewHandler(p *pipeline.Pipeline, store audit.Store, hub *ws.Hub, jwtManager *JWTManager) *Handler {
	return &Handler{
		pipeline: p,
		store:    store,
		hub:      hub,
		jwt:      jwtManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// IngestEvent accepts one audit event, runs it through the pipeline,
// and returns 202: the record is queued for batched persistence.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventPayload))
	if err != nil {
		rw.BadRequest("Failed to read request body")
		return
	}

	ev, err := audit.DecodeEvent(body)
	if err != nil {
		rw.ValidationError("Malformed event payload", err.Error())
		return
	}

	rec, err := h.pipeline.Ingest(r.Context(), ev)
	if err != nil {
		var verr *audit.ValidationError
		if errors.As(err, &verr) {
			rw.ValidationError("Event rejected", map[string]string{
				"field":  verr.Field,
				"reason": verr.Reason,
			})
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Ingestion failed")
		rw.InternalError("Failed to ingest event")
		return
	}

	rw.Accepted(map[string]interface{}{
		"id":             rec.ID,
		"risk_score":     rec.RiskScore,
		"severity":       rec.Severity,
		"signals":        rec.Signals,
		"is_suspicious":  rec.IsSuspicious,
		"is_high_risk":   rec.IsHighRisk,
		"correlation_id": rec.CorrelationID,
	})
}

// ListRecords returns records matching the query filters with
// pagination.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseQueryFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	if records == nil {
		records = []audit.Record{}
	}
	rw.SuccessWithPagination(records, &PaginationMeta{
		Total:   total,
		Count:   len(records),
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		HasMore: int64(filter.Offset+len(records)) < total,
	})
}

// GetRecord returns one record by ID.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			rw.NotFound("Record not found: " + id)
			return
		}
		rw.DatabaseError(err)
		return
	}
	rw.Success(rec)
}

// GetChain returns the correlation chain containing the record, oldest
// first.
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	id := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			rw.NotFound("Record not found: " + id)
			return
		}
		rw.DatabaseError(err)
		return
	}

	chain, err := h.store.Chain(r.Context(), rec.CorrelationID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if chain == nil {
		chain = []audit.Record{}
	}
	rw.Success(map[string]interface{}{
		"correlation_id": rec.CorrelationID,
		"records":        chain,
	})
}

// GetStats returns aggregate statistics over a bounded time range.
// Callers that supply no range get the default window ending now.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	opts, err := parseStatsOptions(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	stats, err := h.store.Stats(r.Context(), opts)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(stats)
}

// ExportRecords streams matching records as JSON or CSV.
func (h *Handler) ExportRecords(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	filter, err := parseQueryFilter(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	// Exports get a larger page than the interactive default.
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 10000
	}

	records, err := h.store.Query(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "", "json":
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-records.json"`)
		if records == nil {
			records = []audit.Record{}
		}
		if err := json.NewEncoder(w).Encode(records); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("Export encoding failed")
		}
	case "csv":
		h.exportCSV(w, r, records)
	default:
		rw.BadRequest("Unsupported export format: " + format)
	}
}

// csvHeader lists the flat columns of the CSV export.
var csvHeader = []string{
	"id", "action", "category", "result", "severity",
	"actor_id", "ip_address", "resource_type", "resource_id",
	"risk_score", "signals", "is_suspicious", "is_high_risk",
	"created_at", "retention_date", "correlation_id",
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request, records []audit.Record) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-records.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("CSV export failed")
		return
	}
	for i := range records {
		rec := &records[i]
		row := []string{
			rec.ID,
			rec.Action,
			string(rec.Category),
			string(rec.Result),
			string(rec.Severity),
			rec.Actor.ID,
			rec.Request.IPAddress,
			rec.Resource.Type,
			rec.Resource.ID,
			strconv.Itoa(rec.RiskScore),
			strings.Join(rec.Signals, ";"),
			strconv.FormatBool(rec.IsSuspicious),
			strconv.FormatBool(rec.IsHighRisk),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.RetentionDate.UTC().Format(time.RFC3339),
			rec.CorrelationID,
		}
		if err := cw.Write(row); err != nil {
			logging.Ctx(r.Context()).Error().Err(err).Msg("CSV export failed")
			return
		}
	}
	cw.Flush()
}

// loginRequest is the login payload.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates admin credentials and issues an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if h.jwt == nil {
		rw.BadRequest("Authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		rw.BadRequest("Malformed login payload")
		return
	}
	if !h.jwt.Authenticate(req.Username, req.Password) {
		rw.Unauthorized("Invalid credentials")
		return
	}

	token, err := h.jwt.GenerateToken(req.Username, "admin")
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Token generation failed")
		rw.InternalError("Failed to issue token")
		return
	}
	rw.Success(map[string]interface{}{
		"token":      token,
		"expires_in": int(h.jwt.TokenExpiry().Seconds()),
	})
}

// AlertStream upgrades the connection and attaches it to the alert hub.
func (h *Handler) AlertStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// Live is the liveness probe.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "ok"})
}

// Ready is the readiness probe; it checks storage connectivity.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if err := h.store.Ping(r.Context()); err != nil {
		rw.ServiceUnavailable("Storage not reachable")
		return
	}
	rw.Success(map[string]string{"status": "ready"})
}

// Health is the composite health report: storage, writer, detection,
// and alert-stream state in one payload.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	storage := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		storage = "unreachable"
	}

	ph := h.pipeline.HealthReport()
	report := map[string]interface{}{
		"status":            "ok",
		"storage":           storage,
		"detection_enabled": ph.DetectionEnabled,
		"writer_buffered":   ph.WriterBuffered,
		"alert_clients":     h.hub.ClientCount(),
	}
	if storage != "ok" {
		report["status"] = "degraded"
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable,
			"Storage not reachable", report)
		return
	}
	rw.Success(report)
}
