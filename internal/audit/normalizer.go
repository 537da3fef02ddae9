// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package audit

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event is a raw inbound audit event as submitted by an instrumented
// service. The normalizer validates it and produces a Record skeleton.
type Event struct {
	Action string `json:"action" validate:"required,max=64"`
	Result Result `json:"result" validate:"required"`

	Actor     Actor          `json:"actor"`
	Request   RequestContext `json:"request"`
	Resource  Resource       `json:"resource"`
	Technical Technical      `json:"technical"`
	Geo       *GeoLocation   `json:"geo,omitempty"`

	// OccurredAt is the event time reported by the caller. When zero,
	// ingestion time is used.
	OccurredAt time.Time `json:"occurred_at,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty" validate:"omitempty,max=128"`
	ParentAuditID string `json:"parent_audit_id,omitempty" validate:"omitempty,uuid4"`
}

// Normalizer validates inbound events and produces record skeletons with
// identity, timestamps, category, and retention date assigned. Risk
// fields are left zero for the scorer.
type Normalizer struct {
	validate  *validator.Validate
	retention time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewNormalizer creates a Normalizer with the given retention window.
func NewNormalizer(retention time.Duration) *Normalizer {
	return &Normalizer{
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		retention: retention,
		now:       time.Now,
	}
}

// maxClockSkew bounds how far in the future a caller-supplied event time
// may be before it is clamped to ingestion time.
const maxClockSkew = 5 * time.Minute

// Normalize validates the event and returns a record skeleton. The
// returned record has no risk fields set; the scorer fills those in.
func (n *Normalizer) Normalize(ev *Event) (*Record, error) {
	if ev == nil {
		return nil, &ValidationError{Reason: "event is nil"}
	}

	if err := n.validate.Struct(ev); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &ValidationError{
				Field:  strings.ToLower(fe.Field()),
				Reason: "failed " + fe.Tag() + " constraint",
			}
		}
		return nil, &ValidationError{Reason: err.Error()}
	}

	action := strings.ToLower(strings.TrimSpace(ev.Action))
	if action == "" {
		return nil, &ValidationError{Field: "action", Reason: "must not be empty"}
	}
	if !ev.Result.Valid() {
		return nil, &ValidationError{Field: "result", Reason: "must be SUCCESS, FAILURE, or PARTIAL"}
	}
	if ev.Request.IPAddress == "" {
		return nil, &ValidationError{Field: "ip_address", Reason: "must not be empty"}
	}

	category, _ := Lookup(action)
	if AlwaysAttributed(action) && ev.Actor.ID == "" {
		return nil, &ValidationError{Field: "actor.id", Reason: "action " + action + " requires an attributed actor"}
	}

	now := n.now().UTC()
	createdAt := ev.OccurredAt.UTC()
	if createdAt.IsZero() || createdAt.After(now.Add(maxClockSkew)) {
		createdAt = now
	}

	rec := &Record{
		ID:            uuid.NewString(),
		Action:        action,
		Category:      category,
		Result:        ev.Result,
		Actor:         ev.Actor,
		Request:       ev.Request,
		Resource:      ev.Resource,
		Technical:     ev.Technical,
		Geo:           ev.Geo,
		CreatedAt:     createdAt,
		RetentionDate: createdAt.Add(n.retention),
		CorrelationID: ev.CorrelationID,
		ParentAuditID: ev.ParentAuditID,
	}
	if rec.CorrelationID == "" {
		rec.CorrelationID = rec.ID
	}
	return rec, nil
}

// DecodeEvent parses a JSON payload into an Event, rejecting unknown
// top-level structure errors as validation failures.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	return &ev, nil
}
