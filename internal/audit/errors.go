// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package audit

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store.Get when no record matches the ID.
var ErrNotFound = errors.New("audit: record not found")

// ValidationError reports a malformed or incomplete inbound event. The
// event is rejected before scoring; nothing is persisted.
type ValidationError struct {
	// Field that failed validation, if attributable to one field.
	Field string

	// Reason in human-readable form.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("audit: invalid event: %s", e.Reason)
	}
	return fmt.Sprintf("audit: invalid event: field %q: %s", e.Field, e.Reason)
}

// ScoringError reports a failure during risk assessment. Scoring failures
// do not drop the record; it is persisted with fail-closed defaults.
type ScoringError struct {
	Action string
	Err    error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("audit: scoring %q: %v", e.Action, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// WriteError reports a persistence failure for a batch after retries were
// exhausted. Batch carries the records so the caller can divert them to
// the fallback path.
type WriteError struct {
	Batch   []*Record
	Retries int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit: writing batch of %d after %d retries: %v",
		len(e.Batch), e.Retries, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// DetectorStateError reports an internal failure in the suspicious
// activity detector. Detection is advisory: the pipeline logs the error
// and continues with no signals for the record.
type DetectorStateError struct {
	Detector string
	Key      string
	Err      error
}

func (e *DetectorStateError) Error() string {
	return fmt.Sprintf("audit: detector %s (key %s): %v", e.Detector, e.Key, e.Err)
}

func (e *DetectorStateError) Unwrap() error { return e.Err }

// SweepError reports a retention sweep failure. Sweeps are retried on the
// next interval; a failed sweep never leaves partial deletions beyond the
// completed batches.
type SweepError struct {
	Deleted int64
	Err     error
}

func (e *SweepError) Error() string {
	return fmt.Sprintf("audit: retention sweep after %d deletions: %v", e.Deleted, e.Err)
}

func (e *SweepError) Unwrap() error { return e.Err }
