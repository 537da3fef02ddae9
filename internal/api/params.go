// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mkessl/vigilium/internal/audit"
)

// maxPageLimit caps interactive queries regardless of what the caller
// asks for.
const maxPageLimit = 1000

// parseQueryFilter builds an audit.QueryFilter from URL query
// parameters. Unknown parameters are ignored; malformed values are
// rejected.
func parseQueryFilter(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()
	filter := audit.DefaultQueryFilter()

	if v := q.Get("action"); v != "" {
		filter.Actions = splitCSV(v)
	}
	if v := q.Get("result"); v != "" {
		for _, s := range splitCSV(v) {
			res := audit.Result(strings.ToUpper(s))
			if !res.Valid() {
				return filter, fmt.Errorf("invalid result: %s", s)
			}
			filter.Results = append(filter.Results, res)
		}
	}
	if v := q.Get("min_severity"); v != "" {
		sev := audit.Severity(strings.ToUpper(v))
		if sev.Rank() < 0 {
			return filter, fmt.Errorf("invalid min_severity: %s", v)
		}
		filter.MinSeverity = sev
	}
	if v := q.Get("max_severity"); v != "" {
		sev := audit.Severity(strings.ToUpper(v))
		if sev.Rank() < 0 {
			return filter, fmt.Errorf("invalid max_severity: %s", v)
		}
		filter.MaxSeverity = sev
	}

	filter.ActorID = q.Get("actor_id")
	filter.IPAddress = q.Get("ip_address")
	filter.ResourceText = q.Get("resource")
	filter.CorrelationID = q.Get("correlation_id")

	var err error
	if filter.Suspicious, err = parseBoolParam(q, "suspicious"); err != nil {
		return filter, err
	}
	if filter.HighRisk, err = parseBoolParam(q, "high_risk"); err != nil {
		return filter, err
	}
	if filter.StartTime, err = parseTimeParam(q, "start_time"); err != nil {
		return filter, err
	}
	if filter.EndTime, err = parseTimeParam(q, "end_time"); err != nil {
		return filter, err
	}
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		return filter, fmt.Errorf("end_time precedes start_time")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, fmt.Errorf("invalid limit: %s", v)
		}
		if n > maxPageLimit {
			n = maxPageLimit
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset: %s", v)
		}
		filter.Offset = n
	}
	if v := q.Get("order_by"); v != "" {
		filter.OrderBy = v
	}
	if v := q.Get("order"); v != "" {
		switch strings.ToLower(v) {
		case "asc":
			filter.OrderDesc = false
		case "desc":
			filter.OrderDesc = true
		default:
			return filter, fmt.Errorf("invalid order: %s", v)
		}
	}

	return filter, nil
}

// parseStatsOptions builds audit.StatsOptions from URL query
// parameters.
func parseStatsOptions(r *http.Request) (audit.StatsOptions, error) {
	q := r.URL.Query()
	var opts audit.StatsOptions

	start, err := parseTimeParam(q, "start_time")
	if err != nil {
		return opts, err
	}
	end, err := parseTimeParam(q, "end_time")
	if err != nil {
		return opts, err
	}
	if start != nil {
		opts.StartTime = *start
	}
	if end != nil {
		opts.EndTime = *end
	}

	if v := q.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return opts, fmt.Errorf("invalid top: %s", v)
		}
		opts.TopN = n
	}
	if v := q.Get("bucket"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return opts, fmt.Errorf("invalid bucket: %s", v)
		}
		opts.BucketSize = d
	}

	opts.Normalize(time.Now().UTC())
	if opts.EndTime.Before(opts.StartTime) {
		return opts, fmt.Errorf("end_time precedes start_time")
	}
	return opts, nil
}

func parseBoolParam(q url.Values, key string) (*bool, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %s", key, v)
	}
	return &b, nil
}

func parseTimeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: must be RFC3339", key)
	}
	t = t.UTC()
	return &t, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
