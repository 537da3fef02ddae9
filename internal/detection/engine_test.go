// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package detection

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkessl/vigilium/internal/audit"
)

var engineTestBase = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// testRecord builds a record offset from the engine test base time.
func testRecord(action string, category audit.Category, result audit.Result, offset time.Duration) *audit.Record {
	return &audit.Record{
		ID:        fmt.Sprintf("rec-%d", offset),
		Action:    action,
		Category:  category,
		Result:    result,
		Actor:     audit.Actor{ID: "actor-1"},
		Request:   audit.RequestContext{IPAddress: "203.0.113.5"},
		CreatedAt: engineTestBase.Add(offset),
	}
}

func TestEngine_FailureBurst(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	// Failures 1 through 4 stay quiet; the 5th crosses the threshold
	// and so does every failure after it while the window holds.
	for i := 0; i < 4; i++ {
		rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second)
		if signals := e.Evaluate(rec); len(signals) != 0 {
			t.Fatalf("failure %d fired %v, want none", i+1, signals)
		}
	}

	fifth := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure, 40*time.Second)
	signals := e.Evaluate(fifth)
	if len(signals) != 1 || signals[0] != "repeated-failure-burst" {
		t.Fatalf("5th failure signals = %v, want [repeated-failure-burst]", signals)
	}

	sixth := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure, 50*time.Second)
	signals = e.Evaluate(sixth)
	if len(signals) != 1 || signals[0] != "repeated-failure-burst" {
		t.Fatalf("6th failure signals = %v, want [repeated-failure-burst]", signals)
	}
}

func TestEngine_FailureBurstPerIP(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	// Five distinct actors failing from one IP still trips the burst:
	// the IP dimension counts independently of the actor dimension.
	for i := 0; i < 5; i++ {
		rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second)
		rec.Actor.ID = fmt.Sprintf("actor-%d", i)

		signals := e.Evaluate(rec)
		if i < 4 && len(signals) != 0 {
			t.Fatalf("failure %d fired %v, want none", i+1, signals)
		}
		if i == 4 {
			if len(signals) != 1 || signals[0] != "repeated-failure-burst" {
				t.Fatalf("5th failure signals = %v, want [repeated-failure-burst]", signals)
			}
		}
	}
}

func TestEngine_FailureBurstWindowExpiry(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	for i := 0; i < 4; i++ {
		e.Evaluate(testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second))
	}

	// The 5th failure lands after the 5-minute burst window; earlier
	// failures no longer count.
	late := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure, 10*time.Minute)
	if signals := e.Evaluate(late); len(signals) != 0 {
		t.Fatalf("late failure signals = %v, want none", signals)
	}
}

func TestEngine_SuccessDoesNotFireBurst(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	for i := 0; i < 4; i++ {
		e.Evaluate(testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second))
	}
	// A success after four failures must not fire regardless of history.
	ok := testRecord("login", audit.CategorySecurity, audit.ResultSuccess, 40*time.Second)
	if signals := e.Evaluate(ok); len(signals) != 0 {
		t.Fatalf("success signals = %v, want none", signals)
	}
}

func TestEngine_GeoAnomaly(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BulkExport.Count = 100 // keep the read-volume rule out of the way
	e := NewEngine(cfg)

	for i := 0; i < 3; i++ {
		rec := testRecord("record-view", audit.CategoryView, audit.ResultSuccess,
			time.Duration(i)*time.Minute)
		rec.Geo = &audit.GeoLocation{Country: "DE"}
		if signals := e.Evaluate(rec); len(signals) != 0 {
			t.Fatalf("home-country event %d fired %v", i, signals)
		}
	}

	abroad := testRecord("record-view", audit.CategoryView, audit.ResultSuccess, 5*time.Minute)
	abroad.Geo = &audit.GeoLocation{Country: "BR"}
	signals := e.Evaluate(abroad)
	if len(signals) != 1 || signals[0] != "geo-anomaly" {
		t.Fatalf("foreign-country signals = %v, want [geo-anomaly]", signals)
	}
}

func TestEngine_GeoAnomalyNoGeoData(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BulkExport.Count = 100
	e := NewEngine(cfg)

	for i := 0; i < 3; i++ {
		rec := testRecord("record-view", audit.CategoryView, audit.ResultSuccess,
			time.Duration(i)*time.Minute)
		rec.Geo = &audit.GeoLocation{Country: "DE"}
		e.Evaluate(rec)
	}

	// Absence of geo data is never treated as an anomaly.
	blind := testRecord("record-view", audit.CategoryView, audit.ResultSuccess, 5*time.Minute)
	if signals := e.Evaluate(blind); len(signals) != 0 {
		t.Fatalf("geo-less record signals = %v, want none", signals)
	}
}

func TestEngine_GeoAnomalyFirstEvent(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	// First ever event has no history to deviate from.
	first := testRecord("record-view", audit.CategoryView, audit.ResultSuccess, 0)
	first.Geo = &audit.GeoLocation{Country: "JP"}
	if signals := e.Evaluate(first); len(signals) != 0 {
		t.Fatalf("first event signals = %v, want none", signals)
	}
}

func TestEngine_OffHoursAdmin(t *testing.T) {
	e := NewEngine(DefaultEngineConfig()) // business hours [7,20) UTC

	tests := []struct {
		name     string
		hour     int
		category audit.Category
		want     bool
	}{
		{"admin during business hours", 12, audit.CategoryAdmin, false},
		{"admin at opening hour", 7, audit.CategoryAdmin, false},
		{"admin at closing hour", 20, audit.CategoryAdmin, true},
		{"admin at 3am", 3, audit.CategoryAdmin, true},
		{"view at 3am", 3, audit.CategoryView, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord("config-change", tt.category, audit.ResultSuccess, 0)
			rec.Action = "config-change"
			if tt.category != audit.CategoryAdmin {
				rec.Action = "record-view"
			}
			rec.CreatedAt = time.Date(2026, 3, 2, tt.hour, 30, 0, 0, time.UTC)
			// Distinct actors so window state never couples the cases.
			rec.Actor.ID = "actor-" + tt.name

			signals := e.Evaluate(rec)
			fired := containsSignal(signals, "off-hours-admin")
			if fired != tt.want {
				t.Errorf("hour %d category %s fired = %v, want %v", tt.hour, tt.category, fired, tt.want)
			}
		})
	}
}

func TestEngine_BulkExport(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BulkExport.Count = 3
	cfg.BulkExport.Window = 10 * time.Minute
	e := NewEngine(cfg)

	// Two reads stay quiet, the third fires.
	for i := 0; i < 2; i++ {
		rec := testRecord("record-list", audit.CategoryView, audit.ResultSuccess,
			time.Duration(i)*time.Minute)
		if signals := e.Evaluate(rec); containsSignal(signals, "bulk-export") {
			t.Fatalf("read %d fired bulk-export early", i+1)
		}
	}

	third := testRecord("data-export", audit.CategoryDestructive, audit.ResultSuccess, 2*time.Minute)
	signals := e.Evaluate(third)
	if !containsSignal(signals, "bulk-export") {
		t.Fatalf("3rd read signals = %v, want bulk-export", signals)
	}
}

func TestEngine_BulkExportIgnoresMutations(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BulkExport.Count = 3
	e := NewEngine(cfg)

	for i := 0; i < 5; i++ {
		rec := testRecord("order-create", audit.CategoryMutation, audit.ResultSuccess,
			time.Duration(i)*time.Minute)
		if signals := e.Evaluate(rec); containsSignal(signals, "bulk-export") {
			t.Fatal("mutations must not count toward bulk export")
		}
	}
}

func TestEngine_Disabled(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())
	e.SetEnabled(false)

	for i := 0; i < 6; i++ {
		rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second)
		if signals := e.Evaluate(rec); signals != nil {
			t.Fatalf("disabled engine returned signals %v", signals)
		}
	}

	// Re-enabling starts from clean state: nothing was recorded while
	// disabled.
	e.SetEnabled(true)
	rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure, time.Minute)
	if signals := e.Evaluate(rec); len(signals) != 0 {
		t.Fatalf("first failure after re-enable fired %v", signals)
	}
}

func TestEngine_SignalsSorted(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.BulkExport.Count = 1
	e := NewEngine(cfg)

	// A failed read that trips both the bulk-export and failure-burst
	// rules must report its signals in sorted order.
	for i := 0; i < 4; i++ {
		e.Evaluate(testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second))
	}
	rec := testRecord("record-view", audit.CategoryView, audit.ResultFailure, 40*time.Second)
	signals := e.Evaluate(rec)
	if len(signals) != 2 {
		t.Fatalf("signals = %v, want two", signals)
	}
	if signals[0] != "bulk-export" || signals[1] != "repeated-failure-burst" {
		t.Errorf("signals = %v, want sorted [bulk-export repeated-failure-burst]", signals)
	}
}

func TestEngine_RuleLookup(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	for _, rt := range []RuleType{RuleRepeatedFailureBurst, RuleGeoAnomaly, RuleOffHoursAdmin, RuleBulkExport} {
		rule, ok := e.Rule(rt)
		if !ok {
			t.Errorf("Rule(%s) not found", rt)
			continue
		}
		if rule.Type() != rt {
			t.Errorf("Rule(%s).Type() = %s", rt, rule.Type())
		}
	}
	if _, ok := e.Rule(RuleType("nope")); ok {
		t.Error("unknown rule type must not resolve")
	}
}

func TestEngine_DisabledRuleSkipped(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())
	rule, _ := e.Rule(RuleRepeatedFailureBurst)
	rule.SetEnabled(false)

	for i := 0; i < 6; i++ {
		rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second)
		if signals := e.Evaluate(rec); containsSignal(signals, "repeated-failure-burst") {
			t.Fatal("disabled rule fired")
		}
	}
}

func containsSignal(signals []string, want string) bool {
	for _, s := range signals {
		if s == want {
			return true
		}
	}
	return false
}

func TestEngine_ConcurrentFailuresShareWindow(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	// Five simultaneous failures for one actor: each evaluation appends
	// and reads the window in one critical section, so whichever lands
	// last sees all five and must fire the burst.
	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
				time.Duration(i)*time.Millisecond)
			if containsSignal(e.Evaluate(rec), "repeated-failure-burst") {
				fired.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if fired.Load() == 0 {
		t.Fatal("no evaluation fired repeated-failure-burst across 5 concurrent failures")
	}
}

// failingRule always errors, standing in for corrupt window state.
type failingRule struct{}

func (failingRule) Type() RuleType    { return RuleType("failing") }
func (failingRule) Enabled() bool     { return true }
func (failingRule) SetEnabled(_ bool) {}
func (failingRule) Check(_ *audit.Record, _, _ []Observation) (bool, error) {
	return false, errors.New("window state decode")
}

func TestEngine_RuleErrorResetsWindow(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())
	e.rules = append([]Rule{failingRule{}}, e.rules...)

	for i := 0; i < 4; i++ {
		rec := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second)
		e.Evaluate(rec)
	}

	// History was wiped on every evaluation, so the 5th failure arrives
	// on a fresh window, yet the rules after the failing one still run
	// against the snapshots taken for this record.
	fifth := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure, 40*time.Second)
	if signals := e.Evaluate(fifth); len(signals) != 0 {
		t.Fatalf("5th failure fired %v after per-record resets, want none", signals)
	}

	if snap := e.windows.Snapshot(actorKey("actor-1"), fifth.CreatedAt); len(snap) != 0 {
		t.Errorf("actor window holds %d entries after rule error, want 0", len(snap))
	}
	if snap := e.windows.Snapshot(ipKey("203.0.113.5"), fifth.CreatedAt); len(snap) != 0 {
		t.Errorf("ip window holds %d entries after rule error, want 0", len(snap))
	}
}

func TestEngine_RuleErrorKeepsRemainingRules(t *testing.T) {
	e := NewEngine(DefaultEngineConfig())

	for i := 0; i < 4; i++ {
		e.Evaluate(testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure,
			time.Duration(i)*10*time.Second))
	}

	// Inject the failing rule only for the 5th failure. The burst rule
	// runs after it on the snapshots already taken, which include the
	// four accumulated failures plus this one.
	e.rules = append([]Rule{failingRule{}}, e.rules...)
	fifth := testRecord("login-failed", audit.CategorySecurity, audit.ResultFailure, 40*time.Second)
	signals := e.Evaluate(fifth)
	if !containsSignal(signals, "repeated-failure-burst") {
		t.Fatalf("5th failure signals = %v, want repeated-failure-burst despite rule error", signals)
	}
}
