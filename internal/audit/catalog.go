// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package audit

import "sort"

// Category groups actions by operational impact. The category drives both
// the base risk score and the severity policy table.
type Category string

const (
	// CategoryView covers read-only access.
	CategoryView Category = "view"

	// CategoryMutation covers standard create/update operations.
	CategoryMutation Category = "mutation"

	// CategoryFinancial covers payment and refund operations.
	CategoryFinancial Category = "financial"

	// CategoryDestructive covers deletes and bulk exports.
	CategoryDestructive Category = "destructive"

	// CategoryAdmin covers privilege and configuration changes.
	CategoryAdmin Category = "admin"

	// CategorySecurity covers authentication and session operations
	// with direct security relevance.
	CategorySecurity Category = "security"

	// CategoryUnknown marks actions missing from the catalog. Unknown
	// actions are scored closed: high risk, flagged suspicious.
	CategoryUnknown Category = "unknown"
)

// actionInfo is one catalog entry.
type actionInfo struct {
	category Category

	// alwaysAttributed actions must carry an actor ID even when the
	// caller claims the action was anonymous.
	alwaysAttributed bool
}

// catalog enumerates every recognized action tag. Actions use
// noun-verb tags with hyphen separators.
var catalog = map[string]actionInfo{
	// Security / session.
	"login":          {category: CategorySecurity},
	"logout":         {category: CategorySecurity},
	"login-failed":   {category: CategorySecurity},
	"password-reset": {category: CategorySecurity, alwaysAttributed: true},
	"mfa-challenge":  {category: CategorySecurity},
	"token-refresh":  {category: CategorySecurity},

	// Read-only access.
	"record-view":   {category: CategoryView},
	"record-list":   {category: CategoryView},
	"record-search": {category: CategoryView},
	"report-view":   {category: CategoryView},

	// Standard mutations.
	"order-create":   {category: CategoryMutation},
	"order-update":   {category: CategoryMutation},
	"profile-update": {category: CategoryMutation},
	"record-create":  {category: CategoryMutation},
	"record-update":  {category: CategoryMutation},
	"comment-create": {category: CategoryMutation},

	// Financial.
	"payment-process": {category: CategoryFinancial, alwaysAttributed: true},
	"payment-refund":  {category: CategoryFinancial, alwaysAttributed: true},
	"payout-initiate": {category: CategoryFinancial, alwaysAttributed: true},
	"invoice-issue":   {category: CategoryFinancial},

	// Destructive.
	"record-delete": {category: CategoryDestructive},
	"order-cancel":  {category: CategoryDestructive},
	"data-export":   {category: CategoryDestructive, alwaysAttributed: true},
	"data-purge":    {category: CategoryDestructive, alwaysAttributed: true},

	// Admin.
	"permission-change": {category: CategoryAdmin, alwaysAttributed: true},
	"role-assign":       {category: CategoryAdmin, alwaysAttributed: true},
	"user-create":       {category: CategoryAdmin, alwaysAttributed: true},
	"user-disable":      {category: CategoryAdmin, alwaysAttributed: true},
	"config-change":     {category: CategoryAdmin, alwaysAttributed: true},
	"api-key-create":    {category: CategoryAdmin, alwaysAttributed: true},
	"api-key-revoke":    {category: CategoryAdmin, alwaysAttributed: true},
}

// Lookup resolves an action tag against the catalog. Unknown actions
// resolve to CategoryUnknown; callers decide how to handle them.
func Lookup(action string) (Category, bool) {
	info, ok := catalog[action]
	if !ok {
		return CategoryUnknown, false
	}
	return info.category, true
}

// AlwaysAttributed reports whether the action requires an actor ID.
// Unknown actions require attribution.
func AlwaysAttributed(action string) bool {
	info, ok := catalog[action]
	if !ok {
		return true
	}
	return info.alwaysAttributed
}

// KnownActions returns the sorted set of catalog action tags. Used by the
// query surface to validate filters.
func KnownActions() []string {
	out := make([]string, 0, len(catalog))
	for a := range catalog {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
