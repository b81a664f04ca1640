// Package entitlements manages per-app entitlement records for the
// Mozaiks control plane. Records arrive from the billing gateway via the
// sync endpoint and are upserted keyed by app ID. Apps that never sync
// receive permissive open-source defaults, so a self-hosted deployment
// works without a billing gateway at all.
package entitlements

import "time"

// OSSDefaultTier is the plan tier reported for apps that have never
// synced an entitlement record.
const OSSDefaultTier = "unlimited"

// Plan describes the subscription plan attached to an app.
type Plan struct {
	// Tier is the plan tier key, e.g. "unlimited", "starter", "pro".
	Tier string `json:"tier"`

	// Name is the human-readable plan name.
	Name string `json:"name,omitempty"`

	// ExpiresAt is the plan expiry, when the plan has one.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// TokenBudget bounds token consumption for an app. Zero values mean
// unlimited.
type TokenBudget struct {
	// MonthlyTokens is the monthly token allowance.
	MonthlyTokens int64 `json:"monthly_tokens,omitempty"`

	// PerSessionTokens is the per-workflow-session token allowance.
	PerSessionTokens int64 `json:"per_session_tokens,omitempty"`
}

// Record is the entitlement state for one app, keyed by AppID and
// replaced wholesale on each sync (last write wins).
type Record struct {
	// AppID identifies the app this record belongs to.
	AppID string `json:"app_id" db:"app_id"`

	// Plan is the app's subscription plan.
	Plan Plan `json:"plan"`

	// TokenBudget bounds the app's token consumption.
	TokenBudget TokenBudget `json:"token_budget"`

	// Features maps feature flag names to their enabled state.
	Features map[string]bool `json:"features"`

	// RateLimits maps rate-limit names to their per-window allowance.
	RateLimits map[string]int `json:"rate_limits"`

	// SyncedAt is the UTC timestamp of the sync that produced this
	// record. Zero for OSS default records that were never synced.
	SyncedAt time.Time `json:"synced_at"`
}

// OSSDefault returns the permissive record used for apps that have never
// synced: unlimited tier, no feature flags, no rate limits.
func OSSDefault(appID string) *Record {
	return &Record{
		AppID: appID,
		Plan: Plan{
			Tier: OSSDefaultTier,
			Name: "Open Source",
		},
		Features:   map[string]bool{},
		RateLimits: map[string]int{},
	}
}
