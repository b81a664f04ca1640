package entitlements

import (
	"context"
	"log/slog"
	"time"

	"github.com/mozaiks/control-plane/pkg/events"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// SyncRequest is the body of an entitlement sync call from the billing
// gateway.
type SyncRequest struct {
	// Version is the sync protocol version. Informational; the handler
	// accepts any value.
	Version string `json:"version,omitempty"`

	// AppID identifies the app being synced. Required.
	AppID string `json:"app_id"`

	// TenantID identifies the billing tenant. Informational.
	TenantID string `json:"tenant_id,omitempty"`

	// Plan is the app's subscription plan. Plan.Tier is required.
	Plan Plan `json:"plan"`

	// TokenBudget bounds the app's token consumption.
	TokenBudget TokenBudget `json:"token_budget"`

	// Features maps feature flag names to their enabled state.
	Features map[string]bool `json:"features"`

	// RateLimits maps rate-limit names to their per-window allowance.
	RateLimits map[string]int `json:"rate_limits"`

	// CorrelationID ties the sync to the gateway-side operation.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Validate checks the request for required fields.
func (r *SyncRequest) Validate() error {
	if r.AppID == "" {
		return cperr.New(cperr.CodeValidationRequired,
			"entitlements: sync request app_id is required")
	}
	if r.Plan.Tier == "" {
		return cperr.New(cperr.CodeValidationRequired,
			"entitlements: sync request plan.tier is required")
	}
	return nil
}

// SyncResult reports the outcome of a sync. PreviousTier is empty when
// the app had never synced before.
type SyncResult struct {
	Status       string    `json:"status"`
	AppID        string    `json:"app_id"`
	SyncedAt     time.Time `json:"synced_at"`
	PreviousTier string    `json:"previous_tier,omitempty"`
	NewTier      string    `json:"new_tier"`
}

// SyncStatusSynced is the status reported for a successful sync.
const SyncStatusSynced = "synced"

// SyncHandler applies entitlement syncs and resolves entitlement
// lookups. The handler is the only writer of the store; reads fall back
// to [OSSDefault] for apps that never synced.
type SyncHandler struct {
	store Store
	bus   *events.Bus
}

// NewSyncHandler creates a SyncHandler. bus may be nil when no advisory
// events are wanted.
func NewSyncHandler(store Store, bus *events.Bus) *SyncHandler {
	return &SyncHandler{store: store, bus: bus}
}

// HandleSync validates and applies one sync request. The upsert is
// idempotent: repeating a request leaves the same record in place.
// Concurrent syncs for the same app follow last-write-wins with no
// ordering guarantee.
func (h *SyncHandler) HandleSync(ctx context.Context, req *SyncRequest) (*SyncResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	previousTier := ""
	if previous, found, err := h.store.Get(ctx, req.AppID); err != nil {
		return nil, err
	} else if found {
		previousTier = previous.Plan.Tier
	}

	record := &Record{
		AppID:       req.AppID,
		Plan:        req.Plan,
		TokenBudget: req.TokenBudget,
		Features:    req.Features,
		RateLimits:  req.RateLimits,
		SyncedAt:    time.Now().UTC(),
	}
	if record.Features == nil {
		record.Features = map[string]bool{}
	}
	if record.RateLimits == nil {
		record.RateLimits = map[string]int{}
	}

	if err := h.store.Upsert(ctx, record); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "entitlements: sync applied",
		"app_id", req.AppID,
		"previous_tier", previousTier,
		"new_tier", record.Plan.Tier,
	)

	if h.bus != nil {
		h.bus.Publish(events.New(events.TypeEntitlementSynced, req.AppID, map[string]any{
			"previous_tier": previousTier,
			"new_tier":      record.Plan.Tier,
		}))
	}

	return &SyncResult{
		Status:       SyncStatusSynced,
		AppID:        req.AppID,
		SyncedAt:     record.SyncedAt,
		PreviousTier: previousTier,
		NewTier:      record.Plan.Tier,
	}, nil
}

// GetEntitlements returns the app's entitlement record, falling back to
// [OSSDefault] when the app has never synced. Store errors surface to
// the caller; the OSS fallback applies only to a clean miss.
func (h *SyncHandler) GetEntitlements(ctx context.Context, appID string) (*Record, error) {
	record, found, err := h.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if !found {
		return OSSDefault(appID), nil
	}
	return record, nil
}
