// Package events provides the advisory event pipeline for the Mozaiks
// control plane: a bounded, non-blocking in-process [Bus], a background
// [Consumer] that owns delivery retry, and a [RedisSink] that bridges
// events to per-app Redis channels for notification and analytics
// consumers.
//
// Events are advisory. Publishing never blocks the request path: when the
// queue for a subscriber is full, the event is dropped and counted rather
// than applying backpressure. Nothing in the control plane makes an
// enforcement decision based on event delivery.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of advisory event.
type Type string

// Event types emitted by the control plane.
const (
	// TypeWorkflowHandoff is emitted when a workflow launch hands off to
	// the downstream runtime with a freshly minted execution token.
	TypeWorkflowHandoff Type = "workflow.handoff"

	// TypeUsageDelta is emitted for incremental token-usage reports
	// during a workflow run.
	TypeUsageDelta Type = "usage.delta"

	// TypeUsageSummary is emitted once when a workflow run finishes,
	// carrying the run's total usage.
	TypeUsageSummary Type = "usage.summary"

	// TypeEntitlementSynced is emitted after a successful entitlement
	// sync upsert.
	TypeEntitlementSynced Type = "entitlement.synced"
)

// Event is a single advisory event. Events are immutable after creation;
// producers build them with [New] and hand them to [Bus.Publish].
type Event struct {
	// ID is a unique identifier for this event (UUID v4).
	ID string `json:"id"`

	// Type identifies the event kind.
	Type Type `json:"type"`

	// AppID scopes the event to an app. The Redis bridge uses it to pick
	// the per-app channel.
	AppID string `json:"app_id"`

	// OccurredAt is the UTC timestamp when the event was created.
	OccurredAt time.Time `json:"occurred_at"`

	// Payload carries event-type-specific fields.
	Payload map[string]any `json:"payload,omitempty"`
}

// New creates an Event with a generated ID and UTC timestamp.
func New(eventType Type, appID string, payload map[string]any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		AppID:      appID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}
