// Package usage provides advisory token-usage measurement for the
// Mozaiks control plane. Runtimes report incremental deltas while a
// workflow runs and a single summary when it finishes; the meter turns
// those reports into bus events for downstream analytics and billing
// consumers.
//
// Usage is measurement, not enforcement: nothing here blocks a workflow,
// and a lost event never fails the reporting request.
package usage

import (
	"context"
	"log/slog"

	"github.com/mozaiks/control-plane/pkg/events"
)

// Meter records advisory usage reports onto the event bus.
type Meter struct {
	bus *events.Bus
}

// NewMeter creates a Meter over the given bus.
func NewMeter(bus *events.Bus) *Meter {
	return &Meter{bus: bus}
}

// Delta is one incremental usage report for a running workflow session.
type Delta struct {
	AppID        string `json:"app_id"`
	ChatID       string `json:"chat_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Summary is the final usage report for a finished workflow session.
type Summary struct {
	AppID       string `json:"app_id"`
	ChatID      string `json:"chat_id"`
	TotalTokens int    `json:"total_tokens"`
	Status      string `json:"status"`
}

// RecordDelta publishes a usage delta event. Publication is best-effort;
// a full queue drops the event and logs at debug level.
func (m *Meter) RecordDelta(ctx context.Context, delta Delta) {
	event := events.New(events.TypeUsageDelta, delta.AppID, map[string]any{
		"chat_id":       delta.ChatID,
		"input_tokens":  delta.InputTokens,
		"output_tokens": delta.OutputTokens,
	})
	if m.bus.Publish(event) == 0 {
		slog.DebugContext(ctx, "usage: delta event not delivered",
			"app_id", delta.AppID,
			"chat_id", delta.ChatID,
		)
	}
}

// RecordSummary publishes a usage summary event. Publication is
// best-effort.
func (m *Meter) RecordSummary(ctx context.Context, summary Summary) {
	event := events.New(events.TypeUsageSummary, summary.AppID, map[string]any{
		"chat_id":      summary.ChatID,
		"total_tokens": summary.TotalTokens,
		"status":       summary.Status,
	})
	if m.bus.Publish(event) == 0 {
		slog.DebugContext(ctx, "usage: summary event not delivered",
			"app_id", summary.AppID,
			"chat_id", summary.ChatID,
		)
	}
}
