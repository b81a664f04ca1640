package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozaiks/control-plane/pkg/events"
)

func TestMeter_RecordDelta(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()
	defer bus.Close()
	received, cancel := bus.Subscribe(4)
	defer cancel()

	meter := NewMeter(bus)
	meter.RecordDelta(context.Background(), Delta{
		AppID:        "app-1",
		ChatID:       "chat-1",
		InputTokens:  120,
		OutputTokens: 340,
	})

	event := <-received
	assert.Equal(t, events.TypeUsageDelta, event.Type)
	assert.Equal(t, "app-1", event.AppID)
	assert.Equal(t, "chat-1", event.Payload["chat_id"])
	assert.Equal(t, 120, event.Payload["input_tokens"])
	assert.Equal(t, 340, event.Payload["output_tokens"])
}

func TestMeter_RecordSummary(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()
	defer bus.Close()
	received, cancel := bus.Subscribe(4)
	defer cancel()

	meter := NewMeter(bus)
	meter.RecordSummary(context.Background(), Summary{
		AppID:       "app-1",
		ChatID:      "chat-1",
		TotalTokens: 4600,
		Status:      "completed",
	})

	event := <-received
	assert.Equal(t, events.TypeUsageSummary, event.Type)
	assert.Equal(t, 4600, event.Payload["total_tokens"])
	assert.Equal(t, "completed", event.Payload["status"])
}

func TestMeter_RecordingNeverFailsWithoutSubscribers(t *testing.T) {
	t.Parallel()
	bus := events.NewBus()
	defer bus.Close()

	meter := NewMeter(bus)
	require.NotPanics(t, func() {
		meter.RecordDelta(context.Background(), Delta{AppID: "app-1"})
		meter.RecordSummary(context.Background(), Summary{AppID: "app-1"})
	})
}
