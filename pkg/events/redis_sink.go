package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultChannelPrefix is the Redis pub/sub channel prefix for the event
// bridge. The full channel name is the prefix plus the app ID, e.g.
// "mozaiks:events:app-1".
const DefaultChannelPrefix = "mozaiks:events:"

// Publisher is the slice of the Redis client the sink needs. It is
// satisfied by [redis.Client] from pkg/clients/redis.
type Publisher interface {
	// Publish posts a message to a pub/sub channel and returns the
	// number of subscribers that received it.
	Publish(ctx context.Context, channel string, message interface{}) (int64, error)
}

// RedisSink bridges advisory events to per-app Redis pub/sub channels.
// Notification and analytics consumers subscribe to the channel for the
// apps they care about.
type RedisSink struct {
	publisher Publisher
	prefix    string
}

// NewRedisSink creates a RedisSink over the given publisher. An empty
// prefix uses [DefaultChannelPrefix]; a prefix without a trailing ":"
// gets one, so "mozaiks:events" and "mozaiks:events:" name the same
// channels.
func NewRedisSink(publisher Publisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisSink{publisher: publisher, prefix: prefix}
}

// Deliver marshals the event to JSON and publishes it to the app's
// channel. Publish failures are returned as-is so the consumer's retry
// policy applies.
func (s *RedisSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: failed to marshal event %s: %w", event.ID, err)
	}

	channel := s.prefix + event.AppID
	if _, err := s.publisher.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("events: failed to publish event %s to %s: %w", event.ID, channel, err)
	}
	return nil
}
