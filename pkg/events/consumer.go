package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Delivery retry defaults. The consumer retries sink delivery with
// exponential backoff and jitter; after the attempt budget is exhausted
// the event is logged and dropped, never re-queued, so a broken sink
// cannot wedge the pipeline.
const (
	// DefaultMaxDeliveryTries is the total number of delivery attempts
	// per event, including the first.
	DefaultMaxDeliveryTries = 4

	// DefaultInitialRetryInterval is the base delay before the first
	// retry. Subsequent delays grow exponentially with jitter.
	DefaultInitialRetryInterval = 100 * time.Millisecond

	// DefaultMaxRetryInterval caps the delay between retries.
	DefaultMaxRetryInterval = 5 * time.Second
)

// Sink receives events from the [Consumer]. Implementations must be safe
// for use from a single consumer goroutine and should return an error
// only for retryable delivery failures.
type Sink interface {
	// Deliver sends one event downstream.
	Deliver(ctx context.Context, event Event) error
}

// ConsumerConfig tunes the delivery retry policy.
type ConsumerConfig struct {
	// MaxTries is the total number of delivery attempts per event.
	// Default: 4.
	MaxTries uint `json:"max_tries,omitempty" env:"EVENTS_MAX_DELIVERY_TRIES"`

	// InitialInterval is the base retry delay. Default: 100ms.
	InitialInterval time.Duration `json:"initial_interval,omitempty" env:"EVENTS_RETRY_INITIAL_INTERVAL"`

	// MaxInterval caps the retry delay. Default: 5s.
	MaxInterval time.Duration `json:"max_interval,omitempty" env:"EVENTS_RETRY_MAX_INTERVAL"`

	// Buffer is the consumer's subscription queue depth.
	// Default: [DefaultSubscriberBuffer].
	Buffer int `json:"buffer,omitempty" env:"EVENTS_CONSUMER_BUFFER"`
}

func (c *ConsumerConfig) applyDefaults() {
	if c.MaxTries == 0 {
		c.MaxTries = DefaultMaxDeliveryTries
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialRetryInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxRetryInterval
	}
}

// Consumer drains a bus subscription in a background goroutine and
// delivers each event to a [Sink], retrying transient failures with
// exponential backoff. Producers never wait on delivery; the consumer
// owns the entire retry budget.
type Consumer struct {
	bus    *Bus
	sink   Sink
	config ConsumerConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	unsub  func()
	done   chan struct{}
}

// NewConsumer creates a Consumer over the given bus and sink.
func NewConsumer(bus *Bus, sink Sink, cfg ConsumerConfig) *Consumer {
	cfg.applyDefaults()
	return &Consumer{bus: bus, sink: sink, config: cfg}
}

// Start subscribes to the bus and launches the delivery goroutine.
// Starting an already-running consumer is a no-op.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil
	}

	events, unsub := c.bus.Subscribe(c.config.Buffer)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.cancel = cancel
	c.unsub = unsub
	c.done = done

	go c.run(runCtx, events, done)
	return nil
}

// Stop unsubscribes from the bus and waits for in-flight delivery to
// finish or the context to expire. Stop is safe to call multiple times.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, unsub, done := c.cancel, c.unsub, c.done
	c.cancel, c.unsub, c.done = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}

	unsub()
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run drains the subscription channel until it is closed, delivering
// each event with retry.
func (c *Consumer) run(ctx context.Context, events <-chan Event, done chan<- struct{}) {
	defer close(done)

	for event := range events {
		c.deliver(ctx, event)
	}
}

// deliver attempts sink delivery with exponential backoff and jitter.
// Exhausted or canceled deliveries are logged and dropped.
func (c *Consumer) deliver(ctx context.Context, event Event) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitialInterval
	expBackoff.MaxInterval = c.config.MaxInterval
	expBackoff.Reset()

	operation := func() (struct{}, error) {
		return struct{}{}, c.sink.Deliver(ctx, event)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.config.MaxTries),
		backoff.WithNotify(func(retryErr error, delay time.Duration) {
			slog.DebugContext(ctx, "events: sink delivery retry",
				"event_id", event.ID,
				"event_type", event.Type,
				"delay", delay,
				"error", retryErr,
			)
		}),
	)
	if err != nil {
		slog.WarnContext(ctx, "events: dropping event after delivery failures",
			"event_id", event.ID,
			"event_type", event.Type,
			"app_id", event.AppID,
			"error", err,
		)
	}
}
