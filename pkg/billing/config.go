package billing

import (
	"fmt"
	"strings"
	"time"
)

// Default retry policy for gateway calls. Only 429 and 5xx responses
// are retried; everything else fails immediately.
const (
	// DefaultMaxAttempts is the total number of attempts per call,
	// including the first.
	DefaultMaxAttempts = 3

	// DefaultInitialRetryInterval is the base delay before the first
	// retry. Subsequent delays grow exponentially with jitter.
	DefaultInitialRetryInterval = 250 * time.Millisecond

	// DefaultMaxRetryInterval caps the delay between retries.
	DefaultMaxRetryInterval = 5 * time.Second

	// DefaultRequestTimeout bounds each individual gateway call.
	DefaultRequestTimeout = 10 * time.Second
)

// Config configures the billing gateway client.
type Config struct {
	// BaseURL is the billing gateway's base URL.
	BaseURL string `json:"base_url" yaml:"base_url" env:"BILLING_GATEWAY_URL" required:"true"`

	// RequestTimeout bounds each individual HTTP call.
	// Default: 10s.
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout" env:"BILLING_REQUEST_TIMEOUT"`

	// MaxAttempts is the total number of attempts per call. Default: 3.
	MaxAttempts uint `json:"max_attempts,omitempty" yaml:"max_attempts" env:"BILLING_MAX_ATTEMPTS"`

	// InitialRetryInterval is the base retry delay. Default: 250ms.
	InitialRetryInterval time.Duration `json:"initial_retry_interval,omitempty" yaml:"initial_retry_interval" env:"BILLING_RETRY_INITIAL_INTERVAL"`

	// MaxRetryInterval caps the retry delay. Default: 5s.
	MaxRetryInterval time.Duration `json:"max_retry_interval,omitempty" yaml:"max_retry_interval" env:"BILLING_RETRY_MAX_INTERVAL"`
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("billing: base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("billing: base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialRetryInterval <= 0 {
		c.InitialRetryInterval = DefaultInitialRetryInterval
	}
	if c.MaxRetryInterval <= 0 {
		c.MaxRetryInterval = DefaultMaxRetryInterval
	}
	return nil
}
