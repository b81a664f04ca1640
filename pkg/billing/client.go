// Package billing proxies checkout and portal operations to the
// external billing gateway. The control plane holds no pricing or
// invoicing logic; it forwards requests with service credentials and a
// correlation ID so the gateway can tie them back to the originating
// request.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mozaiks/control-plane/pkg/auth"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

const tracerName = "github.com/mozaiks/control-plane/pkg/billing"

// maxResponseSize bounds gateway response bodies.
const maxResponseSize = 1 << 20

// TokenSource supplies service access tokens for gateway calls.
// [auth.ClientCredentialsProvider] satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPClient abstracts the underlying HTTP client for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the billing gateway proxy client. Calls authenticate with a
// client-credentials token, carry the request's correlation ID, and
// retry only on 429 and 5xx responses with capped exponential backoff
// and jitter.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	config Config
	tokens TokenSource
	client HTTPClient
	tracer trace.Tracer
}

// NewClient creates a gateway client. httpClient may be nil, in which
// case a default client bounded by cfg.RequestTimeout is used.
func NewClient(cfg Config, tokens TokenSource, httpClient HTTPClient) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, fmt.Errorf("billing: a token source is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Client{
		config: cfg,
		tokens: tokens,
		client: httpClient,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// CheckoutSessionRequest asks the gateway to start a subscription
// checkout for an app.
type CheckoutSessionRequest struct {
	// AppID identifies the app the subscription is for.
	AppID string `json:"app_id"`

	// PlanTier is the tier being purchased.
	PlanTier string `json:"plan_tier"`

	// SuccessURL is where the gateway redirects after payment.
	SuccessURL string `json:"success_url"`

	// CancelURL is where the gateway redirects on abandonment.
	CancelURL string `json:"cancel_url"`
}

// CheckoutSession is the gateway's checkout handle.
type CheckoutSession struct {
	// SessionID identifies the checkout session at the gateway.
	SessionID string `json:"session_id"`

	// URL is the hosted checkout page the user is sent to.
	URL string `json:"url"`

	// ExpiresAt is when the checkout session becomes unusable.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CreateCheckoutSession proxies a checkout-session request to the
// gateway.
func (c *Client) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.AppID == "" {
		return nil, cperr.New(cperr.CodeValidationRequired, "billing: checkout app_id is required")
	}
	if req.PlanTier == "" {
		return nil, cperr.New(cperr.CodeValidationRequired, "billing: checkout plan_tier is required")
	}

	var session CheckoutSession
	if err := c.post(ctx, "/v1/checkout-sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// PortalSessionRequest asks the gateway for a self-service billing
// portal session.
type PortalSessionRequest struct {
	// AppID identifies the app whose billing is being managed.
	AppID string `json:"app_id"`

	// ReturnURL is where the portal sends the user when they leave.
	ReturnURL string `json:"return_url"`
}

// PortalSession is the gateway's portal handle.
type PortalSession struct {
	// URL is the hosted portal page the user is sent to.
	URL string `json:"url"`
}

// CreatePortalSession proxies a portal-session request to the gateway.
func (c *Client) CreatePortalSession(ctx context.Context, req *PortalSessionRequest) (*PortalSession, error) {
	if req.AppID == "" {
		return nil, cperr.New(cperr.CodeValidationRequired, "billing: portal app_id is required")
	}

	var session PortalSession
	if err := c.post(ctx, "/v1/portal-sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// post sends one authenticated, correlated POST to the gateway with
// retry. 429 and 5xx responses retry with exponential backoff and
// jitter up to the attempt budget; any other failure status is
// permanent.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	ctx, span := c.tracer.Start(ctx, "billing.GatewayCall",
		trace.WithAttributes(attribute.String("billing.path", path)))
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		finishSpan(span, err)
		return cperr.Wrap(err, cperr.CodeInternal, "billing: failed to encode request")
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitialRetryInterval
	expBackoff.MaxInterval = c.config.MaxRetryInterval
	expBackoff.Reset()

	operation := func() (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, path, body, out)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.config.MaxAttempts),
		backoff.WithNotify(func(retryErr error, delay time.Duration) {
			slog.DebugContext(ctx, "billing: gateway call retry",
				"path", path,
				"delay", delay,
				"error", retryErr,
			)
		}),
	)
	if err != nil {
		finishSpan(span, err)
		return err
	}
	return nil
}

// doOnce performs a single gateway call. Retryable failures return a
// plain error; everything else is wrapped in backoff.Permanent so the
// retry loop stops.
func (c *Client) doOnce(ctx context.Context, path string, body []byte, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return backoff.Permanent(cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"billing: failed to acquire gateway credentials"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(cperr.Wrap(err, cperr.CodeInternal,
			"billing: failed to create gateway request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if correlationID, ok := auth.CorrelationIDFromContext(ctx); ok {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures and timeouts are as retryable as a 503.
		return cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"billing: gateway request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"billing: failed to read gateway response")
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(cperr.Wrap(err, cperr.CodeInternal,
				"billing: failed to parse gateway response"))
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return cperr.Newf(cperr.CodeUnavailableOverloaded,
			"billing: gateway throttled the request (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		return cperr.Newf(cperr.CodeUnavailableDependency,
			"billing: gateway returned status %d", resp.StatusCode)
	default:
		return backoff.Permanent(cperr.Newf(cperr.CodeInternal,
			"billing: gateway rejected the request with status %d", resp.StatusCode))
	}
}

func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
