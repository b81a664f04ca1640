// Package auth implements the control plane's authentication trust chain:
// OIDC discovery, JWKS key resolution, JWT validation, execution-token
// minting, client-credentials token acquisition, and the HTTP/WebSocket
// guards that compose them.
//
// The chain is strictly layered. The [DiscoveryClient] fetches and caches
// the identity provider's discovery document. The [JWKSClient] resolves
// signing keys by kid, delegating to discovery for the JWKS URL. The
// [Validator] verifies bearer tokens against those keys and normalizes
// claims into [TokenClaims]. The [Minter] signs short-lived execution
// tokens that bind a user session to an app/chat/capability scope for
// handoff to the downstream runtime.
//
// All components are explicitly constructed and dependency-injected; none
// of them holds package-level state. Reset methods exist only for test
// isolation.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/mozaiks/control-plane/pkg/auth"

// maxMetadataResponseSize limits discovery and JWKS response bodies (1 MB)
// to prevent resource exhaustion from a misbehaving provider.
const maxMetadataResponseSize = 1 << 20

// DiscoveryDocument is the relevant subset of an OIDC provider's
// .well-known/openid-configuration response. A document is immutable once
// fetched and is replaced wholesale on refresh.
type DiscoveryDocument struct {
	// Issuer is the provider's advertised issuer identifier.
	Issuer string `json:"issuer"`

	// JWKSURI is the URL of the provider's JSON Web Key Set.
	JWKSURI string `json:"jwks_uri"`

	// TokenEndpoint is the OAuth2 token endpoint, used by the
	// client-credentials provider. May be empty.
	TokenEndpoint string `json:"token_endpoint,omitempty"`

	// Raw holds the full decoded document for callers that need fields
	// beyond the typed ones.
	Raw map[string]any `json:"-"`
}

// DiscoveryClient fetches and caches the identity provider's OIDC discovery
// document. The cache holds a single document per client with a long TTL
// (discovery metadata rarely changes); concurrent refreshes are collapsed
// into one fetch via double-checked locking.
//
// A response missing issuer or jwks_uri is a hard failure and the partial
// document is never cached (fail closed).
//
// DiscoveryClient is safe for concurrent use by multiple goroutines.
type DiscoveryClient struct {
	url    string
	ttl    time.Duration
	client HTTPClient
	tracer trace.Tracer

	mu        sync.RWMutex
	doc       *DiscoveryDocument
	fetchedAt time.Time
}

// NewDiscoveryClient creates a DiscoveryClient from the trust-chain config.
// Returns an error when no discovery URL can be resolved from the config.
func NewDiscoveryClient(cfg Config) (*DiscoveryClient, error) {
	url := cfg.discoveryURL()
	if url == "" {
		return nil, fmt.Errorf("auth: no discovery URL configured")
	}

	ttl := cfg.DiscoveryCacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &DiscoveryClient{
		url:    url,
		ttl:    ttl,
		client: cfg.httpClient(),
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Document returns the cached discovery document, fetching it when the
// cache is empty or the TTL has expired. Exactly one fetch occurs per
// refresh regardless of concurrent callers.
func (c *DiscoveryClient) Document(ctx context.Context) (*DiscoveryDocument, error) {
	c.mu.RLock()
	if c.doc != nil && time.Since(c.fetchedAt) < c.ttl {
		doc := c.doc
		c.mu.RUnlock()
		return doc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check after acquiring the write lock; another goroutine may have
	// completed the refresh while this one was waiting.
	if c.doc != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.doc, nil
	}

	ctx, span := c.tracer.Start(ctx, "auth.DiscoveryFetch")
	defer span.End()
	span.SetAttributes(attribute.String("auth.discovery_url", c.url))

	doc, err := fetchDiscovery(ctx, c.client, c.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.doc = doc
	c.fetchedAt = time.Now()
	return doc, nil
}

// Issuer returns the provider's issuer from the cached discovery document.
func (c *DiscoveryClient) Issuer(ctx context.Context) (string, error) {
	doc, err := c.Document(ctx)
	if err != nil {
		return "", err
	}
	return doc.Issuer, nil
}

// JWKSURI returns the provider's JWKS endpoint from the cached discovery
// document.
func (c *DiscoveryClient) JWKSURI(ctx context.Context) (string, error) {
	doc, err := c.Document(ctx)
	if err != nil {
		return "", err
	}
	return doc.JWKSURI, nil
}

// TokenEndpoint returns the provider's OAuth2 token endpoint from the
// cached discovery document. Returns an error when the document does not
// advertise one.
func (c *DiscoveryClient) TokenEndpoint(ctx context.Context) (string, error) {
	doc, err := c.Document(ctx)
	if err != nil {
		return "", err
	}
	if doc.TokenEndpoint == "" {
		return "", fmt.Errorf("auth: discovery document does not advertise a token_endpoint")
	}
	return doc.TokenEndpoint, nil
}

// Reset drops the cached document, forcing a fetch on the next call.
// Intended for test isolation only; production code never calls this.
func (c *DiscoveryClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = nil
	c.fetchedAt = time.Time{}
}

// fetchDiscovery performs the HTTP GET for the discovery document and
// validates that the mandatory fields are present. A document missing
// issuer or jwks_uri is rejected outright.
func fetchDiscovery(ctx context.Context, client HTTPClient, url string) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create discovery request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: discovery endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataResponseSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read discovery response: %w", err)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("auth: failed to parse discovery JSON: %w", err)
	}
	if doc.Issuer == "" {
		return nil, fmt.Errorf("auth: discovery document missing issuer")
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("auth: discovery document missing jwks_uri")
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		doc.Raw = raw
	}

	return &doc, nil
}
