package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tokenExpiryMargin is subtracted from a token's advertised lifetime so a
// cached token is refreshed before it actually expires mid-request.
const tokenExpiryMargin = 60 * time.Second

// fallbackTokenLifetime is assumed when the token endpoint omits
// expires_in.
const fallbackTokenLifetime = 5 * time.Minute

// CredentialsConfig configures the OAuth2 client-credentials provider used
// for outbound service-to-service calls (billing gateway, provider APIs).
type CredentialsConfig struct {
	// ClientID is the OAuth2 client identifier.
	ClientID string `json:"client_id" yaml:"client_id" env:"CLIENT_ID" required:"true"`

	// ClientSecret is the OAuth2 client secret.
	ClientSecret Secret `json:"client_secret" yaml:"client_secret" env:"CLIENT_SECRET" required:"true"`

	// Scope is the space-separated scope string requested with each grant.
	Scope string `json:"scope,omitempty" yaml:"scope" env:"SCOPE"`

	// TokenEndpoint is an explicit token endpoint URL. When empty, the
	// endpoint is resolved from the discovery document.
	TokenEndpoint string `json:"token_endpoint,omitempty" yaml:"token_endpoint" env:"TOKEN_ENDPOINT"`
}

// ClientCredentialsProvider acquires and caches OAuth2 access tokens via
// the client-credentials grant. The token endpoint comes from explicit
// configuration or the discovery document. A cached token is reused until
// one minute before its expiry; concurrent refreshes are collapsed into a
// single request.
//
// ClientCredentialsProvider is safe for concurrent use by multiple
// goroutines.
type ClientCredentialsProvider struct {
	config    CredentialsConfig
	discovery *DiscoveryClient
	client    HTTPClient
	tracer    trace.Tracer

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewClientCredentialsProvider creates a provider. The discovery client may
// be nil when cfg.TokenEndpoint is set explicitly.
func NewClientCredentialsProvider(cfg CredentialsConfig, discovery *DiscoveryClient, client HTTPClient) (*ClientCredentialsProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret.Value() == "" {
		return nil, fmt.Errorf("auth: client credentials require client_id and client_secret")
	}
	if cfg.TokenEndpoint == "" && discovery == nil {
		return nil, fmt.Errorf("auth: no token endpoint configured and no discovery client available")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &ClientCredentialsProvider{
		config:    cfg,
		discovery: discovery,
		client:    client,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Token returns a valid access token, fetching a new one when the cached
// token is absent or within the expiry margin.
func (p *ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt) {
		return p.token, nil
	}

	token, expiresAt, err := p.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	p.token = token
	p.expiresAt = expiresAt
	return token, nil
}

// Invalidate drops the cached token, forcing a fresh grant on the next
// call. Used after a downstream 401 indicates the token was revoked early.
func (p *ClientCredentialsProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expiresAt = time.Time{}
}

// tokenResponse is the relevant subset of an OAuth2 token endpoint
// response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// fetchToken performs the client-credentials grant. Caller must hold the
// mutex.
func (p *ClientCredentialsProvider) fetchToken(ctx context.Context) (string, time.Time, error) {
	endpoint := p.config.TokenEndpoint
	if endpoint == "" {
		var err error
		endpoint, err = p.discovery.TokenEndpoint(ctx)
		if err != nil {
			return "", time.Time{}, err
		}
	}

	ctx, span := p.tracer.Start(ctx, "auth.ClientCredentialsGrant")
	defer span.End()
	span.SetAttributes(attribute.String("auth.token_endpoint", endpoint))

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", p.config.ClientSecret.Value())
	if p.config.Scope != "" {
		form.Set("scope", p.config.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		finishSpan(span, err)
		return "", time.Time{}, fmt.Errorf("auth: failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		finishSpan(span, err)
		return "", time.Time{}, fmt.Errorf("auth: token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataResponseSize))
	if err != nil {
		finishSpan(span, err)
		return "", time.Time{}, fmt.Errorf("auth: failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("auth: token endpoint returned status %d", resp.StatusCode)
		finishSpan(span, err)
		return "", time.Time{}, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		finishSpan(span, err)
		return "", time.Time{}, fmt.Errorf("auth: failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		err := fmt.Errorf("auth: token response missing access_token")
		finishSpan(span, err)
		return "", time.Time{}, err
	}

	lifetime := fallbackTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}
	if lifetime > tokenExpiryMargin {
		lifetime -= tokenExpiryMargin
	}

	return tr.AccessToken, time.Now().Add(lifetime), nil
}
