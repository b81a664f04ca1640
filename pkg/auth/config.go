package auth

import (
	"net/http"
	"strings"
	"time"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// HTTPClient abstracts the HTTP client used for fetching OIDC discovery
// documents, JWKS responses, and client-credentials tokens. This allows
// callers to provide custom HTTP clients with specific timeouts, transport
// settings, or middleware.
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClaimNames maps the logical identity fields the control plane needs onto
// the claim names the identity provider actually emits. The mapping is
// resolved once at startup; validation reads these fields directly rather
// than doing dynamic claim-name lookups per request.
type ClaimNames struct {
	// UserID is the claim carrying the stable user identifier.
	// Defaults to "sub".
	UserID string `json:"user_id" yaml:"user_id" env:"USER_ID" envDefault:"sub"`

	// Email is the claim carrying the user's email address. Optional;
	// absence of the claim does not fail validation. Defaults to "email".
	Email string `json:"email" yaml:"email" env:"EMAIL" envDefault:"email"`

	// Roles is the claim carrying a list of role names. Optional.
	// Defaults to "roles".
	Roles string `json:"roles" yaml:"roles" env:"ROLES" envDefault:"roles"`
}

// Config holds the configuration for the OIDC trust chain: discovery,
// JWKS resolution, and JWT validation. It is loaded once at startup via
// pkg/config and injected into the components that need it; there is no
// process-wide singleton.
type Config struct {
	// Authority is the base URL of the identity provider (e.g.,
	// "https://login.example.com"). Combined with TenantID to compute
	// the discovery URL when DiscoveryURL is not set explicitly.
	Authority string `json:"authority,omitempty" yaml:"authority" env:"AUTHORITY"`

	// TenantID selects the tenant segment of the computed discovery URL:
	// {authority}/{tenant_id}/v2.0/.well-known/openid-configuration.
	TenantID string `json:"tenant_id,omitempty" yaml:"tenant_id" env:"TENANT_ID"`

	// DiscoveryURL is an explicit discovery document URL. When set, it
	// takes precedence over Authority/TenantID.
	DiscoveryURL string `json:"discovery_url,omitempty" yaml:"discovery_url" env:"DISCOVERY_URL"`

	// Issuer is an explicit expected issuer. When set, it takes precedence
	// over the issuer advertised by the discovery document.
	Issuer string `json:"issuer,omitempty" yaml:"issuer" env:"ISSUER"`

	// JWKSURL is an explicit JWKS endpoint. When set, the JWKS client
	// fetches keys from this URL instead of resolving jwks_uri via
	// discovery.
	JWKSURL string `json:"jwks_url,omitempty" yaml:"jwks_url" env:"JWKS_URL"`

	// Audience is the expected "aud" claim. Tokens whose audience does not
	// match are rejected. Required: the audience claim is mandatory for
	// every validated token.
	Audience string `json:"audience" yaml:"audience" env:"AUDIENCE" required:"true"`

	// RequiredScope is the scope a user token must carry for scope-gated
	// endpoints. Empty disables the scope check entirely.
	RequiredScope string `json:"required_scope,omitempty" yaml:"required_scope" env:"REQUIRED_SCOPE"`

	// InternalRole is the role claim value that marks a token as belonging
	// to a trusted internal service (service-to-service auth). Defaults to
	// "internal-service".
	InternalRole string `json:"internal_role" yaml:"internal_role" env:"INTERNAL_ROLE" envDefault:"internal-service"`

	// AllowedAlgorithms is the JWT signing algorithm allow-list. Tokens
	// whose header "alg" is not in this list are rejected before any key
	// resolution occurs. Defaults to RS256 only.
	AllowedAlgorithms []string `json:"allowed_algorithms" yaml:"allowed_algorithms" env:"ALLOWED_ALGORITHMS" envDefault:"RS256"`

	// Claims maps logical identity fields to provider claim names.
	Claims ClaimNames `json:"claims" yaml:"claims" env:"CLAIM"`

	// DiscoveryCacheTTL is how long a fetched discovery document is served
	// from cache before being refreshed. Discovery metadata rarely changes.
	// Defaults to 24 hours.
	DiscoveryCacheTTL time.Duration `json:"discovery_cache_ttl" yaml:"discovery_cache_ttl" env:"DISCOVERY_CACHE_TTL" envDefault:"24h"`

	// JWKSCacheTTL is how long a fetched key set is served from cache
	// before being refreshed. An unknown kid forces an early refresh to
	// handle key rotation. Defaults to 1 hour.
	JWKSCacheTTL time.Duration `json:"jwks_cache_ttl" yaml:"jwks_cache_ttl" env:"JWKS_CACHE_TTL" envDefault:"1h"`

	// ClockSkew is the leeway applied symmetrically when checking exp,
	// nbf, and iat. Defaults to 60 seconds.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"60s"`

	// HTTPTimeout bounds every outbound HTTP call made by the trust chain
	// (discovery, JWKS, token endpoint). Defaults to 10 seconds.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout" env:"HTTP_TIMEOUT" envDefault:"10s"`

	// TokenCacheTTL is the maximum time a validated token's claims are
	// cached before re-validation. The effective TTL per token is the
	// minimum of this value and the token's remaining lifetime.
	// Defaults to 5 minutes.
	TokenCacheTTL time.Duration `json:"token_cache_ttl" yaml:"token_cache_ttl" env:"TOKEN_CACHE_TTL" envDefault:"5m"`

	// TokenCacheMaxSize is the maximum number of entries in the validated
	// token cache. Defaults to 10000.
	TokenCacheMaxSize int `json:"token_cache_max_size" yaml:"token_cache_max_size" env:"TOKEN_CACHE_MAX_SIZE" envDefault:"10000"`

	// HTTPClient overrides the HTTP client used for outbound calls. If
	// nil, a default [http.Client] with HTTPTimeout is used. Not loadable
	// from the environment; set programmatically (primarily for tests).
	HTTPClient HTTPClient `json:"-" yaml:"-"`
}

// Validate checks the configuration for logical correctness. Returns a
// *[cperr.Error] with code [cperr.CodeValidation] if any field is invalid.
//
// Validation rules:
//   - A discovery source must be resolvable: either DiscoveryURL, or
//     Authority+TenantID, or both Issuer and JWKSURL overrides
//   - Audience must not be empty
//   - AllowedAlgorithms must not be empty and must not contain "none"
//   - TTLs, clock skew, and HTTP timeout must be non-negative
func (c *Config) Validate() error {
	hasDiscovery := c.DiscoveryURL != "" || (c.Authority != "" && c.TenantID != "")
	hasOverrides := c.Issuer != "" && c.JWKSURL != ""
	if !hasDiscovery && !hasOverrides {
		return cperr.New(cperr.CodeValidation,
			"auth: no discovery source configured (set discovery_url, authority+tenant_id, or issuer+jwks_url)")
	}

	if c.Audience == "" {
		return cperr.New(cperr.CodeValidation, "auth: audience must not be empty")
	}

	if len(c.AllowedAlgorithms) == 0 {
		return cperr.New(cperr.CodeValidation, "auth: allowed algorithm list must not be empty")
	}
	for _, alg := range c.AllowedAlgorithms {
		if strings.EqualFold(alg, "none") {
			return cperr.New(cperr.CodeValidation, "auth: algorithm 'none' must not be allowed")
		}
	}

	if c.DiscoveryCacheTTL < 0 || c.JWKSCacheTTL < 0 || c.TokenCacheTTL < 0 {
		return cperr.New(cperr.CodeValidation, "auth: cache TTLs must be non-negative")
	}
	if c.ClockSkew < 0 {
		return cperr.New(cperr.CodeValidation, "auth: clock skew must be non-negative")
	}
	if c.HTTPTimeout < 0 {
		return cperr.New(cperr.CodeValidation, "auth: HTTP timeout must be non-negative")
	}
	if c.TokenCacheMaxSize <= 0 {
		return cperr.New(cperr.CodeValidation, "auth: token cache max size must be greater than zero")
	}

	return nil
}

// DefaultConfig returns a Config with production defaults. Callers must
// still set a discovery source and audience before use.
func DefaultConfig() Config {
	return Config{
		InternalRole:      "internal-service",
		AllowedAlgorithms: []string{"RS256"},
		Claims: ClaimNames{
			UserID: "sub",
			Email:  "email",
			Roles:  "roles",
		},
		DiscoveryCacheTTL: 24 * time.Hour,
		JWKSCacheTTL:      time.Hour,
		ClockSkew:         60 * time.Second,
		HTTPTimeout:       10 * time.Second,
		TokenCacheTTL:     5 * time.Minute,
		TokenCacheMaxSize: 10000,
	}
}

// discoveryURL resolves the discovery document URL: an explicit
// DiscoveryURL wins, otherwise the URL is computed from Authority and
// TenantID. Returns an empty string when no discovery source is configured.
func (c *Config) discoveryURL() string {
	if c.DiscoveryURL != "" {
		return c.DiscoveryURL
	}
	if c.Authority != "" && c.TenantID != "" {
		return strings.TrimRight(c.Authority, "/") + "/" + c.TenantID + "/v2.0/.well-known/openid-configuration"
	}
	return ""
}

// httpClient returns the configured HTTP client or a default client bounded
// by HTTPTimeout.
func (c *Config) httpClient() HTTPClient {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
