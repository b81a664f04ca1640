package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JWKSClient fetches and caches the identity provider's signing keys,
// indexed by key ID (kid). The JWKS URL comes from explicit configuration
// or, when unset, from the discovery document.
//
// A lookup miss for a kid within a fresh cache forces exactly one
// synchronous refresh (key-rotation handling) before reporting the key as
// absent. Keys without a kid are discarded during indexing. Fetch failures
// are hard errors with no stale-key fallback beyond the TTL window.
//
// JWKSClient is safe for concurrent use by multiple goroutines.
type JWKSClient struct {
	explicitURL string
	discovery   *DiscoveryClient
	ttl         time.Duration
	client      HTTPClient
	tracer      trace.Tracer

	mu        sync.RWMutex
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
}

// NewJWKSClient creates a JWKSClient. The discovery client may be nil when
// cfg.JWKSURL is set explicitly.
func NewJWKSClient(cfg Config, discovery *DiscoveryClient) *JWKSClient {
	ttl := cfg.JWKSCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &JWKSClient{
		explicitURL: cfg.JWKSURL,
		discovery:   discovery,
		ttl:         ttl,
		client:      cfg.httpClient(),
		tracer:      otel.Tracer(tracerName),
	}
}

// SigningKey resolves the public key for the given kid. Returns the key and
// true when found. A miss within a fresh cache forces one refresh; if the
// kid is still absent afterwards, SigningKey returns (nil, false, nil)
// rather than an error. Fetch failures return a non-nil error.
func (c *JWKSClient) SigningKey(ctx context.Context, kid string) (any, bool, error) {
	c.mu.RLock()
	if c.keys != nil && time.Since(c.fetchedAt) < c.ttl {
		if key, ok := c.keys[kid]; ok {
			c.mu.RUnlock()
			return key, true, nil
		}
		// Fresh cache without this kid: likely key rotation, fall
		// through to a forced refresh.
	}
	fetchedBefore := c.fetchedAt
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check after acquiring the write lock: a concurrent caller may
	// already have refreshed the set.
	if c.keys != nil && c.fetchedAt.After(fetchedBefore) && time.Since(c.fetchedAt) < c.ttl {
		key, ok := c.keys[kid]
		return key, ok, nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		return nil, false, err
	}

	c.keys = keys
	c.fetchedAt = time.Now()

	key, ok := keys[kid]
	return key, ok, nil
}

// AllKeys returns a copy of the current kid-indexed key map, refreshing the
// cache first when it is empty or expired.
func (c *JWKSClient) AllKeys(ctx context.Context) (map[string]any, error) {
	c.mu.RLock()
	if c.keys != nil && time.Since(c.fetchedAt) < c.ttl {
		out := make(map[string]any, len(c.keys))
		for k, v := range c.keys {
			out[k] = v
		}
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys == nil || time.Since(c.fetchedAt) >= c.ttl {
		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.keys = keys
		c.fetchedAt = time.Now()
	}

	out := make(map[string]any, len(c.keys))
	for k, v := range c.keys {
		out[k] = v
	}
	return out, nil
}

// Reset drops the cached key set, forcing a fetch on the next lookup.
// Intended for test isolation only.
func (c *JWKSClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = nil
	c.fetchedAt = time.Time{}
}

// fetch resolves the JWKS URL and downloads the key set. Caller must hold
// the write lock (or be otherwise serialized).
func (c *JWKSClient) fetch(ctx context.Context) (map[string]any, error) {
	url := c.explicitURL
	if url == "" {
		if c.discovery == nil {
			return nil, fmt.Errorf("auth: no JWKS URL configured and no discovery client available")
		}
		var err error
		url, err = c.discovery.JWKSURI(ctx)
		if err != nil {
			return nil, err
		}
	}

	ctx, span := c.tracer.Start(ctx, "auth.JWKSFetch")
	defer span.End()
	span.SetAttributes(attribute.String("auth.jwks_url", url))

	keys, err := fetchJWKS(ctx, c.client, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("auth.jwks_key_count", len(keys)))
	return keys, nil
}

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields
// needed for RSA and EC key reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetchJWKS makes an HTTP GET request to the JWKS URL, parses the response,
// and constructs a map of key ID to public key. Supports RSA and ECDSA
// (P-256, P-384, P-521) key types. Keys without a kid are skipped.
func fetchJWKS(ctx context.Context, client HTTPClient, jwksURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataResponseSize))
	if err != nil {
		return nil, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		}
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
