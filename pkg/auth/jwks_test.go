package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// jwkEntry mirrors the wire form of a single JWKS key for test servers.
type jwkEntry struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// rsaJWK converts an RSA public key to its JWKS wire form.
func rsaJWK(kid string, pub *rsa.PublicKey) jwkEntry {
	return jwkEntry{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ecJWK converts a P-256 ECDSA public key to its JWKS wire form.
func ecJWK(kid string, pub *ecdsa.PublicKey) jwkEntry {
	return jwkEntry{
		Kty: "EC",
		Kid: kid,
		Crv: "P-256",
		Use: "sig",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

// jwksTestServer serves a mutable JWKS key set and counts fetches. Tests
// swap the key set via setKeys to simulate provider-side key rotation.
type jwksTestServer struct {
	srv     *httptest.Server
	fetches atomic.Int64

	mu   sync.Mutex
	keys []jwkEntry
}

func newJWKSTestServer(t *testing.T, keys ...jwkEntry) *jwksTestServer {
	t.Helper()
	ts := &jwksTestServer{keys: keys}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.fetches.Add(1)
		ts.mu.Lock()
		body, err := json.Marshal(map[string]any{"keys": ts.keys})
		ts.mu.Unlock()
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *jwksTestServer) setKeys(keys ...jwkEntry) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.keys = keys
}

// newJWKSClientForURL builds a JWKSClient with an explicit JWKS URL.
func newJWKSClientForURL(url string, ttl time.Duration) *JWKSClient {
	cfg := DefaultConfig()
	cfg.JWKSURL = url
	cfg.Audience = "mozaiks-api"
	cfg.JWKSCacheTTL = ttl
	return NewJWKSClient(cfg, nil)
}

// testRSAKey generates a 2048-bit RSA key pair.
func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")
	return key
}

// ---------------------------------------------------------------------------
// JWKSClient tests
// ---------------------------------------------------------------------------

func TestJWKSClient_SigningKey_HitWithinTTL(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	ts := newJWKSTestServer(t, rsaJWK("kid-1", &key.PublicKey))
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	got, found, err := client.SigningKey(context.Background(), "kid-1")
	require.NoError(t, err)
	require.True(t, found)
	pub, ok := got.(*rsa.PublicKey)
	require.True(t, ok, "expected an *rsa.PublicKey")
	assert.Equal(t, 0, key.PublicKey.N.Cmp(pub.N))

	// Cached lookup must not refetch.
	_, found, err = client.SigningKey(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), ts.fetches.Load())
}

func TestJWKSClient_SigningKey_UnknownKidForcesOneRefresh(t *testing.T) {
	t.Parallel()
	oldKey := testRSAKey(t)
	ts := newJWKSTestServer(t, rsaJWK("kid-old", &oldKey.PublicKey))
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	// Prime the cache with the old key set.
	_, found, err := client.SigningKey(context.Background(), "kid-old")
	require.NoError(t, err)
	require.True(t, found)

	// Rotate the provider's keys, then look up the new kid: the fresh-cache
	// miss must force exactly one refresh and find the rotated key.
	newKey := testRSAKey(t)
	ts.setKeys(rsaJWK("kid-new", &newKey.PublicKey))

	got, found, err := client.SigningKey(context.Background(), "kid-new")
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotNil(t, got)
	assert.Equal(t, int64(2), ts.fetches.Load(), "rotation miss should force exactly one refresh")
}

func TestJWKSClient_SigningKey_StillMissingAfterRefreshIsNotError(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	ts := newJWKSTestServer(t, rsaJWK("kid-1", &key.PublicKey))
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	_, found, err := client.SigningKey(context.Background(), "kid-1")
	require.NoError(t, err)
	require.True(t, found)

	got, found, err := client.SigningKey(context.Background(), "kid-ghost")
	require.NoError(t, err, "an absent kid after refresh is a miss, not an error")
	assert.False(t, found)
	assert.Nil(t, got)
	assert.Equal(t, int64(2), ts.fetches.Load())
}

func TestJWKSClient_SigningKey_FetchErrorSurfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	client := newJWKSClientForURL(srv.URL, time.Hour)

	_, found, err := client.SigningKey(context.Background(), "kid-1")
	require.Error(t, err)
	assert.False(t, found)
	assert.Contains(t, err.Error(), "status 500")
}

func TestJWKSClient_Fetch_SkipsKeysWithoutKid(t *testing.T) {
	t.Parallel()
	key1 := testRSAKey(t)
	key2 := testRSAKey(t)
	noKid := rsaJWK("", &key2.PublicKey)
	ts := newJWKSTestServer(t, rsaJWK("kid-1", &key1.PublicKey), noKid)
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	keys, err := client.AllKeys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, 1, "keys without kid must be discarded")
	assert.Contains(t, keys, "kid-1")
}

func TestJWKSClient_Fetch_ParsesECKeys(t *testing.T) {
	t.Parallel()
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ts := newJWKSTestServer(t, ecJWK("kid-ec", &ecKey.PublicKey))
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	got, found, err := client.SigningKey(context.Background(), "kid-ec")
	require.NoError(t, err)
	require.True(t, found)
	pub, ok := got.(*ecdsa.PublicKey)
	require.True(t, ok, "expected an *ecdsa.PublicKey")
	assert.Equal(t, elliptic.P256(), pub.Curve)
}

func TestJWKSClient_Fetch_SkipsMalformedKeys(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	malformed := jwkEntry{Kty: "RSA", Kid: "kid-bad", N: "!!not-base64!!", E: "AQAB"}
	ts := newJWKSTestServer(t, rsaJWK("kid-1", &key.PublicKey), malformed)
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	keys, err := client.AllKeys(context.Background())
	require.NoError(t, err)
	assert.Contains(t, keys, "kid-1")
	assert.NotContains(t, keys, "kid-bad")
}

func TestJWKSClient_Reset_ForcesRefetch(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	ts := newJWKSTestServer(t, rsaJWK("kid-1", &key.PublicKey))
	client := newJWKSClientForURL(ts.srv.URL, time.Hour)

	_, _, err := client.SigningKey(context.Background(), "kid-1")
	require.NoError(t, err)

	client.Reset()

	_, _, err = client.SigningKey(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ts.fetches.Load())
}

func TestJWKSClient_ResolvesURLViaDiscovery(t *testing.T) {
	t.Parallel()
	key := testRSAKey(t)
	ts := newJWKSTestServer(t, rsaJWK("kid-1", &key.PublicKey))

	discoverySrv := authTestServeDiscovery(t, map[string]any{
		"issuer":   "https://idp.example.com",
		"jwks_uri": ts.srv.URL,
	}, nil)

	cfg := DefaultConfig()
	cfg.DiscoveryURL = discoverySrv.URL
	cfg.Audience = "mozaiks-api"
	discovery, err := NewDiscoveryClient(cfg)
	require.NoError(t, err)

	client := NewJWKSClient(cfg, discovery)

	_, found, err := client.SigningKey(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.True(t, found)
}
