package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/mozaiks/control-plane/internal/testutil/fixtures"
	"github.com/mozaiks/control-plane/pkg/auth"
	"github.com/mozaiks/control-plane/pkg/entitlements"
	"github.com/mozaiks/control-plane/pkg/events"
	"github.com/mozaiks/control-plane/pkg/models"
	"github.com/mozaiks/control-plane/pkg/packs"
	"github.com/mozaiks/control-plane/pkg/usage"
)

const testKid = "api-test-key"

// minterSecret is a throwaway HMAC secret for the test minter.
const minterSecret = "0123456789abcdef0123456789abcdef"

const testPackYAML = `
name: onboarding-suite
workflows:
  onboarding:
    title: Onboarding
  analysis:
    title: Analysis
    requires:
      - from: onboarding
        reason: "Complete onboarding first."
`

// testEnv bundles the trust chain, stores, and router under test.
type testEnv struct {
	router   http.Handler
	signKey  *rsa.PrivateKey
	sessions *packs.MemorySessionStore
	handler  *entitlements.SyncHandler
	bus      *events.Bus
	deps     Deps
}

// newTestEnv builds a router backed by in-memory stores and a local
// JWKS server. mutate, when non-nil, adjusts the deps before the router
// is assembled.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": testKid,
			"n":   base64.RawURLEncoding.EncodeToString(signKey.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(signKey.PublicKey.E)).Bytes()),
		}},
	}
	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(jwksSrv.Close)

	cfg := auth.DefaultConfig()
	cfg.Issuer = fixtures.TestIssuer
	cfg.JWKSURL = jwksSrv.URL
	cfg.Audience = fixtures.TestAudience

	validator, err := auth.NewValidator(cfg, nil, auth.NewJWKSClient(cfg, nil))
	require.NoError(t, err)

	minter, err := auth.NewMinter(auth.MinterConfig{
		Algorithm: "HS256",
		Secret:    auth.Secret(minterSecret),
		Issuer:    "mozaiks-control-plane",
		Audience:  "mozaiks-runtime",
	})
	require.NoError(t, err)

	pack, err := packs.Parse([]byte(testPackYAML))
	require.NoError(t, err)

	sessions := packs.NewMemorySessionStore()
	handler := entitlements.NewSyncHandler(entitlements.NewMemoryStore(), nil)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	deps := Deps{
		Guard:         auth.NewGuard(validator, cfg).WithExecutionVerifier(minter),
		Minter:        minter,
		Entitlements:  handler,
		Gatekeeper:    packs.NewGatekeeper(pack, sessions),
		Sessions:      sessions,
		Bus:           bus,
		Meter:         usage.NewMeter(bus),
		RuntimeUIBase: "https://ui.mozaiks.test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &testEnv{
		router:   NewRouter(deps),
		signKey:  signKey,
		sessions: sessions,
		handler:  handler,
		bus:      bus,
		deps:     deps,
	}
}

// signToken creates an RS256-signed JWT accepted by the test trust
// chain, filling in iss/aud/exp defaults unless the claims set them.
func (e *testEnv) signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = fixtures.TestIssuer
	}
	if _, ok := claims["aud"]; !ok {
		claims["aud"] = fixtures.TestAudience
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(e.signKey)
	require.NoError(t, err)
	return signed
}

// userToken signs a plain user token for the fixture user.
func (e *testEnv) userToken(t *testing.T) string {
	t.Helper()
	return e.signToken(t, jwt.MapClaims{"sub": fixtures.UserID})
}

// executionToken mints a real execution token bound to the fixture app
// and the given chat, exactly as the launch endpoint hands them out.
func (e *testEnv) executionToken(t *testing.T, chatID string) string {
	t.Helper()
	token, _, err := e.deps.Minter.Mint(context.Background(), auth.MintRequest{
		UserID: fixtures.UserID,
		AppID:  fixtures.AppID,
		ChatID: chatID,
	})
	require.NoError(t, err)
	return token
}

// internalToken signs a token carrying the internal service role.
func (e *testEnv) internalToken(t *testing.T) string {
	t.Helper()
	return e.signToken(t, jwt.MapClaims{
		"sub":   "svc-billing-gateway",
		"roles": []string{"internal-service"},
	})
}

// do performs a request against the router with an optional bearer
// token and JSON body.
func (e *testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, target, bytes.NewReader(encoded))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set(auth.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// completeWorkflow records a completed session of the workflow for the
// fixture app and user.
func (e *testEnv) completeWorkflow(t *testing.T, workflow string) {
	t.Helper()
	session, err := models.NewWorkflowSession(fixtures.AppID, fixtures.UserID, workflow)
	require.NoError(t, err)
	require.NoError(t, session.Complete())
	require.NoError(t, e.sessions.CreateSession(context.Background(), session))
}

// decodeBody unmarshals a JSON response into out.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// errorCode extracts the error code from a JSON error response.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	decodeBody(t, rec, &body)
	return body.Error.Code
}
