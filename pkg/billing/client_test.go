package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozaiks/control-plane/pkg/auth"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// staticTokens returns a fixed service token.
type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) {
	return s.token, s.err
}

// newTestClient creates a client against the test server with a fast
// retry policy.
func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:              serverURL,
		MaxAttempts:          3,
		InitialRetryInterval: time.Millisecond,
		MaxRetryInterval:     5 * time.Millisecond,
	}, staticTokens{token: "service-token"}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{}, staticTokens{token: "t"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")

	_, err = NewClient(Config{BaseURL: "ftp://gateway"}, staticTokens{token: "t"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an http(s) URL")

	_, err = NewClient(Config{BaseURL: "https://gateway.test"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token source is required")
}

func TestCreateCheckoutSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout-sessions", r.URL.Path)
		assert.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"session_id":"cs_123","url":"https://pay.example.com/cs_123"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	session, err := client.CreateCheckoutSession(context.Background(), &CheckoutSessionRequest{
		AppID:      "app-001",
		PlanTier:   "pro",
		SuccessURL: "https://app.example.com/done",
		CancelURL:  "https://app.example.com/canceled",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.SessionID)
	assert.Equal(t, "https://pay.example.com/cs_123", session.URL)
}

func TestCreateCheckoutSession_RequiredFields(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, "http://unused.test")

	_, err := client.CreateCheckoutSession(context.Background(), &CheckoutSessionRequest{PlanTier: "pro"})
	assert.True(t, cperr.HasCode(err, cperr.CodeValidationRequired))

	_, err = client.CreateCheckoutSession(context.Background(), &CheckoutSessionRequest{AppID: "app-001"})
	assert.True(t, cperr.HasCode(err, cperr.CodeValidationRequired))
}

func TestCreatePortalSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/portal-sessions", r.URL.Path)
		_, _ = w.Write([]byte(`{"url":"https://pay.example.com/portal"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	session, err := client.CreatePortalSession(context.Background(), &PortalSessionRequest{
		AppID:     "app-001",
		ReturnURL: "https://app.example.com/settings",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/portal", session.URL)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"url":"https://pay.example.com/portal"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	session, err := client.CreatePortalSession(context.Background(), &PortalSessionRequest{AppID: "app-001"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/portal", session.URL)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_RetriesThrottling(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"url":"https://pay.example.com/portal"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CreatePortalSession(context.Background(), &PortalSessionRequest{AppID: "app-001"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_ExhaustedRetriesSurfaceRetryableError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CreatePortalSession(context.Background(), &PortalSessionRequest{AppID: "app-001"})
	require.Error(t, err)
	assert.True(t, cperr.IsRetryable(err))
	assert.Equal(t, int32(3), calls.Load(), "attempt budget is capped")
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CreatePortalSession(context.Background(), &PortalSessionRequest{AppID: "app-001"})
	require.Error(t, err)
	assert.False(t, cperr.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx responses fail immediately")
}

func TestClient_ForwardsCorrelationID(t *testing.T) {
	t.Parallel()

	var gotCorrelationID atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelationID.Store(r.Header.Get("X-Correlation-ID"))
		_, _ = w.Write([]byte(`{"url":"https://pay.example.com/portal"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := auth.ContextWithCorrelationID(context.Background(), "corr-42")
	_, err := client.CreatePortalSession(ctx, &PortalSessionRequest{AppID: "app-001"})
	require.NoError(t, err)
	assert.Equal(t, "corr-42", gotCorrelationID.Load())
}

func TestClient_TokenFailureIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL:              server.URL,
		MaxAttempts:          3,
		InitialRetryInterval: time.Millisecond,
	}, staticTokens{err: errors.New("idp unreachable")}, nil)
	require.NoError(t, err)

	_, err = client.CreatePortalSession(context.Background(), &PortalSessionRequest{AppID: "app-001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire gateway credentials")
	assert.Equal(t, int32(0), calls.Load(), "no gateway call without credentials")
}

func TestClient_MalformedResponse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CreatePortalSession(context.Background(), &PortalSessionRequest{AppID: "app-001"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse gateway response")
	assert.Equal(t, int32(1), calls.Load())
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{BaseURL: "https://gateway.test/"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://gateway.test", cfg.BaseURL, "trailing slash trimmed")
	assert.Equal(t, uint(DefaultMaxAttempts), cfg.MaxAttempts)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultInitialRetryInterval, cfg.InitialRetryInterval)
	assert.Equal(t, DefaultMaxRetryInterval, cfg.MaxRetryInterval)
}
