package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozaiks/control-plane/internal/testutil/fixtures"
	"github.com/mozaiks/control-plane/pkg/events"
	"github.com/mozaiks/control-plane/pkg/models"
)

// startSession records a pending session for the fixture app and user
// and returns its ID.
func startSession(t *testing.T, env *testEnv, workflow string) string {
	t.Helper()
	session, err := models.NewWorkflowSession(fixtures.AppID, fixtures.UserID, workflow)
	require.NoError(t, err)
	require.NoError(t, env.sessions.CreateSession(context.Background(), session))
	return session.ID
}

func TestRecordUsageDelta(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")
	deltas, cancel := env.bus.Subscribe(4)
	defer cancel()

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/delta", env.executionToken(t, chatID),
		map[string]any{"input_tokens": 120, "output_tokens": 48})
	require.Equal(t, http.StatusAccepted, rec.Code)

	event := <-deltas
	assert.Equal(t, events.TypeUsageDelta, event.Type)
	assert.Equal(t, fixtures.AppID, event.AppID)
	assert.Equal(t, chatID, event.Payload["chat_id"])
	assert.Equal(t, 120, event.Payload["input_tokens"])
	assert.Equal(t, 48, event.Payload["output_tokens"])
}

func TestRecordUsageDelta_AcceptsLaunchToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	// Launch a workflow and report usage with the token the launch
	// endpoint handed back, the way the runtime does.
	rec := env.do(t, http.MethodPost,
		"/api/v1/apps/"+fixtures.AppID+"/workflows/onboarding/launch", env.userToken(t), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var launch struct {
		ChatID string `json:"chat_id"`
		Token  string `json:"token"`
	}
	decodeBody(t, rec, &launch)
	require.NotEmpty(t, launch.Token)

	rec = env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/delta", launch.Token,
		map[string]any{"input_tokens": 64, "output_tokens": 16})
	require.Equal(t, http.StatusAccepted, rec.Code, "body: %s", rec.Body.String())

	rec = env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/summary", launch.Token,
		map[string]any{"total_tokens": 80, "status": "completed"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRecordUsageDelta_RequiresExecutionToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/delta", env.userToken(t),
		map[string]any{"input_tokens": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecordUsageDelta_UnboundTokenNeedsChatID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/delta", env.executionToken(t, ""),
		map[string]any{"input_tokens": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL_002", errorCode(t, rec))
}

func TestRecordUsageSummary_CompletesSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")
	summaries, cancel := env.bus.Subscribe(4)
	defer cancel()

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/summary", env.executionToken(t, chatID),
		map[string]any{"total_tokens": 900, "status": "completed"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	event := <-summaries
	assert.Equal(t, events.TypeUsageSummary, event.Type)
	assert.Equal(t, 900, event.Payload["total_tokens"])
	assert.Equal(t, "completed", event.Payload["status"])

	// The completed run now satisfies gates on the workflow.
	done, err := env.sessions.HasCompletedSession(
		context.Background(), fixtures.AppID, fixtures.UserID, "onboarding")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestRecordUsageSummary_UnlocksGatedWorkflow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/summary", env.executionToken(t, chatID),
		map[string]any{"total_tokens": 10, "status": "completed"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost,
		"/api/v1/apps/"+fixtures.AppID+"/workflows/analysis/launch", env.userToken(t), nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRecordUsageSummary_FailedRunDoesNotSatisfyGate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/summary", env.executionToken(t, chatID),
		map[string]any{"total_tokens": 10, "status": "failed"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	done, err := env.sessions.HasCompletedSession(
		context.Background(), fixtures.AppID, fixtures.UserID, "onboarding")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRecordUsageSummary_UnknownStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/summary", env.executionToken(t, chatID),
		map[string]any{"total_tokens": 10, "status": "finished"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VAL_001", errorCode(t, rec))
}

func TestRecordUsage_ChatBindingEnforced(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AppID+"/delta", env.executionToken(t, chatID),
		map[string]any{"chat_id": "some-other-chat", "input_tokens": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTHZ_002", errorCode(t, rec))
}

func TestRecordUsage_AppBindingEnforced(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	chatID := startSession(t, env, "onboarding")

	rec := env.do(t, http.MethodPost,
		"/api/v1/usage/"+fixtures.AltAppID+"/delta", env.executionToken(t, chatID),
		map[string]any{"input_tokens": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
