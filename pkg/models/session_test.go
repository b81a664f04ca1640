package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkflowSession_Defaults(t *testing.T) {
	t.Parallel()
	session, err := NewWorkflowSession("app-1", "user-1", "onboarding")
	require.NoError(t, err)

	_, err = uuid.Parse(session.ID)
	assert.NoError(t, err, "session ID should be a valid UUID")
	assert.Equal(t, "app-1", session.AppID)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "onboarding", session.Workflow)
	assert.Equal(t, SessionStatusPending, session.Status)
	assert.NotNil(t, session.Metadata)
	assert.Nil(t, session.EndTime)
	assert.False(t, session.CreatedAt.IsZero())
	assert.Equal(t, session.CreatedAt, session.UpdatedAt)
}

func TestNewWorkflowSession_RequiredFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                    string
		appID, userID, workflow string
	}{
		{"missing app", "", "user-1", "onboarding"},
		{"missing user", "app-1", "", "onboarding"},
		{"missing workflow", "app-1", "user-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewWorkflowSession(tt.appID, tt.userID, tt.workflow)
			assert.Error(t, err)
		})
	}
}

func TestWorkflowSession_Validate(t *testing.T) {
	t.Parallel()
	session, err := NewWorkflowSession("app-1", "user-1", "onboarding")
	require.NoError(t, err)
	assert.NoError(t, session.Validate())

	session.Status = SessionStatus("bogus")
	assert.Error(t, session.Validate())

	session, _ = NewWorkflowSession("app-1", "user-1", "onboarding")
	session.TokensUsed = -1
	assert.Error(t, session.Validate())
}

func TestSessionStatus_Lifecycle(t *testing.T) {
	t.Parallel()
	terminal := []SessionStatus{
		SessionStatusCompleted, SessionStatusFailed,
		SessionStatusCanceled, SessionStatusTimeout,
	}
	for _, s := range terminal {
		assert.True(t, s.Valid(), "%s should be valid", s)
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	assert.False(t, SessionStatusPending.IsTerminal())
	assert.False(t, SessionStatusRunning.IsTerminal())
	assert.False(t, SessionStatus("bogus").Valid())
}

func TestWorkflowSession_Complete(t *testing.T) {
	t.Parallel()
	session, err := NewWorkflowSession("app-1", "user-1", "onboarding")
	require.NoError(t, err)

	require.NoError(t, session.Complete())
	assert.Equal(t, SessionStatusCompleted, session.Status)
	require.NotNil(t, session.EndTime)
	assert.True(t, session.IsTerminal())

	// Terminal sessions cannot transition again.
	assert.Error(t, session.Complete())
	assert.Error(t, session.Fail("late failure"))
}

func TestWorkflowSession_Fail(t *testing.T) {
	t.Parallel()
	session, err := NewWorkflowSession("app-1", "user-1", "onboarding")
	require.NoError(t, err)

	require.NoError(t, session.Fail("runtime crashed"))
	assert.Equal(t, SessionStatusFailed, session.Status)
	assert.Equal(t, "runtime crashed", session.ErrorMessage)
}

func TestWorkflowSession_Duration(t *testing.T) {
	t.Parallel()
	session, err := NewWorkflowSession("app-1", "user-1", "onboarding")
	require.NoError(t, err)

	start := time.Now().UTC().Add(-time.Minute)
	end := start.Add(30 * time.Second)
	session.StartTime = start
	session.EndTime = &end
	assert.Equal(t, 30*time.Second, session.Duration())

	session.EndTime = nil
	assert.InDelta(t, time.Minute.Seconds(), session.Duration().Seconds(), 5)

	session.StartTime = time.Time{}
	assert.Zero(t, session.Duration())
}

func TestWorkflowSession_JSONRoundTrip(t *testing.T) {
	t.Parallel()
	session, err := NewWorkflowSession("app-1", "user-1", "onboarding")
	require.NoError(t, err)
	session.TokensUsed = 1234

	data, err := json.Marshal(session)
	require.NoError(t, err)

	var decoded WorkflowSession
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, session.ID, decoded.ID)
	assert.Equal(t, session.Workflow, decoded.Workflow)
	assert.Equal(t, 1234, decoded.TokensUsed)
	assert.Equal(t, SessionStatusPending, decoded.Status)
}
