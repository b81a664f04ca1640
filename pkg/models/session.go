// Package models defines the core data models for the Mozaiks control
// plane.
//
// The models in this package are shared across the API layer, the workflow
// gatekeeper, and the persistence stores. They are designed for
// serialization (JSON) and database persistence.
//
// Session Model:
//
// The [WorkflowSession] type represents a single workflow run, the record
// the control plane creates when a user launches a workflow and hands off
// to the downstream runtime. Prerequisite gating consults completed
// sessions to decide whether a user may start a dependent workflow.
//
// A WorkflowSession flows through a defined lifecycle:
//
//	pending → running → completed
//	                  → failed
//	                  → canceled
//	                  → timeout
//
// Once a session reaches a terminal state (completed, failed, canceled,
// timeout), it cannot transition to another state. The
// [WorkflowSession.IsTerminal] method identifies terminal states.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionSchemaVersion identifies the current schema version of the
// WorkflowSession model. Increment this when making breaking changes to
// the struct fields or serialization format.
const SessionSchemaVersion = 1

// SessionStatus represents the lifecycle state of a workflow session.
// Sessions begin in [SessionStatusPending] and progress through the
// lifecycle until reaching a terminal state.
type SessionStatus string

const (
	// SessionStatusPending indicates the session has been created but the
	// runtime has not yet picked it up. This is the initial state set by
	// [NewWorkflowSession].
	SessionStatusPending SessionStatus = "pending"

	// SessionStatusRunning indicates the workflow is actively executing in
	// the downstream runtime.
	SessionStatusRunning SessionStatus = "running"

	// SessionStatusCompleted indicates the workflow finished successfully.
	// This is a terminal state, and the one prerequisite gating looks for.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed indicates the workflow encountered an error and
	// could not complete. This is a terminal state. The error details are
	// recorded in [WorkflowSession.ErrorMessage].
	SessionStatusFailed SessionStatus = "failed"

	// SessionStatusCanceled indicates the session was canceled by a user
	// or system action before completion. This is a terminal state.
	SessionStatusCanceled SessionStatus = "canceled"

	// SessionStatusTimeout indicates the session exceeded its allowed time
	// limit and was terminated. This is a terminal state.
	SessionStatusTimeout SessionStatus = "timeout"
)

// String returns the string representation of the session status.
func (s SessionStatus) String() string {
	return string(s)
}

// Valid reports whether the session status is one of the recognized values.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning,
		SessionStatusCompleted, SessionStatusFailed,
		SessionStatusCanceled, SessionStatusTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether this status represents a final state from
// which no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed,
		SessionStatusCanceled, SessionStatusTimeout:
		return true
	default:
		return false
	}
}

// WorkflowSession represents a single workflow run in the Mozaiks control
// plane. The control plane creates one when a user launches a workflow;
// the downstream runtime updates it as the run progresses.
//
// Sessions are created via [NewWorkflowSession] and are immutable after
// creation except for status-related updates (Status, EndTime, TokensUsed,
// ErrorMessage, Metadata, UpdatedAt).
type WorkflowSession struct {
	// ID is the unique identifier for this session (UUID v4). It doubles
	// as the chat_id bound into the execution token minted at launch.
	ID string `json:"id" db:"id"`

	// AppID identifies the app this workflow run belongs to.
	AppID string `json:"app_id" db:"app_id"`

	// UserID is the stable identifier of the user who launched the
	// workflow, taken from their validated token claims.
	UserID string `json:"user_id" db:"user_id"`

	// Workflow is the pack-defined workflow key this session runs.
	Workflow string `json:"workflow" db:"workflow"`

	// Status is the current lifecycle state of the session.
	// See [SessionStatus] for valid values.
	Status SessionStatus `json:"status" db:"status"`

	// StartTime is the UTC timestamp when the session was launched.
	StartTime time.Time `json:"start_time" db:"start_time"`

	// EndTime is the UTC timestamp when the session reached a terminal
	// state. Nil while the session is still pending or running.
	EndTime *time.Time `json:"end_time,omitempty" db:"end_time"`

	// TokensUsed is the total number of tokens the run consumed (input +
	// output), as reported by advisory usage events. Zero until the
	// runtime reports usage.
	TokensUsed int `json:"tokens_used,omitempty" db:"tokens_used"`

	// ErrorMessage contains the error details when the session has failed.
	// Empty for non-failed sessions.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	// Metadata is an extensible key-value store for runtime-specific data.
	// Nil metadata is normalized to an empty map by [NewWorkflowSession].
	Metadata map[string]any `json:"metadata" db:"metadata"`

	// CreatedAt is the UTC timestamp when the session record was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the UTC timestamp when the session record was last
	// modified. Updated on every status change.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewWorkflowSession creates a WorkflowSession with a generated UUID,
// pending status, and UTC timestamps. The metadata map is initialized to an
// empty map.
//
// Returns an error if appID, userID, or workflow is empty; these fields
// drive gating lookups and cannot be meaningfully defaulted.
func NewWorkflowSession(appID, userID, workflow string) (*WorkflowSession, error) {
	if appID == "" {
		return nil, errors.New("models: session appID must not be empty")
	}
	if userID == "" {
		return nil, errors.New("models: session userID must not be empty")
	}
	if workflow == "" {
		return nil, errors.New("models: session workflow must not be empty")
	}

	now := time.Now().UTC()
	return &WorkflowSession{
		ID:        uuid.New().String(),
		AppID:     appID,
		UserID:    userID,
		Workflow:  workflow,
		Status:    SessionStatusPending,
		StartTime: now,
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks that all required fields are present and that the status
// is a recognized value. Returns the first validation error encountered,
// or nil if the session is valid.
func (s *WorkflowSession) Validate() error {
	if s.ID == "" {
		return errors.New("models: session ID is required")
	}
	if s.AppID == "" {
		return errors.New("models: session app ID is required")
	}
	if s.UserID == "" {
		return errors.New("models: session user ID is required")
	}
	if s.Workflow == "" {
		return errors.New("models: session workflow is required")
	}
	if !s.Status.Valid() {
		return fmt.Errorf("models: invalid session status %q", s.Status)
	}
	if s.StartTime.IsZero() {
		return errors.New("models: session start time is required")
	}
	if s.CreatedAt.IsZero() {
		return errors.New("models: session created_at is required")
	}
	if s.UpdatedAt.IsZero() {
		return errors.New("models: session updated_at is required")
	}
	if s.TokensUsed < 0 {
		return fmt.Errorf("models: session tokens_used must not be negative, got %d", s.TokensUsed)
	}
	return nil
}

// IsTerminal reports whether the session has reached a final state from
// which no further transitions are possible.
func (s *WorkflowSession) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Complete transitions the session to completed, stamping EndTime and
// UpdatedAt. Returns an error when the session is already terminal.
func (s *WorkflowSession) Complete() error {
	return s.finish(SessionStatusCompleted, "")
}

// Fail transitions the session to failed with the given error message.
// Returns an error when the session is already terminal.
func (s *WorkflowSession) Fail(message string) error {
	return s.finish(SessionStatusFailed, message)
}

func (s *WorkflowSession) finish(status SessionStatus, message string) error {
	if s.IsTerminal() {
		return fmt.Errorf("models: session %s is already terminal (%s)", s.ID, s.Status)
	}
	now := time.Now().UTC()
	s.Status = status
	s.EndTime = &now
	s.ErrorMessage = message
	s.UpdatedAt = now
	return nil
}

// Duration returns the wall-clock duration of the session. If the session
// has an EndTime, the duration is from StartTime to EndTime; otherwise it
// is from StartTime to now.
//
// Returns zero if StartTime is zero.
func (s *WorkflowSession) Duration() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}
