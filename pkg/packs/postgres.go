package packs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mozaiks/control-plane/pkg/clients/postgres"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
	"github.com/mozaiks/control-plane/pkg/models"
)

// PostgresSessionStore persists workflow sessions in the
// workflow_sessions table. Session metadata is stored as JSONB.
//
// Expected schema:
//
//	CREATE TABLE workflow_sessions (
//	    id            TEXT PRIMARY KEY,
//	    app_id        TEXT NOT NULL,
//	    user_id       TEXT NOT NULL,
//	    workflow      TEXT NOT NULL,
//	    status        TEXT NOT NULL,
//	    start_time    TIMESTAMPTZ NOT NULL,
//	    end_time      TIMESTAMPTZ,
//	    tokens_used   INTEGER NOT NULL DEFAULT 0,
//	    error_message TEXT NOT NULL DEFAULT '',
//	    metadata      JSONB NOT NULL DEFAULT '{}',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX workflow_sessions_gate_idx
//	    ON workflow_sessions (app_id, user_id, workflow, status);
type PostgresSessionStore struct {
	db *postgres.Client
}

// NewPostgresSessionStore creates a PostgresSessionStore over the given
// client.
func NewPostgresSessionStore(db *postgres.Client) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

const createSessionSQL = `
INSERT INTO workflow_sessions (
    id, app_id, user_id, workflow, status, start_time,
    end_time, tokens_used, error_message, metadata, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// CreateSession inserts the session record.
func (s *PostgresSessionStore) CreateSession(ctx context.Context, session *models.WorkflowSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return cperr.Wrap(err, cperr.CodeInternal,
			"packs: failed to encode session metadata")
	}

	_, err = s.db.Exec(ctx, createSessionSQL,
		session.ID,
		session.AppID,
		session.UserID,
		session.Workflow,
		session.Status.String(),
		session.StartTime,
		session.EndTime,
		session.TokensUsed,
		session.ErrorMessage,
		metadata,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("packs: failed to create session %s: %w", session.ID, err)
	}
	return nil
}

const updateSessionStatusSQL = `
UPDATE workflow_sessions
SET status = $2,
    end_time = CASE WHEN $3 THEN NOW() ELSE end_time END,
    updated_at = NOW()
WHERE id = $1`

// UpdateStatus transitions the session to the new status, stamping
// end_time when the status is terminal.
func (s *PostgresSessionStore) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	if !status.Valid() {
		return cperr.Newf(cperr.CodeValidation,
			"packs: invalid session status %q", status)
	}

	tag, err := s.db.Exec(ctx, updateSessionStatusSQL,
		sessionID, status.String(), status.IsTerminal())
	if err != nil {
		return fmt.Errorf("packs: failed to update session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return cperr.Newf(cperr.CodeNotFound,
			"packs: session %s not found", sessionID)
	}
	return nil
}

const hasCompletedSessionSQL = `
SELECT EXISTS (
    SELECT 1 FROM workflow_sessions
    WHERE app_id = $1 AND user_id = $2 AND workflow = $3 AND status = $4
)`

// HasCompletedSession reports whether (appID, userID) has at least one
// completed session of the workflow. Existence is all that matters;
// later failed or canceled runs never revoke a satisfied gate.
func (s *PostgresSessionStore) HasCompletedSession(ctx context.Context, appID, userID, workflow string) (bool, error) {
	var exists bool
	row := s.db.QueryRow(ctx, hasCompletedSessionSQL,
		appID, userID, workflow, models.SessionStatusCompleted.String())
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("packs: completed-session check for workflow %s failed: %w", workflow, err)
	}
	return exists, nil
}
