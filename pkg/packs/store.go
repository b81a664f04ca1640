package packs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mozaiks/control-plane/pkg/models"
)

// SessionStore is the persistence surface gating needs. The completed
// check is existence-based: any completed session of the parent
// workflow satisfies a gate, regardless of what happened in later runs.
type SessionStore interface {
	// HasCompletedSession reports whether (appID, userID) has at least
	// one completed session of the given workflow.
	HasCompletedSession(ctx context.Context, appID, userID, workflow string) (bool, error)

	// CreateSession records a new workflow session at launch.
	CreateSession(ctx context.Context, session *models.WorkflowSession) error

	// UpdateStatus transitions the session with the given ID to the new
	// status. Unknown session IDs are an error.
	UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error
}

// MemorySessionStore is an in-memory SessionStore for tests and
// single-process deployments.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions []*models.WorkflowSession
}

// NewMemorySessionStore creates an empty MemorySessionStore.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

// CreateSession appends a copy of the session.
func (s *MemorySessionStore) CreateSession(_ context.Context, session *models.WorkflowSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	copied := *session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, &copied)
	return nil
}

// HasCompletedSession scans for any completed session matching the key.
func (s *MemorySessionStore) HasCompletedSession(_ context.Context, appID, userID, workflow string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.AppID == appID && session.UserID == userID &&
			session.Workflow == workflow && session.Status == models.SessionStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatus transitions the stored session with the given ID,
// stamping EndTime when the new status is terminal.
func (s *MemorySessionStore) UpdateStatus(_ context.Context, sessionID string, status models.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.ID == sessionID {
			now := time.Now().UTC()
			session.Status = status
			session.UpdatedAt = now
			if status.IsTerminal() {
				session.EndTime = &now
			}
			return nil
		}
	}
	return fmt.Errorf("packs: session %s not found", sessionID)
}
