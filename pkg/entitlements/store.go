package entitlements

import (
	"context"
	"sync"
)

// Store persists entitlement records keyed by app ID.
//
// Upsert follows last-write-wins semantics: there is no version guard,
// and concurrent syncs for the same app may interleave. That race is an
// accepted property of the sync protocol, not something implementations
// should try to serialize.
type Store interface {
	// Upsert inserts or replaces the record for record.AppID.
	Upsert(ctx context.Context, record *Record) error

	// Get returns the record for appID. The second return value is
	// false when no record exists; that is not an error.
	Get(ctx context.Context, appID string) (*Record, bool, error)
}

// MemoryStore is a lock-guarded in-memory Store for tests and
// single-process deployments that do not persist entitlements.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Upsert stores a copy of the record.
func (s *MemoryStore) Upsert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.AppID] = cloneRecord(record)
	return nil
}

// Get returns a copy of the stored record, if any.
func (s *MemoryStore) Get(_ context.Context, appID string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[appID]
	if !ok {
		return nil, false, nil
	}
	clone := cloneRecord(&record)
	return &clone, true, nil
}

// cloneRecord deep-copies a record so callers cannot mutate stored maps.
func cloneRecord(record *Record) Record {
	clone := *record
	clone.Features = make(map[string]bool, len(record.Features))
	for k, v := range record.Features {
		clone.Features[k] = v
	}
	clone.RateLimits = make(map[string]int, len(record.RateLimits))
	for k, v := range record.RateLimits {
		clone.RateLimits[k] = v
	}
	if record.Plan.ExpiresAt != nil {
		expiresAt := *record.Plan.ExpiresAt
		clone.Plan.ExpiresAt = &expiresAt
	}
	return clone
}
