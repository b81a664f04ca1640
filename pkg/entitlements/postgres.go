package entitlements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mozaiks/control-plane/pkg/clients/postgres"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// PostgresStore persists entitlement records in the entitlements table.
// Feature flags and rate limits are stored as JSONB.
//
// Expected schema:
//
//	CREATE TABLE entitlements (
//	    app_id             TEXT PRIMARY KEY,
//	    plan_tier          TEXT NOT NULL,
//	    plan_name          TEXT NOT NULL DEFAULT '',
//	    plan_expires_at    TIMESTAMPTZ,
//	    monthly_tokens     BIGINT NOT NULL DEFAULT 0,
//	    per_session_tokens BIGINT NOT NULL DEFAULT 0,
//	    features           JSONB NOT NULL DEFAULT '{}',
//	    rate_limits        JSONB NOT NULL DEFAULT '{}',
//	    synced_at          TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *postgres.Client
}

// NewPostgresStore creates a PostgresStore over the given client.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

const upsertEntitlementSQL = `
INSERT INTO entitlements (
    app_id, plan_tier, plan_name, plan_expires_at,
    monthly_tokens, per_session_tokens, features, rate_limits, synced_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (app_id) DO UPDATE SET
    plan_tier          = EXCLUDED.plan_tier,
    plan_name          = EXCLUDED.plan_name,
    plan_expires_at    = EXCLUDED.plan_expires_at,
    monthly_tokens     = EXCLUDED.monthly_tokens,
    per_session_tokens = EXCLUDED.per_session_tokens,
    features           = EXCLUDED.features,
    rate_limits        = EXCLUDED.rate_limits,
    synced_at          = EXCLUDED.synced_at`

// Upsert inserts or replaces the record for record.AppID. Last write
// wins; there is no version guard.
func (s *PostgresStore) Upsert(ctx context.Context, record *Record) error {
	features, err := json.Marshal(record.Features)
	if err != nil {
		return cperr.Wrap(err, cperr.CodeInternal,
			"entitlements: failed to encode features")
	}
	rateLimits, err := json.Marshal(record.RateLimits)
	if err != nil {
		return cperr.Wrap(err, cperr.CodeInternal,
			"entitlements: failed to encode rate limits")
	}

	_, err = s.db.Exec(ctx, upsertEntitlementSQL,
		record.AppID,
		record.Plan.Tier,
		record.Plan.Name,
		record.Plan.ExpiresAt,
		record.TokenBudget.MonthlyTokens,
		record.TokenBudget.PerSessionTokens,
		features,
		rateLimits,
		record.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("entitlements: upsert for app %s failed: %w", record.AppID, err)
	}
	return nil
}

const getEntitlementSQL = `
SELECT app_id, plan_tier, plan_name, plan_expires_at,
       monthly_tokens, per_session_tokens, features, rate_limits, synced_at
FROM entitlements
WHERE app_id = $1`

// Get returns the record for appID, or (nil, false, nil) when the app
// has never synced.
func (s *PostgresStore) Get(ctx context.Context, appID string) (*Record, bool, error) {
	var (
		record     Record
		features   []byte
		rateLimits []byte
	)

	row := s.db.QueryRow(ctx, getEntitlementSQL, appID)
	err := row.Scan(
		&record.AppID,
		&record.Plan.Tier,
		&record.Plan.Name,
		&record.Plan.ExpiresAt,
		&record.TokenBudget.MonthlyTokens,
		&record.TokenBudget.PerSessionTokens,
		&features,
		&rateLimits,
		&record.SyncedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("entitlements: get for app %s failed: %w", appID, err)
	}

	if err := json.Unmarshal(features, &record.Features); err != nil {
		return nil, false, cperr.Wrap(err, cperr.CodeInternal,
			"entitlements: failed to decode features")
	}
	if err := json.Unmarshal(rateLimits, &record.RateLimits); err != nil {
		return nil, false, cperr.Wrap(err, cperr.CodeInternal,
			"entitlements: failed to decode rate limits")
	}
	return &record, true, nil
}
