package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mozaiks/control-plane/pkg/clients/postgres"
)

// newMockStore creates a PostgresStore backed by a pgxmock pool.
func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	client := postgres.NewFromPool(mock, &postgres.Config{Database: "mozaiks"})
	return NewPostgresStore(client), mock
}

func TestPostgresStore_Upsert(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	syncedAt := time.Now().UTC()
	record := &Record{
		AppID:       "app-1",
		Plan:        Plan{Tier: "pro", Name: "Pro"},
		TokenBudget: TokenBudget{MonthlyTokens: 1_000_000, PerSessionTokens: 50_000},
		Features:    map[string]bool{"export": true},
		RateLimits:  map[string]int{"launches_per_minute": 30},
		SyncedAt:    syncedAt,
	}

	mock.ExpectExec("INSERT INTO entitlements").
		WithArgs("app-1", "pro", "Pro", (*time.Time)(nil),
			int64(1_000_000), int64(50_000),
			[]byte(`{"export":true}`), []byte(`{"launches_per_minute":30}`),
			syncedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), record))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO entitlements").
		WillReturnError(errors.New("connection reset"))

	err := store.Upsert(context.Background(), OSSDefault("app-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert for app app-1 failed")
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	syncedAt := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"app_id", "plan_tier", "plan_name", "plan_expires_at",
		"monthly_tokens", "per_session_tokens", "features", "rate_limits", "synced_at",
	}).AddRow(
		"app-1", "pro", "Pro", (*time.Time)(nil),
		int64(1_000_000), int64(0),
		[]byte(`{"export":true}`), []byte(`{"launches_per_minute":30}`),
		syncedAt,
	)
	mock.ExpectQuery("SELECT (.+) FROM entitlements").
		WithArgs("app-1").
		WillReturnRows(rows)

	record, found, err := store.Get(context.Background(), "app-1")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "app-1", record.AppID)
	assert.Equal(t, "pro", record.Plan.Tier)
	assert.Equal(t, int64(1_000_000), record.TokenBudget.MonthlyTokens)
	assert.True(t, record.Features["export"])
	assert.Equal(t, 30, record.RateLimits["launches_per_minute"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM entitlements").
		WithArgs("never-synced").
		WillReturnError(pgx.ErrNoRows)

	record, found, err := store.Get(context.Background(), "never-synced")
	require.NoError(t, err, "a missing record is not an error")
	assert.False(t, found)
	assert.Nil(t, record)
}

func TestPostgresStore_GetQueryError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM entitlements").
		WithArgs("app-1").
		WillReturnError(errors.New("connection reset"))

	_, _, err := store.Get(context.Background(), "app-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get for app app-1 failed")
}
