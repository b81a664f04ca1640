package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// newMockClient wires a pgxmock pool into a Client. The mock is closed
// and its expectations checked when the test finishes.
func newMockClient(t *testing.T) (pgxmock.PgxPoolIface, *Client) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(func() {
		if expErr := mock.ExpectationsWereMet(); expErr != nil {
			t.Errorf("unfulfilled expectations: %v", expErr)
		}
		mock.Close()
	})
	return mock, NewFromPool(mock, &Config{Database: "mozaiks"})
}

// ===========================================================================
// NewFromPool
// ===========================================================================

func TestNewFromPool(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	cfg := &Config{Database: "mozaiks"}
	client := NewFromPool(mock, cfg)

	if client.pool == nil {
		t.Error("pool is nil, want non-nil")
	}
	if client.config != cfg {
		t.Error("config not stored")
	}
	if client.databaseName != "mozaiks" {
		t.Errorf("databaseName = %q, want %q", client.databaseName, "mozaiks")
	}
	if client.tracer == nil {
		t.Error("tracer is nil, want non-nil")
	}
}

func TestNewFromPool_NilConfig(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	client := NewFromPool(mock, nil)

	if client.config == nil {
		t.Error("config is nil, want zero-value Config")
	}
	if client.databaseName != "" {
		t.Errorf("databaseName = %q, want empty for nil config", client.databaseName)
	}
}

// ===========================================================================
// Query
// ===========================================================================

func TestClient_Query(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectQuery("SELECT app_id, tier FROM entitlements").
		WillReturnRows(pgxmock.NewRows([]string{"app_id", "tier"}).
			AddRow("app-001", "pro").
			AddRow("app-002", "free"))

	rows, err := client.Query(context.Background(),
		"SELECT app_id, tier FROM entitlements")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var appID, tier string
		if scanErr := rows.Scan(&appID, &tier); scanErr != nil {
			t.Fatalf("Scan() error: %v", scanErr)
		}
		count++
	}
	if count != 2 {
		t.Errorf("row count = %d, want 2", count)
	}
}

func TestClient_Query_DatabaseError(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectQuery("SELECT").
		WillReturnError(errors.New("relation does not exist"))

	_, queryErr := client.Query(context.Background(), "SELECT * FROM nonexistent")
	if queryErr == nil {
		t.Fatal("Query() expected error, got nil")
	}
	assertCode(t, queryErr, cperr.CodeInternalDatabase)
}

func TestClient_Query_DeadlineExceeded(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectQuery("SELECT").
		WillReturnError(context.DeadlineExceeded)

	_, queryErr := client.Query(context.Background(), "SELECT 1")
	if queryErr == nil {
		t.Fatal("Query() expected error, got nil")
	}
	assertCode(t, queryErr, cperr.CodeTimeoutDatabase)
}

// ===========================================================================
// QueryRow
// ===========================================================================

func TestClient_QueryRow(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectQuery("SELECT tier FROM entitlements WHERE app_id").
		WithArgs("app-001").
		WillReturnRows(pgxmock.NewRows([]string{"tier"}).AddRow("pro"))

	var tier string
	scanErr := client.QueryRow(context.Background(),
		"SELECT tier FROM entitlements WHERE app_id = $1", "app-001").Scan(&tier)
	if scanErr != nil {
		t.Fatalf("Scan() error: %v", scanErr)
	}
	if tier != "pro" {
		t.Errorf("tier = %q, want %q", tier, "pro")
	}
}

func TestClient_QueryRow_NoRows(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectQuery("SELECT tier FROM entitlements WHERE app_id").
		WithArgs("app-404").
		WillReturnError(pgx.ErrNoRows)

	// pgx defers the error to Scan; callers match pgx.ErrNoRows there.
	var tier string
	scanErr := client.QueryRow(context.Background(),
		"SELECT tier FROM entitlements WHERE app_id = $1", "app-404").Scan(&tier)
	if !errors.Is(scanErr, pgx.ErrNoRows) {
		t.Errorf("Scan() error = %v, want pgx.ErrNoRows", scanErr)
	}
}

// ===========================================================================
// Exec
// ===========================================================================

func TestClient_Exec(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectExec("DELETE FROM sessions").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	tag, err := client.Exec(context.Background(),
		"DELETE FROM sessions WHERE expired = true")
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if tag.RowsAffected() != 5 {
		t.Errorf("RowsAffected() = %d, want 5", tag.RowsAffected())
	}
}

func TestClient_Exec_UniqueViolation(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectExec("INSERT INTO entitlements").
		WithArgs("app-001").
		WillReturnError(&pgconn.PgError{
			Code:    "23505",
			Message: "duplicate key value violates unique constraint",
		})

	_, execErr := client.Exec(context.Background(),
		"INSERT INTO entitlements (app_id) VALUES ($1)", "app-001")
	if execErr == nil {
		t.Fatal("Exec() expected error, got nil")
	}
	assertCode(t, execErr, cperr.CodeInternalDatabase)
}

// ===========================================================================
// Begin
// ===========================================================================

func TestClient_Begin(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectBegin()

	tx, err := client.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if tx == nil {
		t.Error("Begin() returned nil transaction")
	}
}

func TestClient_Begin_Error(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, beginErr := client.Begin(context.Background())
	if beginErr == nil {
		t.Fatal("Begin() expected error, got nil")
	}
	assertCode(t, beginErr, cperr.CodeInternalDatabase)
}

// ===========================================================================
// Health
// ===========================================================================

func TestClient_Health(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectPing()

	// context.Background has no deadline, so this also exercises the
	// DefaultHealthTimeout path.
	if healthErr := client.Health(context.Background()); healthErr != nil {
		t.Fatalf("Health() error: %v", healthErr)
	}
}

func TestClient_Health_Failure(t *testing.T) {
	mock, client := newMockClient(t)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	healthErr := client.Health(context.Background())
	if healthErr == nil {
		t.Fatal("Health() expected error, got nil")
	}
	assertCode(t, healthErr, cperr.CodeUnavailableDependency)
}

// ===========================================================================
// Close and Pool accessor
// ===========================================================================

func TestClient_Close(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}

	mock.ExpectClose()

	client := NewFromPool(mock, nil)
	client.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClient_PoolAccessor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	client := NewFromPool(mock, nil)
	if client.Pool() == nil {
		t.Error("Pool() returned nil, want the injected pool")
	}
}

// ===========================================================================
// wrapError
// ===========================================================================

func TestWrapError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		if got := wrapError(nil, "never wrapped"); got != nil {
			t.Errorf("wrapError(nil) = %v, want nil", got)
		}
	})

	t.Run("deadline exceeded is a timeout", func(t *testing.T) {
		got := wrapError(context.DeadlineExceeded, "query timed out")
		if got.Code != cperr.CodeTimeoutDatabase {
			t.Errorf("code = %q, want %q", got.Code, cperr.CodeTimeoutDatabase)
		}
		if !errors.Is(got, context.DeadlineExceeded) {
			t.Error("result does not unwrap to context.DeadlineExceeded")
		}
	})

	t.Run("cancellation is a timeout", func(t *testing.T) {
		got := wrapError(context.Canceled, "query canceled")
		if got.Code != cperr.CodeTimeoutDatabase {
			t.Errorf("code = %q, want %q", got.Code, cperr.CodeTimeoutDatabase)
		}
		if !errors.Is(got, context.Canceled) {
			t.Error("result does not unwrap to context.Canceled")
		}
	})

	t.Run("generic error is internal", func(t *testing.T) {
		cause := errors.New("syntax error at or near SELECT")
		got := wrapError(cause, "exec failed")
		if got.Code != cperr.CodeInternalDatabase {
			t.Errorf("code = %q, want %q", got.Code, cperr.CodeInternalDatabase)
		}
		if !errors.Is(got, cause) {
			t.Error("result does not unwrap to the cause")
		}
	})

	t.Run("pg error stays in the chain", func(t *testing.T) {
		pgErr := &pgconn.PgError{
			Code:    "42P01",
			Message: `relation "entitlements" does not exist`,
		}
		got := wrapError(pgErr, "query failed")
		if got.Code != cperr.CodeInternalDatabase {
			t.Errorf("code = %q, want %q", got.Code, cperr.CodeInternalDatabase)
		}
		var unwrapped *pgconn.PgError
		if !errors.As(got, &unwrapped) {
			t.Error("result does not unwrap to *pgconn.PgError")
		}
	})
}

// ===========================================================================
// Classification through the predicates
// ===========================================================================

// Callers retry on the predicates, not on codes, so check the full path
// from a pool error to IsTimeout/IsRetryable/IsInternal.
func TestErrorClassification(t *testing.T) {
	t.Run("query timeout retries", func(t *testing.T) {
		mock, client := newMockClient(t)
		mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)

		_, queryErr := client.Query(context.Background(), "SELECT 1")
		if queryErr == nil {
			t.Fatal("Query() expected error, got nil")
		}
		if !cperr.IsTimeout(queryErr) {
			t.Error("IsTimeout() = false, want true")
		}
		if !cperr.IsRetryable(queryErr) {
			t.Error("IsRetryable() = false, want true")
		}
		if !cperr.IsServerError(queryErr) {
			t.Error("IsServerError() = false, want true")
		}
	})

	t.Run("exec failure does not retry", func(t *testing.T) {
		mock, client := newMockClient(t)
		mock.ExpectExec("INSERT").WillReturnError(errors.New("disk full"))

		_, execErr := client.Exec(context.Background(),
			"INSERT INTO usage_records (app_id) VALUES ($1)", "app-001")
		if execErr == nil {
			t.Fatal("Exec() expected error, got nil")
		}
		if !cperr.IsInternal(execErr) {
			t.Error("IsInternal() = false, want true")
		}
		if cperr.IsRetryable(execErr) {
			t.Error("IsRetryable() = true, want false")
		}
	})

	t.Run("health failure retries", func(t *testing.T) {
		mock, client := newMockClient(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		healthErr := client.Health(context.Background())
		if healthErr == nil {
			t.Fatal("Health() expected error, got nil")
		}
		if !cperr.IsUnavailable(healthErr) {
			t.Error("IsUnavailable() = false, want true")
		}
		if !cperr.IsRetryable(healthErr) {
			t.Error("IsRetryable() = false, want true")
		}
	})
}

// assertCode fails the test unless err is a structured error with the
// given code.
func assertCode(t *testing.T, err error, want cperr.Code) {
	t.Helper()
	var cpErr *cperr.Error
	if !errors.As(err, &cpErr) {
		t.Fatalf("error type = %T, want *cperr.Error", err)
	}
	if cpErr.Code != want {
		t.Errorf("error code = %q, want %q", cpErr.Code, want)
	}
}
