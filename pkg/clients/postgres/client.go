// Package postgres provides the PostgreSQL client the Mozaiks control
// plane uses for workflow session and entitlement persistence. It wraps
// pgxpool and layers OpenTelemetry spans and structured error
// classification over Query, QueryRow, Exec, Begin, and Health; pooling
// and connection-level retry stay inside pgxpool.
//
// Construction:
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = postgres.Secret("my-password")
//	client, err := postgres.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// Tests inject a fake pool through [NewFromPool]:
//
//	mock, _ := pgxmock.NewPool()
//	client := postgres.NewFromPool(mock, &postgres.Config{Database: "testdb"})
//
// SQL recorded on spans is truncated to 100 runes so statement payloads
// never reach the telemetry backend. In-cluster the defaults point at
// postgres.databases.svc.cluster.local:5432; the mesh provides mTLS, so
// application-level SSL stays at [SSLModeRequire]. Cloud-managed
// databases (RDS, Azure, Cloud SQL) work with the matching [SSLMode] and
// [Config.SSLRootCert].
package postgres

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// tracerName is the OTel instrumentation scope for this package.
const tracerName = "github.com/mozaiks/control-plane/pkg/clients/postgres"

// Pool is the slice of the pgxpool API the client depends on. The
// method set matches pgx v5 exactly, so [*pgxpool.Pool] satisfies it
// without adaptation and pgxmock can stand in for unit tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow defers errors until the returned pgx.Row is scanned.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client wraps a [Pool] and adds tracing and error classification to
// every operation. It is safe for concurrent use; create one per
// database and share it.
type Client struct {
	pool         Pool
	config       *Config
	tracer       trace.Tracer
	databaseName string
}

// NewClient validates the config, builds the pool (with custom TLS when
// a CA certificate is configured), and pings before returning. The
// caller owns [Client.Close].
//
// Failures come back as [cperr.CodeValidation] (bad config),
// [cperr.CodeInternalConfiguration] (TLS setup), or
// [cperr.CodeUnavailableDependency] (pool creation or connect).
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, cperr.Wrap(err, cperr.CodeValidation,
			"postgres: invalid configuration")
	}

	connStr := cfg.ConnectionString()

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, cperr.Wrap(err, cperr.CodeValidation,
			"postgres: failed to parse connection string")
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, cperr.Wrap(err, cperr.CodeInternalConfiguration,
			"postgres: failed to configure TLS")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"postgres: failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"postgres: failed to connect to database")
	}

	// The db.name span attribute comes from the URI path when one is set.
	dbName := cfg.Database
	if cfg.URI != "" {
		if u, parseErr := url.Parse(cfg.URI); parseErr == nil {
			dbName = strings.TrimPrefix(u.Path, "/")
		}
	}

	return &Client{
		pool:         pool,
		config:       &cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: dbName,
	}, nil
}

// NewFromPool wraps an existing [Pool], typically a pgxmock pool in
// unit tests. cfg is stored but not validated; nil means a zero-value
// config.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		pool:         pool,
		config:       cfg,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.Database,
	}
}

// Query runs a row-returning statement. The caller closes the returned
// [pgx.Rows]. Errors wrap as [cperr.CodeTimeoutDatabase] on deadline or
// cancellation and [cperr.CodeInternalDatabase] otherwise.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)

	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		finishSpan(span, err)
		return nil, wrapError(err, "postgres: query failed")
	}
	// Row-level errors surface during iteration, after the span ends.
	finishSpan(span, nil)
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row. The
// returned [pgx.Row] is never nil; pgx defers errors, including
// pgx.ErrNoRows, to Scan. The span therefore covers only query
// execution, not scan-time errors.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	defer span.End()

	return c.pool.QueryRow(ctx, sql, args...)
}

// Exec runs a statement that returns no rows (INSERT, UPDATE, DELETE,
// DDL) and hands back the command tag.
func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)

	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec failed")
	}
	return tag, nil
}

// Begin opens a transaction. Callers must commit or roll back; defer
// tx.Rollback(ctx) right after Begin is safe because pgx treats rollback
// of a committed transaction as a no-op.
func (c *Client) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := c.startSpan(ctx, "Begin", "BEGIN")

	tx, err := c.pool.Begin(ctx)
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: begin transaction failed")
	}
	return tx, nil
}

// Health pings the database, applying [DefaultHealthTimeout] when the
// caller's context has no deadline. Failures come back as
// [cperr.CodeUnavailableDependency]; readiness probes key off this.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"postgres: health check failed")
	}
	return nil
}

// Close releases the pool. It waits for acquired connections to return,
// so cancel or drain in-flight queries first. Safe to call repeatedly.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the underlying pool for operations the wrapper does not
// cover, such as CopyFrom or SendBatch. Close it through [Client.Close],
// not directly.
func (c *Client) Pool() Pool {
	return c.pool
}

// startSpan opens a client span carrying the database semantic
// conventions attributes.
func (c *Client) startSpan(ctx context.Context, operationName, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+operationName,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	return ctx, span
}

// finishSpan records err on the span, sets the status, and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a database error: deadline and cancellation map
// to the timeout category so [cperr.IsRetryable] holds, everything else
// is internal.
func wrapError(err error, message string) *cperr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return cperr.Wrap(err, cperr.CodeTimeoutDatabase, message)
	}
	return cperr.Wrap(err, cperr.CodeInternalDatabase, message)
}
