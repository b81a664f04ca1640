//go:build integration

// Package containers starts throwaway database containers for the
// integration test suites, via testcontainers-go.
//
// Everything here is gated behind the "integration" build tag so unit
// test builds never touch Docker; test files using these helpers carry
// the same tag. Each Start* function hands back the container handle
// plus a connection string the matching client config accepts, and the
// caller terminates the container:
//
//	result, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
//
//	cfg := postgres.Config{URI: result.ConnString, MaxConns: 5}
package containers

import (
	"context"
	"fmt"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// ===========================================================================
// PostgreSQL
// ===========================================================================

// Container image and credentials for the PostgreSQL test instance.
// Alpine keeps pulls small and startup fast; the credentials are
// throwaway and only ever reachable on localhost.
const (
	DefaultPostgresImage    = "docker.io/postgres:16-alpine"
	DefaultPostgresDatabase = "mozaiks_test"
	DefaultPostgresUser     = "testuser"
	DefaultPostgresPassword = "testpassword"
)

// PostgresResult is a started PostgreSQL container plus its connection
// string. ConnString carries sslmode=disable because the container is
// exposed on localhost without TLS; it drops straight into
// [postgres.Config.URI].
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// StartPostgres runs a PostgreSQL 16 container and waits for it to
// accept connections. On a failure after startup the container is
// terminated before the error is returned; otherwise termination is the
// caller's job.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get connection string: %w", err)
	}

	return &PostgresResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}

// ===========================================================================
// Redis
// ===========================================================================

// DefaultRedisImage is the container image for the Redis test instance.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult is a started Redis container plus its redis:// connection
// string. The container runs without authentication.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis runs a Redis 7 container and waits for it to accept
// connections. Cleanup follows the same contract as [StartPostgres].
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	return &RedisResult{
		Container:  container,
		ConnString: connStr,
	}, nil
}
