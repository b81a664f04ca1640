package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// tracerName is the OTel instrumentation scope, named after the module
// path as the instrumentation convention expects.
const tracerName = "github.com/mozaiks/control-plane/pkg/clients/redis"

// Cmdable is the slice of the go-redis API the control plane actually
// uses: strings and counters for usage metering and rate limits, hashes
// for session state, lists for event backlogs, sets for workflow
// registries, and pub/sub for the event bridge. [*redis.Client]
// satisfies it; tests substitute mocks through [NewFromClient].
type Cmdable interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd

	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd

	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd

	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd

	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd

	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd

	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client wraps a [Cmdable] and adds span emission and structured error
// classification to every operation. It is safe for concurrent use;
// create one per Redis instance and share it.
type Client struct {
	rdb     Cmdable
	config  *Config
	tracer  trace.Tracer
	dbIndex int
}

// NewClient validates cfg, dials Redis with the pooled go-redis client,
// and confirms the connection with a ping before returning. The caller
// owns the client and must call [Client.Close].
//
// Validation problems come back as [cperr.CodeValidation]; a failed
// ping as [cperr.CodeUnavailableDependency].
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, cperr.Wrap(err, cperr.CodeValidation,
			"redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		parsed, err := redis.ParseURL(cfg.URI)
		if err != nil {
			return nil, cperr.Wrap(err, cperr.CodeValidation,
				"redis: failed to parse connection URI")
		}
		opts = parsed
		// The URI carries address and credentials; pool tuning still
		// comes from the structured fields.
		opts.PoolSize = cfg.PoolSize
		opts.MinIdleConns = cfg.MinIdleConns
		opts.MaxRetries = cfg.MaxRetries
		if cfg.DialTimeout > 0 {
			opts.DialTimeout = cfg.DialTimeout
		}
		if cfg.ReadTimeout > 0 {
			opts.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			opts.WriteTimeout = cfg.WriteTimeout
		}
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password:     cfg.Password.Value(),
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"redis: failed to connect to server")
	}

	dbIndex := cfg.DB
	if cfg.URI != "" {
		dbIndex = opts.DB
	}

	return &Client{
		rdb:     rdb,
		config:  &cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: dbIndex,
	}, nil
}

// NewFromClient builds a Client around an existing [Cmdable], skipping
// validation and the connectivity ping. Meant for tests; cfg may be
// nil.
func NewFromClient(rdb Cmdable, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		rdb:     rdb,
		config:  cfg,
		tracer:  otel.Tracer(tracerName),
		dbIndex: cfg.DB,
	}
}

// Set writes a string value with an optional expiration (zero means no
// expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.rdb.Set(ctx, key, value, expiration).Err()
	endSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: set failed")
	}
	return nil
}

// Get reads a string value. A missing key surfaces as an error wrapping
// [redis.Nil], so callers can errors.Is for it.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.rdb.Get(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: get failed")
	}
	return val, nil
}

// Del removes keys and reports how many existed.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Del", fmt.Sprintf("DEL %v", keys))
	val, err := c.rdb.Del(ctx, keys...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: del failed")
	}
	return val, nil
}

// Exists reports how many of the given keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Exists", fmt.Sprintf("EXISTS %v", keys))
	val, err := c.rdb.Exists(ctx, keys...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: exists failed")
	}
	return val, nil
}

// Expire sets a TTL on key and reports whether the key existed.
func (c *Client) Expire(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	ctx, span := c.startSpan(ctx, "Expire", fmt.Sprintf("EXPIRE %s %v", key, expiration))
	val, err := c.rdb.Expire(ctx, key, expiration).Result()
	endSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: expire failed")
	}
	return val, nil
}

// TTL reports the remaining lifetime of key: -1 when the key has no
// expiry, -2 when it does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := c.startSpan(ctx, "TTL", "TTL "+key)
	val, err := c.rdb.TTL(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: ttl failed")
	}
	return val, nil
}

// Incr adds one to the integer at key and returns the new value. The
// usage meter leans on this for per-app run counters.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Incr", "INCR "+key)
	val, err := c.rdb.Incr(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: incr failed")
	}
	return val, nil
}

// Decr subtracts one from the integer at key and returns the new value.
func (c *Client) Decr(ctx context.Context, key string) (int64, error) {
	ctx, span := c.startSpan(ctx, "Decr", "DECR "+key)
	val, err := c.rdb.Decr(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: decr failed")
	}
	return val, nil
}

// HSet writes field-value pairs into the hash at key and reports how
// many fields were newly added.
func (c *Client) HSet(ctx context.Context, key string, values ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "HSet", "HSET "+key)
	val, err := c.rdb.HSet(ctx, key, values...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: hset failed")
	}
	return val, nil
}

// HGet reads one field from the hash at key. A missing key or field
// surfaces as an error wrapping [redis.Nil].
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	ctx, span := c.startSpan(ctx, "HGet", fmt.Sprintf("HGET %s %s", key, field))
	val, err := c.rdb.HGet(ctx, key, field).Result()
	endSpan(span, err)
	if err != nil {
		return "", wrapError(err, "redis: hget failed")
	}
	return val, nil
}

// HGetAll reads the whole hash at key; a missing key yields an empty
// map, not an error.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, span := c.startSpan(ctx, "HGetAll", "HGETALL "+key)
	val, err := c.rdb.HGetAll(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: hgetall failed")
	}
	return val, nil
}

// HDel removes fields from the hash at key and reports how many were
// present.
func (c *Client) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	ctx, span := c.startSpan(ctx, "HDel", fmt.Sprintf("HDEL %s %v", key, fields))
	val, err := c.rdb.HDel(ctx, key, fields...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: hdel failed")
	}
	return val, nil
}

// LPush prepends values to the list at key and returns the new length.
func (c *Client) LPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "LPush", "LPUSH "+key)
	val, err := c.rdb.LPush(ctx, key, values...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: lpush failed")
	}
	return val, nil
}

// RPush appends values to the list at key and returns the new length.
func (c *Client) RPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "RPush", "RPUSH "+key)
	val, err := c.rdb.RPush(ctx, key, values...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: rpush failed")
	}
	return val, nil
}

// LRange reads elements [start, stop] from the list at key; 0 and -1
// read the whole list.
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, span := c.startSpan(ctx, "LRange", fmt.Sprintf("LRANGE %s %d %d", key, start, stop))
	val, err := c.rdb.LRange(ctx, key, start, stop).Result()
	endSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: lrange failed")
	}
	return val, nil
}

// LLen returns the length of the list at key.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	ctx, span := c.startSpan(ctx, "LLen", "LLEN "+key)
	val, err := c.rdb.LLen(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: llen failed")
	}
	return val, nil
}

// SAdd adds members to the set at key and reports how many were new.
func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "SAdd", "SADD "+key)
	val, err := c.rdb.SAdd(ctx, key, members...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: sadd failed")
	}
	return val, nil
}

// SMembers reads every member of the set at key.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "SMembers", "SMEMBERS "+key)
	val, err := c.rdb.SMembers(ctx, key).Result()
	endSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: smembers failed")
	}
	return val, nil
}

// SIsMember reports whether member is in the set at key.
func (c *Client) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	ctx, span := c.startSpan(ctx, "SIsMember", "SISMEMBER "+key)
	val, err := c.rdb.SIsMember(ctx, key, member).Result()
	endSpan(span, err)
	if err != nil {
		return false, wrapError(err, "redis: sismember failed")
	}
	return val, nil
}

// SRem removes members from the set at key and reports how many were
// present.
func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "SRem", "SREM "+key)
	val, err := c.rdb.SRem(ctx, key, members...).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: srem failed")
	}
	return val, nil
}

// Publish posts message to a pub/sub channel and reports how many
// subscribers received it. The event bridge uses this to fan advisory
// events out to per-app channels.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) (int64, error) {
	ctx, span := c.startSpan(ctx, "Publish", "PUBLISH "+channel)
	val, err := c.rdb.Publish(ctx, channel, message).Result()
	endSpan(span, err)
	if err != nil {
		return 0, wrapError(err, "redis: publish failed")
	}
	return val, nil
}

// AllowRate runs a fixed-window rate limit check against key (for
// example "ratelimit:app-001:launch"). Every call increments the
// counter; the first hit in a window stamps the window expiry. Returns
// true while the count stays within limit. On a counting error the
// caller decides whether to fail open or closed.
func (c *Client) AllowRate(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	ctx, span := c.startSpan(ctx, "AllowRate", "INCR "+key)

	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		endSpan(span, err)
		return false, wrapError(err, "redis: rate limit incr failed")
	}

	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			endSpan(span, err)
			return false, wrapError(err, "redis: rate limit expire failed")
		}
	}

	endSpan(span, nil)
	return count <= limit, nil
}

// Health pings the server, applying [DefaultHealthTimeout] when the
// caller's context carries no deadline. A failed ping comes back as
// [cperr.CodeUnavailableDependency], which readiness probes map to
// not-ready.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	err := c.rdb.Ping(ctx).Err()
	endSpan(span, err)
	if err != nil {
		return cperr.Wrap(err, cperr.CodeUnavailableDependency,
			"redis: health check failed")
	}
	return nil
}

// Close releases the connection pool. Safe to call more than once; the
// client must not be used afterwards.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Client exposes the underlying [Cmdable] for operations the wrapper
// does not cover. Close it through [Client.Close], not directly.
func (c *Client) Client() Cmdable {
	return c.rdb
}

// startSpan opens a client-kind span named after the operation and
// stamps the database semantic attributes on it.
func (c *Client) startSpan(ctx context.Context, operation, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// endSpan records err on the span, sets its status, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies a command failure. A deadline overrun becomes
// [cperr.CodeTimeoutDatabase], which is retryable; everything else,
// including [context.Canceled], becomes [cperr.CodeInternalDatabase],
// since a caller that canceled on purpose gains nothing from a retry.
func wrapError(err error, message string) *cperr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return cperr.Wrap(err, cperr.CodeTimeoutDatabase, message)
	}
	return cperr.Wrap(err, cperr.CodeInternalDatabase, message)
}
