// Package redis provides the Redis client the Mozaiks control plane uses
// for launch rate limiting and the advisory event bridge. It wraps
// go-redis (github.com/redis/go-redis/v9) and layers OpenTelemetry spans
// and structured error classification over every command; pooling,
// reconnection, and retry stay inside go-redis.
//
// Construction:
//
//	cfg := redis.DefaultConfig()
//	cfg.Password = redis.Secret("my-password")
//	client, err := redis.NewClient(ctx, *cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// Tests inject a fake through [NewFromClient]:
//
//	client := redis.NewFromClient(fake, &redis.Config{DB: 0})
//
// Command statements recorded on spans are truncated to 100 runes so key
// payloads never reach the telemetry backend. In-cluster the defaults
// point at redis.databases.svc.cluster.local:6379, with credentials
// injected by the External Secrets Operator.
package redis

import (
	"fmt"
	"net/url"
	"time"
)

// maxStatementTruncateLen caps db.statement span attributes. Anything
// longer is cut so key values and PII stay out of traces.
const maxStatementTruncateLen = 100

// Defaults tuned for the in-cluster deployment, where Redis sits behind
// a Kubernetes Service in the databases namespace.
const (
	DefaultHost = "redis.databases.svc.cluster.local"
	DefaultPort = 6379
	DefaultDB   = 0

	DefaultPoolSize     = 25
	DefaultMinIdleConns = 5

	// DefaultMaxRetries absorbs transient network failures on a command
	// before the error is surfaced.
	DefaultMaxRetries = 3

	DefaultDialTimeout  = 10 * time.Second
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	// DefaultHealthTimeout bounds the health-check ping when the
	// caller's context carries no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Secret is a password string that redacts itself everywhere except
// [Secret.Value]: String, GoString, and MarshalText all yield the
// placeholder, so %v, %#v, and JSON/YAML encoding cannot leak it. It is
// redaction only, not storage; secrets still come from Vault through the
// External Secrets Operator.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the real secret. Keep it out of logs and errors.
func (s Secret) Value() string { return string(s) }

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// Config describes the Redis connection, either as a single URI or as
// structured fields. A non-empty URI wins: Host, Port, DB, and Password
// are then ignored. The env tags name the variables the deployment
// injects; the config loader reads them.
//
//	cfg := &redis.Config{URI: "redis://:password@localhost:6379/0"}
//
// or
//
//	cfg := redis.DefaultConfig()
//	cfg.Host = "redis.example.com"
//	cfg.Password = redis.Secret("my-password")
type Config struct {
	// URI is a redis:// or rediss:// (TLS) connection string.
	URI string `json:"uri,omitempty" env:"REDIS_URI"`

	Host string `json:"host,omitempty" env:"REDIS_HOST"`
	Port int    `json:"port,omitempty" env:"REDIS_PORT"`

	// DB selects the Redis database index, 0-15 on a stock server.
	DB int `json:"db" env:"REDIS_DB"`

	// Password is excluded from JSON; the Secret type keeps it out of
	// logs as well.
	Password Secret `json:"-" env:"REDIS_PASSWORD"`

	PoolSize     int `json:"pool_size,omitempty" env:"REDIS_POOL_SIZE"`
	MinIdleConns int `json:"min_idle_conns,omitempty" env:"REDIS_MIN_IDLE_CONNS"`

	// MaxRetries is per command; -1 disables retries entirely.
	MaxRetries int `json:"max_retries,omitempty" env:"REDIS_MAX_RETRIES"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" env:"REDIS_WRITE_TIMEOUT"`

	// TLSEnabled forces TLS for structured configs; a rediss:// URI
	// enables it on its own.
	TLSEnabled bool `json:"tls_enabled,omitempty" env:"REDIS_TLS_ENABLED"`
}

// DefaultConfig returns the in-cluster defaults. Override fields as
// needed before handing the config to [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DB:           DefaultDB,
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate fills zero-valued pool and timeout fields with defaults and
// then checks what remains, returning the first problem found. With a
// URI set only the URI itself is checked (parseable, redis:// or
// rediss:// scheme); otherwise the structured fields must satisfy:
//
//   - Port between 1 and 65535
//   - PoolSize >= 1 and >= MinIdleConns, MinIdleConns >= 0
//   - no negative timeouts
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("redis: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("redis: config pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.MinIdleConns < 0 {
		return fmt.Errorf("redis: config min_idle_conns must be >= 0, got %d", c.MinIdleConns)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("redis: config dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("redis: config read_timeout must not be negative, got %v", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config write_timeout must not be negative, got %v", c.WriteTimeout)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement cuts a command statement to
// [maxStatementTruncateLen] runes for span attributes, appending "..."
// when it truncates. Rune-aware so multi-byte characters never split.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
