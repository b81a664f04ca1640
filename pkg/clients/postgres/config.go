package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"
)

// maxSQLTruncateLen caps db.statement span attributes. Anything longer
// is cut so column values and PII stay out of traces.
const maxSQLTruncateLen = 100

// Defaults tuned for the in-cluster deployment, where PostgreSQL sits
// behind a Kubernetes Service in the databases namespace with
// service-mesh mTLS on the wire.
const (
	DefaultHost     = "postgres.databases.svc.cluster.local"
	DefaultPort     = 5432
	DefaultDatabase = "mozaiks"
	DefaultUser     = "postgres"

	// Each server-side connection costs roughly 10 MB, so the pool cap
	// stays modest; the floor keeps warm connections for bursts.
	DefaultMaxConns int32 = 25
	DefaultMinConns int32 = 5

	// Lifetime bounds keep connections from going stale across DNS and
	// load-balancer changes; idle time releases them in quiet periods.
	DefaultMaxConnLifetime   = time.Hour
	DefaultMaxConnIdleTime   = 30 * time.Minute
	DefaultHealthCheckPeriod = time.Minute

	DefaultConnectTimeout = 10 * time.Second

	// DefaultHealthTimeout bounds the health-check ping when the
	// caller's context carries no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// SSLMode mirrors the PostgreSQL sslmode connection parameter. With
// mesh mTLS on the wire, in-cluster deployments run disable or require;
// cloud-managed databases want verify-ca or verify-full together with
// [Config.SSLRootCert].
type SSLMode string

const (
	SSLModeDisable SSLMode = "disable"
	SSLModeAllow   SSLMode = "allow"
	SSLModePrefer  SSLMode = "prefer"

	// SSLModeRequire encrypts but does not verify the server
	// certificate. The default where certificates are someone else's
	// problem (mesh, cloud provider).
	SSLModeRequire SSLMode = "require"

	// SSLModeVerifyCA checks the certificate chain against
	// [Config.SSLRootCert] but not the hostname.
	SSLModeVerifyCA SSLMode = "verify-ca"

	// SSLModeVerifyFull checks chain and hostname both.
	SSLModeVerifyFull SSLMode = "verify-full"
)

func (m SSLMode) String() string {
	return string(m)
}

// Valid reports whether the mode is one of the recognized values.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer,
		SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

// CloudProvider names the platform hosting the database. Informational
// only; the behavioral differences between providers are all expressed
// through [Config.SSLMode] and [Config.SSLRootCert].
type CloudProvider string

const (
	// CloudProviderNone is a self-managed or in-cluster deployment.
	CloudProviderNone CloudProvider = ""

	CloudProviderAWS   CloudProvider = "aws"
	CloudProviderAzure CloudProvider = "azure"
	CloudProviderGCP   CloudProvider = "gcp"
)

func (p CloudProvider) String() string {
	return string(p)
}

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

// Config describes the PostgreSQL connection, either as a single URI or
// as structured fields. A non-empty URI wins: Host, Port, Database,
// User, and Password are then ignored. The env tags name the variables
// the deployment injects; the config loader reads them.
//
// For a cloud-managed database, point Host at the instance and pick the
// matching SSL settings, e.g. AWS RDS:
//
//	cfg := postgres.DefaultConfig()
//	cfg.Host = "mydb.xxx.us-east-1.rds.amazonaws.com"
//	cfg.SSLMode = postgres.SSLModeVerifyFull
//	cfg.SSLRootCert = "/etc/ssl/certs/rds-ca-2019-root.pem"
//	cfg.CloudProvider = postgres.CloudProviderAWS
//
// Azure wants User in "user@server" form with SSLModeRequire; Cloud SQL
// behind the Auth Proxy runs against 127.0.0.1 with SSLModeDisable.
type Config struct {
	// URI is a postgres:// or postgresql:// connection string.
	URI string `json:"uri,omitempty" env:"POSTGRES_URI"`

	Host string `json:"host,omitempty" env:"POSTGRES_HOST"`
	Port int    `json:"port,omitempty" env:"POSTGRES_PORT"`

	Database string `json:"database" env:"POSTGRES_DATABASE"`
	User     string `json:"user" env:"POSTGRES_USER"`

	// Password is excluded from JSON; the Secret type keeps it out of
	// logs as well.
	Password Secret `json:"-" env:"POSTGRES_PASSWORD"`

	// SSLMode defaults to require.
	SSLMode SSLMode `json:"ssl_mode,omitempty" env:"POSTGRES_SSLMODE"`

	// SSLRootCert points at a PEM-encoded CA bundle; needed for the
	// verify-ca and verify-full modes against cloud databases.
	SSLRootCert string `json:"ssl_root_cert,omitempty" env:"POSTGRES_SSL_ROOT_CERT"`

	MaxConns int32 `json:"max_conns,omitempty" env:"POSTGRES_MAX_CONNS"`
	MinConns int32 `json:"min_conns,omitempty" env:"POSTGRES_MIN_CONNS"`

	MaxConnLifetime   time.Duration `json:"max_conn_lifetime,omitempty" env:"POSTGRES_MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `json:"max_conn_idle_time,omitempty" env:"POSTGRES_MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `json:"health_check_period,omitempty" env:"POSTGRES_HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration `json:"connect_timeout,omitempty" env:"POSTGRES_CONNECT_TIMEOUT"`

	// CloudProvider is informational; it never changes client behavior.
	CloudProvider CloudProvider `json:"cloud_provider,omitempty" env:"POSTGRES_CLOUD_PROVIDER"`
}

// DefaultConfig returns the in-cluster defaults. Override fields as
// needed before handing the config to [NewClient].
func DefaultConfig() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Database:          DefaultDatabase,
		User:              DefaultUser,
		SSLMode:           SSLModeRequire,
		MaxConns:          DefaultMaxConns,
		MinConns:          DefaultMinConns,
		MaxConnLifetime:   DefaultMaxConnLifetime,
		MaxConnIdleTime:   DefaultMaxConnIdleTime,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectTimeout:    DefaultConnectTimeout,
	}
}

// Validate fills zero-valued pool and timeout fields with defaults and
// then checks what remains, returning the first problem found. With a
// URI set only the URI itself is checked (parseable, postgres:// or
// postgresql:// scheme); otherwise the structured fields must satisfy:
//
//   - Database and User non-empty
//   - Port between 1 and 65535
//   - SSLMode recognized, and SSLRootCert (when set) a readable file
//   - MaxConns >= MinConns
func (c *Config) Validate() error {
	c.applyPoolDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("postgres: config URI is invalid: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("postgres: config URI scheme must be postgres:// or postgresql://, got %q", u.Scheme)
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
		return fmt.Errorf("postgres: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("postgres: config database must not be empty")
	}
	if c.User == "" {
		return errors.New("postgres: config user must not be empty")
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModeRequire
	}
	if !c.SSLMode.Valid() {
		return fmt.Errorf("postgres: config ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return fmt.Errorf("postgres: config ssl_root_cert %q is not accessible: %w", c.SSLRootCert, err)
		}
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: config max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}

	return nil
}

func (c *Config) applyPoolDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// ConnectionString renders the structured fields as a postgres:// URL,
// or returns [Config.URI] verbatim when set. The result carries the
// password in cleartext; never log it.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// tlsConfig builds a *tls.Config trusting [Config.SSLRootCert], for
// cloud databases whose CA is not in the system pool. Without a root
// cert (or with SSL disabled) it returns nil and pgx handles TLS from
// the sslmode parameter alone. verify-full checks chain and hostname,
// verify-ca chain only, and the remaining modes encrypt without
// verification.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}

	caCert, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read CA certificate %q: %w", c.SSLRootCert, err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("postgres: failed to parse CA certificate from %q", c.SSLRootCert)
	}

	tlsCfg := &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}

	switch c.SSLMode {
	case SSLModeVerifyFull:
		// Full verification: check certificate chain AND hostname.
		tlsCfg.ServerName = c.Host
	case SSLModeVerifyCA:
		// Go's TLS stack couples chain and hostname verification, so
		// chain-only means skipping the built-in check and verifying
		// the chain ourselves in VerifyConnection.
		rootCAs := caCertPool
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("postgres: server did not present a certificate")
			}
			opts := x509.VerifyOptions{
				Roots:         rootCAs,
				Intermediates: x509.NewCertPool(),
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		// require, prefer, allow: encrypt without verifying.
		tlsCfg.InsecureSkipVerify = true
	}

	return tlsCfg, nil
}

// truncateSQL cuts a statement to [maxSQLTruncateLen] runes for span
// attributes, appending "..." when it truncates. Rune-aware so
// multi-byte characters never split; the cheap byte-length check skips
// the rune conversion for short statements.
func truncateSQL(sql string) string {
	if len(sql) <= maxSQLTruncateLen {
		return sql
	}
	runes := []rune(sql)
	if len(runes) <= maxSQLTruncateLen {
		return sql
	}
	return string(runes[:maxSQLTruncateLen]) + "..."
}
