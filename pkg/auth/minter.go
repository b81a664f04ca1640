package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// Execution token TTL bounds, in minutes. Requests outside the range are
// clamped rather than rejected.
const (
	minExecutionTTLMinutes     = 1
	maxExecutionTTLMinutes     = 60
	defaultExecutionTTLMinutes = 10
)

// mintClockSkew tolerates clock drift between the minting and verifying
// hosts when execution tokens are checked.
const mintClockSkew = 30 * time.Second

// ErrIssuerMismatch reports a token whose iss claim does not name this
// minter. The guard treats it as a signal to route the token through
// the OIDC trust chain instead.
var ErrIssuerMismatch = errors.New("auth: token issuer does not match the execution minter")

// MinterConfig configures the execution-token minter: the signing algorithm
// and its key material, the issuer and audience stamped into minted tokens,
// and the default token lifetime.
//
// Key material is algorithm-dependent. HS* algorithms require Secret; RS*
// algorithms require an RSA private key, supplied either inline via
// PrivateKeyPEM (with literal "\n" sequences accepted in place of newlines,
// as environment variables usually carry PEM that way) or as a file path
// via PrivateKeyFile. Missing key material is a hard configuration failure:
// there is no fallback signing secret.
type MinterConfig struct {
	// Algorithm is the JWT signing algorithm: HS256, HS384, HS512, RS256,
	// RS384, or RS512. Defaults to HS256.
	Algorithm string `json:"algorithm" yaml:"algorithm" env:"ALGORITHM" envDefault:"HS256"`

	// Secret is the HMAC signing secret, required for HS* algorithms.
	Secret Secret `json:"secret,omitempty" yaml:"secret" env:"SECRET"`

	// PrivateKeyPEM is an inline PEM-encoded RSA private key for RS*
	// algorithms. Literal "\n" sequences are unescaped before parsing.
	PrivateKeyPEM Secret `json:"private_key_pem,omitempty" yaml:"private_key_pem" env:"PRIVATE_KEY_PEM"`

	// PrivateKeyFile is a filesystem path to a PEM-encoded RSA private key,
	// used when PrivateKeyPEM is not set.
	PrivateKeyFile string `json:"private_key_file,omitempty" yaml:"private_key_file" env:"PRIVATE_KEY_FILE"`

	// Issuer is the iss claim stamped into every minted token.
	Issuer string `json:"issuer" yaml:"issuer" env:"ISSUER" envDefault:"mozaiks-control-plane"`

	// Audience, when set, is the aud claim stamped into every minted token
	// and required back on verification.
	Audience string `json:"audience,omitempty" yaml:"audience" env:"AUDIENCE"`

	// DefaultTTLMinutes is the token lifetime applied when a mint request
	// does not ask for one. Defaults to 10 minutes.
	DefaultTTLMinutes int `json:"default_ttl_minutes" yaml:"default_ttl_minutes" env:"DEFAULT_TTL_MINUTES" envDefault:"10"`
}

// MintRequest describes the execution token to mint. UserID is required;
// the binding fields are optional and are omitted from the token when
// empty. Extra claims are applied first and cannot shadow the reserved
// claims the minter stamps last.
type MintRequest struct {
	UserID       string
	AppID        string
	ChatID       string
	CapabilityID string

	// TTLMinutes is the requested lifetime. Zero means the configured
	// default; out-of-range values are clamped to [1, 60].
	TTLMinutes int

	// Extra carries additional claims to embed. Reserved claims (iss, aud,
	// iat, exp, mozaiks_token_use) set here are overwritten.
	Extra map[string]any
}

// Minter signs and verifies short-lived execution tokens that hand a user
// session off to the downstream runtime, bound to an app, chat, and
// capability scope.
//
// Minted tokens always carry mozaiks_token_use="execution" plus iss, iat,
// exp, and the configured aud stamped by the minter itself; callers cannot
// override them. Because the minter signs under its own issuer and key
// rather than the IdP's, its tokens verify through
// [Minter.VerifyExecutionToken], not the OIDC trust chain. Minter is safe
// for concurrent use by multiple goroutines.
type Minter struct {
	config    MinterConfig
	method    jwt.SigningMethod
	key       any // []byte for HS*, *rsa.PrivateKey for RS*
	verifyKey any // []byte for HS*, *rsa.PublicKey for RS*
	tracer    trace.Tracer
}

// NewMinter creates a Minter, resolving and parsing the signing key
// material eagerly so configuration problems surface at startup rather than
// on the first mint.
func NewMinter(cfg MinterConfig) (*Minter, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "HS256"
	}
	if cfg.DefaultTTLMinutes == 0 {
		cfg.DefaultTTLMinutes = defaultExecutionTTLMinutes
	}
	if cfg.Issuer == "" {
		return nil, cperr.New(cperr.CodeValidation, "auth: minter issuer must not be empty")
	}

	method := jwt.GetSigningMethod(cfg.Algorithm)
	if method == nil {
		return nil, cperr.Newf(cperr.CodeValidation, "auth: unsupported signing algorithm %q", cfg.Algorithm)
	}

	var key, verifyKey any
	switch {
	case strings.HasPrefix(cfg.Algorithm, "HS"):
		if cfg.Secret.Value() == "" {
			return nil, cperr.New(cperr.CodeInternalConfiguration,
				"auth: HMAC signing secret is not configured")
		}
		if len(cfg.Secret.Value()) < 32 {
			return nil, cperr.New(cperr.CodeInternalConfiguration,
				"auth: HMAC signing secret must be at least 32 bytes")
		}
		key = []byte(cfg.Secret.Value())
		verifyKey = key
	case strings.HasPrefix(cfg.Algorithm, "RS"):
		rsaKey, err := loadRSAPrivateKey(cfg)
		if err != nil {
			return nil, err
		}
		key = rsaKey
		verifyKey = &rsaKey.PublicKey
	default:
		return nil, cperr.Newf(cperr.CodeValidation,
			"auth: signing algorithm %q is not supported for minting", cfg.Algorithm)
	}

	return &Minter{
		config:    cfg,
		method:    method,
		key:       key,
		verifyKey: verifyKey,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// Mint signs an execution token for the given request and returns the
// signed token string and its expiration time.
func (m *Minter) Mint(ctx context.Context, req MintRequest) (string, time.Time, error) {
	_, span := m.tracer.Start(ctx, "auth.MintExecutionToken")
	defer span.End()

	if req.UserID == "" {
		err := cperr.New(cperr.CodeValidation, "auth: mint request missing user ID")
		finishSpan(span, err)
		return "", time.Time{}, err
	}

	ttl := clampTTLMinutes(req.TTLMinutes, m.config.DefaultTTLMinutes)
	now := time.Now()
	expiresAt := now.Add(time.Duration(ttl) * time.Minute)

	claims := jwt.MapClaims{}
	for k, v := range req.Extra {
		claims[k] = v
	}

	claims["sub"] = req.UserID
	if req.AppID != "" {
		claims[ClaimAppID] = req.AppID
	}
	if req.ChatID != "" {
		claims[ClaimChatID] = req.ChatID
	}
	if req.CapabilityID != "" {
		claims[ClaimCapabilityID] = req.CapabilityID
	}

	// Reserved claims go last so nothing in Extra can shadow them.
	claims["iss"] = m.config.Issuer
	if m.config.Audience != "" {
		claims["aud"] = m.config.Audience
	}
	claims["iat"] = now.Unix()
	claims["exp"] = expiresAt.Unix()
	claims[ClaimTokenUse] = TokenUseExecution

	token := jwt.NewWithClaims(m.method, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		wrapped := cperr.Wrap(err, cperr.CodeInternal, "auth: failed to sign execution token")
		finishSpan(span, wrapped)
		return "", time.Time{}, wrapped
	}

	span.SetAttributes(
		attribute.String("auth.app_id", req.AppID),
		attribute.Int("auth.ttl_minutes", ttl),
	)
	return signed, expiresAt, nil
}

// VerifyExecutionToken verifies a token this minter signed and returns its
// normalized claims: signature under the minter's key, the minter's issuer
// and algorithm, a mandatory exp, and the configured audience when one is
// set. A token naming any other issuer fails with [ErrIssuerMismatch] so
// callers can route it through the OIDC trust chain instead.
func (m *Minter) VerifyExecutionToken(ctx context.Context, tokenStr string) (*TokenClaims, error) {
	_, span := m.tracer.Start(ctx, "auth.VerifyExecutionToken")
	defer span.End()

	if tokenStr == "" {
		err := cperr.New(cperr.CodeAuthentication, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		parseErr := cperr.New(cperr.CodeAuthenticationInvalid, "auth: token is malformed")
		finishSpan(span, parseErr)
		return nil, parseErr
	}
	if iss, _ := unverified.Claims.(jwt.MapClaims)["iss"].(string); iss != m.config.Issuer {
		finishSpan(span, ErrIssuerMismatch)
		return nil, ErrIssuerMismatch
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.config.Algorithm}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithLeeway(mintClockSkew),
		jwt.WithExpirationRequired(),
	}
	if m.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(m.config.Audience))
	}

	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
		return m.verifyKey, nil
	}, opts...)
	if err != nil {
		classified := classifyJWTError(err)
		finishSpan(span, classified)
		return nil, classified
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := cperr.New(cperr.CodeAuthenticationInvalid, "auth: unable to extract token claims")
		finishSpan(span, err)
		return nil, err
	}

	raw := mapClaimsToMap(mc)
	userID := stringClaim(raw, "sub")
	if userID == "" {
		err := cperr.New(cperr.CodeAuthenticationInvalid, "auth: token missing required sub claim")
		finishSpan(span, err)
		return nil, err
	}

	claims := &TokenClaims{
		UserID:       userID,
		Scopes:       scopesFromClaims(raw),
		TokenUse:     stringClaim(raw, ClaimTokenUse),
		AppID:        stringClaim(raw, ClaimAppID),
		ChatID:       stringClaim(raw, ClaimChatID),
		CapabilityID: stringClaim(raw, ClaimCapabilityID),
		Raw:          raw,
	}
	span.SetAttributes(
		attribute.String("auth.user_id", claims.UserID),
		attribute.String("auth.app_id", claims.AppID),
	)
	return claims, nil
}

// clampTTLMinutes resolves the effective token lifetime: zero selects the
// configured default, anything outside [1, 60] is clamped to the bound.
func clampTTLMinutes(requested, configuredDefault int) int {
	ttl := requested
	if ttl == 0 {
		ttl = configuredDefault
	}
	if ttl < minExecutionTTLMinutes {
		return minExecutionTTLMinutes
	}
	if ttl > maxExecutionTTLMinutes {
		return maxExecutionTTLMinutes
	}
	return ttl
}

// loadRSAPrivateKey resolves RS* key material from inline PEM or a file
// path. Inline PEM often arrives through environment variables with literal
// "\n" sequences in place of newlines; those are unescaped before parsing.
func loadRSAPrivateKey(cfg MinterConfig) (*rsa.PrivateKey, error) {
	var pemData []byte
	switch {
	case cfg.PrivateKeyPEM.Value() != "":
		pemData = []byte(strings.ReplaceAll(cfg.PrivateKeyPEM.Value(), `\n`, "\n"))
	case cfg.PrivateKeyFile != "":
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, cperr.Wrapf(err, cperr.CodeInternalConfiguration,
				"auth: failed to read private key file %s", cfg.PrivateKeyFile)
		}
		pemData = data
	default:
		return nil, cperr.New(cperr.CodeInternalConfiguration,
			"auth: RSA signing requires private_key_pem or private_key_file")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, cperr.Wrap(err, cperr.CodeInternalConfiguration,
			"auth: failed to parse RSA private key")
	}
	return key, nil
}
