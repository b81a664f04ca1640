package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// maxTokenSize is the maximum accepted size for a JWT token string (8 KB).
// Tokens larger than this are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// Validator verifies bearer tokens against the OIDC trust chain and
// normalizes their claims into [TokenClaims]. Validated claims are cached by
// token hash so repeated requests with the same bearer token skip signature
// verification.
//
// Every verification failure surfaces as a *[cperr.Error] in the AUTH
// category (HTTP 401). Scope enforcement failures surface in the AUTHZ
// category (HTTP 403). Validator is safe for concurrent use by multiple
// goroutines.
type Validator struct {
	config     Config
	discovery  *DiscoveryClient
	jwks       *JWKSClient
	tracer     trace.Tracer
	tokenCache *tokenCache
}

// NewValidator creates a Validator from the trust-chain config and its
// discovery and JWKS clients. The configuration is validated before use.
func NewValidator(cfg Config, discovery *DiscoveryClient, jwks *JWKSClient) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if jwks == nil {
		return nil, cperr.New(cperr.CodeValidation, "auth: JWKS client must not be nil")
	}
	if cfg.Issuer == "" && discovery == nil {
		return nil, cperr.New(cperr.CodeValidation,
			"auth: a discovery client is required when no explicit issuer is configured")
	}

	ttl := cfg.TokenCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxSize := cfg.TokenCacheMaxSize
	if maxSize <= 0 {
		maxSize = 10000
	}

	return &Validator{
		config:     cfg,
		discovery:  discovery,
		jwks:       jwks,
		tracer:     otel.Tracer(tracerName),
		tokenCache: newTokenCache(ttl, maxSize),
	}, nil
}

// ValidateToken verifies a bearer token and returns its normalized claims.
// When requireScope is true and the config names a RequiredScope, tokens
// without that scope are rejected with an AUTHZ error after passing every
// authentication check.
//
// The method performs the following steps:
//  1. Rejects empty or oversized tokens
//  2. Checks the in-memory token cache
//  3. Parses the header without verification to check alg and kid
//  4. Resolves the signing key from the JWKS client
//  5. Resolves the expected issuer (explicit config over discovery)
//  6. Verifies signature, exp, nbf, iat, aud, and iss with clock skew
//  7. Extracts and normalizes identity and execution-context claims
//  8. Enforces the required scope when asked to
//  9. Caches the validated claims bounded by the token's lifetime
func (v *Validator) ValidateToken(ctx context.Context, tokenStr string, requireScope bool) (*TokenClaims, error) {
	ctx, span := v.tracer.Start(ctx, "auth.ValidateToken")
	defer span.End()

	if tokenStr == "" {
		err := cperr.New(cperr.CodeAuthentication, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := cperr.New(cperr.CodeAuthenticationInvalid, "auth: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}

	hash := hashToken(tokenStr)
	if claims, ok := v.tokenCache.get(hash); ok {
		span.SetAttributes(attribute.Bool("auth.cache_hit", true))
		if err := v.enforceScope(claims, requireScope); err != nil {
			finishSpan(span, err)
			return nil, err
		}
		return claims, nil
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	// Inspect the header before any cryptographic work: the algorithm
	// allow-list and the kid requirement both apply to the unverified
	// header.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		parseErr := cperr.New(cperr.CodeAuthenticationInvalid, "auth: token is malformed")
		finishSpan(span, parseErr)
		return nil, parseErr
	}

	alg, _ := unverified.Header["alg"].(string)
	if !v.algorithmAllowed(alg) {
		err := cperr.Newf(cperr.CodeAuthenticationInvalid, "auth: algorithm %q is not permitted", alg)
		finishSpan(span, err)
		return nil, err
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		err := cperr.New(cperr.CodeAuthenticationInvalid, "auth: token header missing kid")
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.kid", kid))

	key, found, err := v.jwks.SigningKey(ctx, kid)
	if err != nil {
		wrapped := cperr.Wrap(err, cperr.CodeAuthentication, "auth: signing key resolution failed")
		finishSpan(span, wrapped)
		return nil, wrapped
	}
	if !found {
		err := cperr.Newf(cperr.CodeAuthenticationInvalid, "auth: no signing key for kid %q", kid)
		finishSpan(span, err)
		return nil, err
	}

	issuer, err := v.expectedIssuer(ctx)
	if err != nil {
		wrapped := cperr.Wrap(err, cperr.CodeAuthentication, "auth: issuer resolution failed")
		finishSpan(span, wrapped)
		return nil, wrapped
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(v.config.AllowedAlgorithms),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(v.config.Audience),
		jwt.WithLeeway(v.config.ClockSkew),
		jwt.WithExpirationRequired(),
	}

	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, parserOpts...)
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

	claims, err := v.extractClaims(mapClaimsToMap(mc))
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if err := v.enforceScope(claims, requireScope); err != nil {
		finishSpan(span, err)
		return nil, err
	}

	if exp, expErr := mc.GetExpirationTime(); expErr == nil && exp != nil {
		v.tokenCache.put(hash, claims, exp.Time)
	}

	span.SetAttributes(
		attribute.String("auth.user_id", claims.UserID),
		attribute.Bool("auth.execution_token", claims.IsExecution()),
	)
	return claims, nil
}

// Reset drops the validated-token cache. Intended for test isolation only.
func (v *Validator) Reset() {
	v.tokenCache = newTokenCache(v.tokenCache.ttl, v.tokenCache.maxSize)
}

// algorithmAllowed reports whether alg is in the configured allow-list.
// The comparison is exact: algorithm names are case-sensitive per RFC 7518.
func (v *Validator) algorithmAllowed(alg string) bool {
	if alg == "" {
		return false
	}
	for _, allowed := range v.config.AllowedAlgorithms {
		if alg == allowed {
			return true
		}
	}
	return false
}

// expectedIssuer resolves the issuer tokens must carry: an explicit config
// issuer wins, otherwise the issuer advertised by discovery is used.
func (v *Validator) expectedIssuer(ctx context.Context) (string, error) {
	if v.config.Issuer != "" {
		return v.config.Issuer, nil
	}
	if v.discovery == nil {
		return "", fmt.Errorf("auth: no issuer configured and no discovery client available")
	}
	return v.discovery.Issuer(ctx)
}

// extractClaims normalizes verified claims into TokenClaims. The configured
// user ID claim is mandatory; everything else is best-effort.
func (v *Validator) extractClaims(raw map[string]any) (*TokenClaims, error) {
	userIDClaim := v.config.Claims.UserID
	if userIDClaim == "" {
		userIDClaim = "sub"
	}
	userID := stringClaim(raw, userIDClaim)
	if userID == "" {
		return nil, cperr.Newf(cperr.CodeAuthenticationInvalid,
			"auth: token missing required %s claim", userIDClaim)
	}

	emailClaim := v.config.Claims.Email
	if emailClaim == "" {
		emailClaim = "email"
	}
	rolesClaim := v.config.Claims.Roles
	if rolesClaim == "" {
		rolesClaim = "roles"
	}

	return &TokenClaims{
		UserID:       userID,
		Email:        stringClaim(raw, emailClaim),
		Roles:        stringListClaim(raw, rolesClaim),
		Scopes:       scopesFromClaims(raw),
		TokenUse:     stringClaim(raw, ClaimTokenUse),
		AppID:        stringClaimWithFallback(raw, ClaimAppID, "app_id"),
		ChatID:       stringClaimWithFallback(raw, ClaimChatID, "chat_id"),
		CapabilityID: stringClaimWithFallback(raw, ClaimCapabilityID, "capability_id"),
		Raw:          raw,
	}, nil
}

// enforceScope checks the configured RequiredScope against the token's
// scopes when requireScope is set. A missing scope is an authorization
// failure (403), not an authentication one: the caller proved who they are
// but lacks the grant.
func (v *Validator) enforceScope(claims *TokenClaims, requireScope bool) error {
	if !requireScope || v.config.RequiredScope == "" {
		return nil
	}
	if !claims.HasScope(v.config.RequiredScope) {
		return cperr.Newf(cperr.CodeAuthorizationInsufficientScope,
			"auth: token missing required scope %q", v.config.RequiredScope)
	}
	return nil
}

// mapClaimsToMap converts jwt.MapClaims to a plain map[string]any so claims
// can flow through functions that do not depend on the jwt package.
func mapClaimsToMap(mc jwt.MapClaims) map[string]any {
	result := make(map[string]any, len(mc))
	for k, v := range mc {
		result[k] = v
	}
	return result
}

// classifyJWTError converts a JWT library error to an appropriate
// *cperr.Error. If the error is already a *cperr.Error, it is returned
// as-is.
func classifyJWTError(err error) *cperr.Error {
	if err == nil {
		return nil
	}

	var cpError *cperr.Error
	if errors.As(err, &cpError) {
		return cpError
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return cperr.Wrap(err, cperr.CodeAuthenticationExpired, "auth: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token is malformed")
	}
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	}
	if errors.Is(err, jwt.ErrTokenNotValidYet) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	}
	if errors.Is(err, jwt.ErrTokenUsedBeforeIssued) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token used before issued")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenRequiredClaimMissing) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token missing a required claim")
	}
	if errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	}

	if strings.Contains(err.Error(), "key is of invalid type") {
		return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: signing key does not match token algorithm")
	}

	return cperr.Wrap(err, cperr.CodeAuthenticationInvalid, "auth: token validation failed")
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error. This is a helper for consistent error recording
// across validation paths.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
