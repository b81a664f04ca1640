package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// HTTP header names used by the guards.
const (
	HeaderAuthorization   = "Authorization"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderWWWAuthenticate = "WWW-Authenticate"
)

// bearerPrefix is the expected Authorization scheme prefix.
const bearerPrefix = "Bearer "

// Guard builds the HTTP middleware that protects control-plane routes. It
// wraps a [Validator] and exposes three policies:
//
//   - [Guard.RequireUser]: any validated user token
//   - [Guard.RequireInternal]: a validated token carrying the internal
//     service role
//   - [Guard.RequireExecutionToken]: a control-plane-minted execution
//     token whose app/chat bindings match the route parameters
//
// All policies store the validated claims in the request context for
// downstream handlers via [ClaimsFromContext].
type Guard struct {
	validator    *Validator
	execVerifier ExecutionVerifier
	config       Config
}

// ExecutionVerifier checks tokens the control plane minted itself.
// [*Minter] implements it.
type ExecutionVerifier interface {
	VerifyExecutionToken(ctx context.Context, token string) (*TokenClaims, error)
}

// NewGuard creates a Guard over the given validator.
func NewGuard(validator *Validator, cfg Config) *Guard {
	return &Guard{validator: validator, config: cfg}
}

// WithExecutionVerifier routes tokens issued by the given verifier
// through it on execution-token routes. Tokens from any other issuer
// still go through the OIDC validator. Returns the guard for chaining.
func (g *Guard) WithExecutionVerifier(verifier ExecutionVerifier) *Guard {
	g.execVerifier = verifier
	return g
}

// ExtractBearerToken extracts the token from a "Bearer <token>"
// Authorization header value. Returns an empty string when the header is
// missing or uses a different scheme. The scheme comparison is
// case-insensitive per RFC 9110.
func ExtractBearerToken(header string) string {
	if len(header) <= len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// CorrelationID returns a middleware that ensures every request carries a
// correlation ID: the inbound X-Correlation-ID header when present, a fresh
// UUID otherwise. The ID is stored in the context and echoed on the
// response.
func CorrelationID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderCorrelationID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderCorrelationID, id)
			ctx := ContextWithCorrelationID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser returns a middleware that admits any request carrying a valid
// bearer token. When the trust-chain config names a RequiredScope, tokens
// without it are rejected with 403.
func (g *Guard) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := g.authenticate(w, r, true)
		if err != nil {
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// RequireScope returns a middleware that admits only tokens carrying the
// given scope. It assumes an upstream guard already authenticated the
// request and stored claims in the context.
func (g *Guard) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				g.writeError(w, cperr.New(cperr.CodeAuthentication, "auth: missing bearer token"))
				return
			}
			if !claims.HasScope(scope) {
				g.writeError(w, cperr.Newf(cperr.CodeAuthorizationInsufficientScope,
					"auth: token missing required scope %q", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireInternal returns a middleware that admits only tokens carrying the
// configured internal service role. Used for service-to-service endpoints
// such as entitlement sync.
func (g *Guard) RequireInternal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := g.authenticate(w, r, false)
		if err != nil {
			return
		}

		if !claims.HasRole(g.config.InternalRole) {
			slog.WarnContext(r.Context(), "auth: internal endpoint denied",
				"user_id", claims.UserID,
				"path", r.URL.Path,
			)
			g.writeError(w, cperr.New(cperr.CodeAuthorizationDenied,
				"auth: internal service role required"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// RequireExecutionToken returns a middleware that admits only execution
// tokens. Tokens minted by the control plane verify through the configured
// [ExecutionVerifier]; tokens from any other issuer go through the OIDC
// validator. When the route carries app_id or chat_id parameters, a token
// bound to an app or chat must match them; unbound tokens pass
// (bind-if-present).
func (g *Guard) RequireExecutionToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
		if token == "" {
			g.writeError(w, cperr.New(cperr.CodeAuthentication, "auth: missing bearer token"))
			return
		}

		claims, err := g.verifyExecution(r.Context(), token)
		if err != nil {
			slog.DebugContext(r.Context(), "auth: execution token rejected",
				"error", err,
				"path", r.URL.Path,
			)
			g.writeError(w, err)
			return
		}

		if !claims.IsExecution() {
			g.writeError(w, cperr.New(cperr.CodeAuthorizationDenied,
				"auth: execution token required"))
			return
		}

		if appID := chi.URLParam(r, "app_id"); appID != "" && !claims.ValidateAppID(appID) {
			slog.WarnContext(r.Context(), "auth: execution token app binding mismatch",
				"user_id", claims.UserID,
				"path", r.URL.Path,
			)
			g.writeError(w, cperr.New(cperr.CodeAuthorizationDenied,
				"auth: token is not valid for this app"))
			return
		}
		if chatID := chi.URLParam(r, "chat_id"); chatID != "" && !claims.ValidateChatID(chatID) {
			g.writeError(w, cperr.New(cperr.CodeAuthorizationDenied,
				"auth: token is not valid for this chat"))
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}

// verifyExecution resolves the claims behind an execution-route bearer
// token. Control-plane-minted tokens verify against the minter's own key
// and issuer; tokens from any other issuer fall back to the OIDC trust
// chain.
func (g *Guard) verifyExecution(ctx context.Context, token string) (*TokenClaims, error) {
	if g.execVerifier != nil {
		claims, err := g.execVerifier.VerifyExecutionToken(ctx, token)
		if err == nil {
			return claims, nil
		}
		if !errors.Is(err, ErrIssuerMismatch) {
			return nil, err
		}
	}
	return g.validator.ValidateToken(ctx, token, false)
}

// authenticate extracts and validates the bearer token, writing the error
// response itself on failure. Returns the claims on success.
func (g *Guard) authenticate(w http.ResponseWriter, r *http.Request, requireScope bool) (*TokenClaims, error) {
	token := ExtractBearerToken(r.Header.Get(HeaderAuthorization))
	if token == "" {
		err := cperr.New(cperr.CodeAuthentication, "auth: missing bearer token")
		g.writeError(w, err)
		return nil, err
	}

	claims, err := g.validator.ValidateToken(r.Context(), token, requireScope)
	if err != nil {
		slog.DebugContext(r.Context(), "auth: token validation failed",
			"error", err,
			"path", r.URL.Path,
		)
		g.writeError(w, err)
		return nil, err
	}
	return claims, nil
}

// errorResponse is the JSON body written for auth failures.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError writes a JSON error response with the status derived from the
// error's category. 401 responses carry a WWW-Authenticate challenge per
// RFC 6750.
func (g *Guard) writeError(w http.ResponseWriter, err error) {
	code := cperr.CodeAuthentication
	message := "authentication failed"
	status := http.StatusUnauthorized

	if cpError, ok := cperr.AsError(err); ok {
		code = cpError.Code
		message = cpError.Message
		status = cpError.HTTPStatus()
	}

	if status == http.StatusUnauthorized {
		w.Header().Set(HeaderWWWAuthenticate, `Bearer realm="mozaiks", error="invalid_token"`)
	}

	var body errorResponse
	body.Error.Code = string(code)
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
