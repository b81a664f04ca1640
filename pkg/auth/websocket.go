package auth

import (
	"log/slog"
	"net/http"
	"strings"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// WebSocketAuthSubprotocol is the fixed subprotocol the server echoes back
// during the WebSocket handshake. Browsers require the server to select one
// of the offered subprotocols, so clients offer this constant alongside the
// JWT-shaped token value and the server always selects the constant (never
// the token).
const WebSocketAuthSubprotocol = "mozaiks.auth"

// HeaderSecWebSocketProtocol is the handshake header carrying the offered
// subprotocols.
const HeaderSecWebSocketProtocol = "Sec-WebSocket-Protocol"

// WebSocket close codes distinguishing authentication failure classes. 1008
// is the RFC 6455 policy-violation code; the 44xx codes are in the
// application-reserved range.
const (
	CloseCodePolicyViolation = 1008
	CloseCodeAuthRequired    = 4401
	CloseCodeAuthInvalid     = 4402
	CloseCodeAccessDenied    = 4403
)

// WebSocketDecision is the outcome of a WebSocket handshake authorization
// check. On success Claims is set and Subprotocol holds the value the
// server must echo in its handshake response. On failure CloseCode carries
// the close code to send after accepting the connection (or the handshake
// may be rejected outright before upgrade).
type WebSocketDecision struct {
	Claims      *TokenClaims
	Subprotocol string
	CloseCode   int
	Reason      string
}

// Allowed reports whether the handshake passed authorization.
func (d WebSocketDecision) Allowed() bool {
	return d.Claims != nil
}

// AuthorizeWebSocket authorizes a WebSocket handshake request. The bearer
// token must arrive as a JWT-shaped value in the Sec-WebSocket-Protocol
// header; tokens in query parameters or custom headers are rejected as
// policy violations, since those channels leak tokens into access logs and
// referrer headers.
//
// appID and chatID, when non-empty, are cross-validated against the token's
// execution-context bindings with bind-if-present semantics.
func (g *Guard) AuthorizeWebSocket(r *http.Request, appID, chatID string) WebSocketDecision {
	// A token smuggled through the query string or a custom header is a
	// protocol violation regardless of its validity.
	q := r.URL.Query()
	if q.Get("token") != "" || q.Get("access_token") != "" {
		return WebSocketDecision{
			CloseCode: CloseCodePolicyViolation,
			Reason:    "token must not be passed as a query parameter",
		}
	}
	if r.Header.Get("X-Auth-Token") != "" || r.Header.Get(HeaderAuthorization) != "" {
		return WebSocketDecision{
			CloseCode: CloseCodePolicyViolation,
			Reason:    "token must be carried in the websocket subprotocol",
		}
	}

	token := TokenFromSubprotocols(r.Header.Values(HeaderSecWebSocketProtocol))
	if token == "" {
		return WebSocketDecision{
			CloseCode: CloseCodeAuthRequired,
			Reason:    "authentication required",
		}
	}

	claims, err := g.verifyExecution(r.Context(), token)
	if err != nil {
		slog.DebugContext(r.Context(), "auth: websocket token validation failed",
			"error", err,
			"path", r.URL.Path,
		)
		if cperr.IsAuthorization(err) {
			return WebSocketDecision{
				CloseCode: CloseCodeAccessDenied,
				Reason:    "access denied",
			}
		}
		return WebSocketDecision{
			CloseCode: CloseCodeAuthInvalid,
			Reason:    "invalid token",
		}
	}

	if appID != "" && !claims.ValidateAppID(appID) {
		return WebSocketDecision{
			CloseCode: CloseCodeAccessDenied,
			Reason:    "token is not valid for this app",
		}
	}
	if chatID != "" && !claims.ValidateChatID(chatID) {
		return WebSocketDecision{
			CloseCode: CloseCodeAccessDenied,
			Reason:    "token is not valid for this chat",
		}
	}

	return WebSocketDecision{
		Claims:      claims,
		Subprotocol: WebSocketAuthSubprotocol,
	}
}

// TokenFromSubprotocols extracts the JWT-shaped value from the offered
// subprotocols. Clients offer the fixed [WebSocketAuthSubprotocol] constant
// plus the raw token; the token is identified by its three dot-separated
// base64url segments. Returns an empty string when no offered value is
// JWT-shaped.
func TokenFromSubprotocols(headerValues []string) string {
	for _, hv := range headerValues {
		for _, proto := range strings.Split(hv, ",") {
			proto = strings.TrimSpace(proto)
			if proto == "" || proto == WebSocketAuthSubprotocol {
				continue
			}
			if isJWTShaped(proto) {
				return proto
			}
		}
	}
	return ""
}

// isJWTShaped reports whether s looks like a compact JWS: exactly three
// non-empty dot-separated segments of base64url characters.
func isJWTShaped(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, r := range part {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_' || r == '=':
			default:
				return false
			}
		}
	}
	return true
}
