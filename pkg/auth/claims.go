package auth

import (
	"strings"
)

// TokenUseExecution is the mozaiks_token_use value carried by execution
// tokens minted by the control plane.
const TokenUseExecution = "execution"

// Execution-context claim names. The mozaiks_-prefixed form is canonical;
// the bare form is accepted as a fallback for tokens minted by older
// runtimes.
const (
	ClaimTokenUse     = "mozaiks_token_use"
	ClaimAppID        = "mozaiks_app_id"
	ClaimChatID       = "mozaiks_chat_id"
	ClaimCapabilityID = "mozaiks_capability_id"
)

// TokenClaims is the validated, normalized view of a JWT. It is produced
// only by [Validator.ValidateToken]; a TokenClaims value in hand means the
// token's signature, issuer, audience, and lifetime checks all passed.
//
// UserID is always non-empty. The execution-context fields (TokenUse,
// AppID, ChatID, CapabilityID) are optional: a token without them is a
// general-purpose user token, and the ValidateAppID/ValidateChatID
// predicates are permissive for such tokens.
type TokenClaims struct {
	// UserID is the stable user identifier extracted from the configured
	// claim (default "sub"). Never empty.
	UserID string `json:"user_id"`

	// Email is the user's email address, when the token carries one.
	Email string `json:"email,omitempty"`

	// Roles are the role names from the configured roles claim.
	Roles []string `json:"roles,omitempty"`

	// Scopes are the OAuth2 scopes granted to the token, extracted from
	// either a space-separated "scope" string or a list-typed "scp" claim.
	Scopes []string `json:"scopes,omitempty"`

	// TokenUse is the mozaiks_token_use claim value; "execution" marks a
	// control-plane-minted execution token.
	TokenUse string `json:"token_use,omitempty"`

	// AppID binds the token to a single app, when present.
	AppID string `json:"app_id,omitempty"`

	// ChatID binds the token to a single chat session, when present.
	ChatID string `json:"chat_id,omitempty"`

	// CapabilityID binds the token to a single capability, when present.
	CapabilityID string `json:"capability_id,omitempty"`

	// Raw holds every claim from the verified token for callers that need
	// fields beyond the normalized ones.
	Raw map[string]any `json:"-"`
}

// HasScope reports whether the token carries the given scope.
func (c *TokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasRole reports whether the token carries the given role.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsExecution reports whether this is a control-plane-minted execution
// token.
func (c *TokenClaims) IsExecution() bool {
	return c.TokenUse == TokenUseExecution
}

// ValidateAppID checks the token's app binding against a caller-supplied
// app ID (typically a path parameter). Tokens without an app binding pass
// unconditionally; bound tokens require an exact match. This bind-if-present
// policy treats unbound tokens as general-purpose user tokens.
func (c *TokenClaims) ValidateAppID(pathAppID string) bool {
	if c.AppID == "" {
		return true
	}
	return c.AppID == pathAppID
}

// ValidateChatID checks the token's chat binding against a caller-supplied
// chat ID, with the same bind-if-present semantics as [ValidateAppID].
func (c *TokenClaims) ValidateChatID(pathChatID string) bool {
	if c.ChatID == "" {
		return true
	}
	return c.ChatID == pathChatID
}

// stringClaim extracts a string-typed claim, returning "" when the claim
// is absent or not a string.
func stringClaim(claims map[string]any, name string) string {
	v, _ := claims[name].(string)
	return v
}

// stringClaimWithFallback extracts a string claim by its canonical name,
// falling back to an alternate name when the canonical one is absent.
func stringClaimWithFallback(claims map[string]any, name, fallback string) string {
	if v := stringClaim(claims, name); v != "" {
		return v
	}
	return stringClaim(claims, fallback)
}

// stringListClaim extracts a list-typed claim as []string. Non-string
// elements are skipped. A single string value is returned as a one-element
// slice.
func stringListClaim(claims map[string]any, name string) []string {
	switch v := claims[name].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// scopesFromClaims extracts granted scopes, supporting both forms seen in
// the wild: a list-typed "scp" claim (Azure) and a space-separated "scope"
// string (RFC 8693 style). "scp" itself may also be a space-separated
// string.
func scopesFromClaims(claims map[string]any) []string {
	if v, ok := claims["scp"]; ok {
		switch scp := v.(type) {
		case string:
			return splitScopes(scp)
		default:
			if list := stringListClaim(claims, "scp"); len(list) > 0 {
				return list
			}
		}
	}
	if scope := stringClaim(claims, "scope"); scope != "" {
		return splitScopes(scope)
	}
	return nil
}

// splitScopes splits a space-separated scope string, dropping empty
// segments.
func splitScopes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
