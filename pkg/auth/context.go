package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// claimsKey stores the authenticated *TokenClaims in the context.
	claimsKey contextKey = iota

	// correlationIDKey stores the request correlation ID in the context.
	correlationIDKey
)

// ContextWithClaims returns a new context with the given claims attached.
// The claims can later be retrieved with [ClaimsFromContext].
//
// This is typically called by the HTTP guards after successfully validating
// a bearer token.
func ContextWithClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext retrieves the validated claims from the context.
// Returns the claims and true if present, or nil and false if no claims
// have been set. This function never returns non-nil claims with false.
//
// Example:
//
//	claims, ok := auth.ClaimsFromContext(ctx)
//	if !ok {
//	    return errors.Unauthorized("no authenticated user in context")
//	}
//	log.Info("request", "user_id", claims.UserID)
func ClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*TokenClaims)
	return claims, ok
}

// MustClaimsFromContext retrieves the validated claims from the context,
// panicking if none are present. This should only be used in handlers that
// run strictly behind an authentication guard.
func MustClaimsFromContext(ctx context.Context) *TokenClaims {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		panic("auth: no claims in context; ensure an authentication guard is configured")
	}
	return claims
}

// ContextWithCorrelationID returns a new context with the request
// correlation ID attached. The ID is propagated to outbound calls (billing
// gateway, usage events) so a request can be traced across services.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from the context.
// Returns the ID and true if present, or an empty string and false when the
// request arrived without one.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false if no trace is present.
//
// This allows correlating auth decisions with distributed traces, linking
// denied requests to specific request flows.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext extracts the OpenTelemetry span ID from the context.
// Returns the span ID as a hex string and true if a valid span is active,
// or an empty string and false if no span is present.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}
