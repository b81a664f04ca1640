// Package errors is the structured error vocabulary of the Mozaiks
// control plane. Every failure that crosses a package boundary carries
// a registry [Code] like "AUTH_002": the prefix before the underscore
// is the category, and the category alone decides the HTTP status at
// the API edge, which is how an expired token becomes a 401 and a
// denied execution context a 403 without the handlers inspecting
// individual codes.
//
// Eight categories cover the plane's failure modes: VAL (bad input),
// AUTH (failed authentication), AUTHZ (failed authorization), NF
// (missing resource), CONF (state conflict), INT (unexpected failure),
// UNAVAIL (dependency down), and TIMEOUT (deadline overrun).
//
// Typical flow at a call site:
//
//	rec, err := store.Get(ctx, appID)
//	if err != nil {
//	    return cperr.Wrap(err, cperr.CodeInternalDatabase, "loading entitlements")
//	}
//
// and at the boundary:
//
//	if cperr.IsAuthentication(err) {
//	    // respond 401
//	}
//	if e, ok := cperr.AsError(err); ok {
//	    logger.Error("request failed", "code", e.Code, "message", e.Message)
//	}
package errors
