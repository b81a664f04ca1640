package errors

import (
	"errors"
)

// AsError extracts the first *Error in err's chain, traversing with
// errors.As. It reports false for nil and for chains with no structured
// error.
//
// Example:
//
//	if e, ok := cperr.AsError(err); ok {
//	    logger.Warn("launch rejected", "code", e.Code, "message", e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or the
// empty string when the chain carries no structured error.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err's structured code equals code exactly.
// Category-level matching is what the Is* predicates are for.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsValidation reports whether err carries a VAL_xxx code. API handlers
// map these to 400 Bad Request.
func IsValidation(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "VAL"
}

// IsAuthentication reports whether err carries an AUTH_xxx code, as the
// token validator produces for bad signatures or expired claims. Maps to
// 401 Unauthorized.
func IsAuthentication(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "AUTH"
}

// IsAuthorization reports whether err carries an AUTHZ_xxx code, as the
// guards produce for app or chat binding mismatches and gated workflows.
// Maps to 403 Forbidden.
func IsAuthorization(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "AUTHZ"
}

// IsNotFound reports whether err carries an NF_xxx code. Maps to 404
// Not Found.
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "NF"
}

// IsConflict reports whether err carries a CONF_xxx code. Maps to 409
// Conflict.
func IsConflict(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "CONF"
}

// IsInternal reports whether err carries an INT_xxx code. Handlers log
// the detail and return a generic message to the client.
func IsInternal(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "INT"
}

// IsUnavailable reports whether err carries an UNAVAIL_xxx code, as the
// rate limiter produces when the launch budget is exhausted. Maps to 503
// Service Unavailable.
func IsUnavailable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "UNAVAIL"
}

// IsTimeout reports whether err carries a TIMEOUT_xxx code. Maps to 504
// Gateway Timeout.
func IsTimeout(err error) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == "TIMEOUT"
}

// IsRetryable reports whether a retry with backoff could plausibly
// succeed. Only timeouts and unavailability qualify; internal errors are
// excluded because their causes are usually not transient.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL":
		return true
	default:
		return false
	}
}

// IsClientError reports whether err maps to a 4xx status: validation,
// authentication, authorization, not found, or conflict.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "VAL", "AUTH", "AUTHZ", "NF", "CONF":
		return true
	default:
		return false
	}
}

// IsServerError reports whether err maps to a 5xx status: internal,
// unavailable, or timeout. These are the ones worth alerting on.
func IsServerError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "INT", "UNAVAIL", "TIMEOUT":
		return true
	default:
		return false
	}
}
