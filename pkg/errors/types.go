package errors

import (
	"fmt"
	"net/http"
)

// Error is the structured error carried across the control plane: a
// registry [Code], a message, an optional wrapped cause, and optional
// key-value details. The code's category drives both the HTTP status
// mapping and the Is* predicates, so handlers and callers never match
// on message text.
//
// Values are treated as immutable after construction; WithDetails and
// WithDetail return copies.
type Error struct {
	// Code is the machine-readable registry code, e.g. "AUTHZ_002".
	Code Code

	// Message may reach API clients. It must not leak key material,
	// internal hostnames, or raw text from upstream dependencies.
	Message string

	// Cause is the wrapped underlying error, reachable through
	// errors.Unwrap and friends.
	Cause error

	// Details holds extra context for logs and API responses, such as
	// the app_id or workflow a guard rejected.
	Details map[string]any
}

// Error renders as "CODE: message" with the cause appended when set.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to the errors package helpers.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code's category to an HTTP status. Unrecognized
// categories fall back to 500 rather than leaking as 200s.
func (e *Error) HTTPStatus() int {
	switch e.Code.Category() {
	case "VAL":
		return http.StatusBadRequest
	case "AUTH":
		return http.StatusUnauthorized
	case "AUTHZ":
		return http.StatusForbidden
	case "NF":
		return http.StatusNotFound
	case "CONF":
		return http.StatusConflict
	case "INT":
		return http.StatusInternalServerError
	case "UNAVAIL":
		return http.StatusServiceUnavailable
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails returns a copy with the given details merged in; later
// keys win over existing ones. The receiver is left untouched.
func (e *Error) WithDetails(details map[string]any) *Error {
	newDetails := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		newDetails[k] = v
	}
	for k, v := range details {
		newDetails[k] = v
	}
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: newDetails,
	}
}

// WithDetail returns a copy with one detail added. Chains:
//
//	cperr.NotFound("workflow not found").WithDetail("app_id", appID)
func (e *Error) WithDetail(key string, value any) *Error {
	newDetails := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		newDetails[k] = v
	}
	newDetails[key] = value
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: newDetails,
	}
}

// Format supports %v and %q like Error(), and %+v for an expanded form
// that includes details and the full cause chain.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "Error{Code: %q, Message: %q", e.Code, e.Message)
			if len(e.Details) > 0 {
				fmt.Fprintf(s, ", Details: %v", e.Details)
			}
			if e.Cause != nil {
				fmt.Fprintf(s, ", Cause: %+v", e.Cause)
			}
			fmt.Fprint(s, "}")
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
