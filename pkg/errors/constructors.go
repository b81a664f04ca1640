package errors

import (
	"errors"
	"fmt"
)

// New builds an Error from a registry code and a static message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is [New] with a Sprintf-formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap layers a code and message over an existing error, which becomes
// the Cause. A nil err yields nil, so call sites can wrap
// unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is [Wrap] with a Sprintf-formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Shorthand constructors for the category base codes. Each is
// equivalent to New with the matching Code* constant; reach for the
// narrower codes directly when one fits.

// Validation reports invalid input (CodeValidation).
func Validation(message string) *Error { return New(CodeValidation, message) }

// Validationf is [Validation] with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound reports a missing resource (CodeNotFound).
func NotFound(message string) *Error { return New(CodeNotFound, message) }

// NotFoundf is [NotFound] with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Unauthorized reports failed authentication (CodeAuthentication):
// missing or invalid credentials.
func Unauthorized(message string) *Error { return New(CodeAuthentication, message) }

// Forbidden reports failed authorization (CodeAuthorization): the
// principal is known but lacks permission.
func Forbidden(message string) *Error { return New(CodeAuthorization, message) }

// Conflict reports an operation clashing with current state
// (CodeConflict).
func Conflict(message string) *Error { return New(CodeConflict, message) }

// Internal reports an unexpected failure (CodeInternal). Keep the
// message safe for clients; put detail in the Cause.
func Internal(message string) *Error { return New(CodeInternal, message) }

// Internalf is [Internal] with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable reports a dependency that is temporarily down
// (CodeUnavailable).
func Unavailable(message string) *Error { return New(CodeUnavailable, message) }

// Timeout reports an operation that ran out of time (CodeTimeout).
func Timeout(message string) *Error { return New(CodeTimeout, message) }

// FromError coerces any error into an *Error: one already in the chain
// comes back as-is, anything else is wrapped as CodeInternal with a
// client-safe message. Nil in, nil out.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
