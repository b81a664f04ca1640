// Package testutil carries the cross-package test helpers: structured
// error-code assertions and JSON redaction checks. Require* helpers
// halt the test; Assert* helpers record the failure and keep going,
// which suits table-driven tests. Every helper calls t.Helper() so
// failures point at the caller.
package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// RequireErrorCode halts unless err is a structured error carrying the
// given code.
//
//	err := loader.Load(nil)
//	testutil.RequireErrorCode(t, err, cperr.CodeInternalConfiguration)
func RequireErrorCode(t testing.TB, err error, code cperr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	cpErr, ok := cperr.AsError(err)
	require.True(t, ok, "expected *cperr.Error, got %T: %v", err, err)
	require.Equal(t, code, cpErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		cpErr.Code, code, cpErr.Message)
}

// AssertErrorCode is the non-halting form of [RequireErrorCode].
func AssertErrorCode(t testing.TB, err error, code cperr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	cpErr, ok := cperr.AsError(err)
	if !assert.True(t, ok, "expected *cperr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, cpErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		cpErr.Code, code, cpErr.Message)
}

// AssertJSONContains marshals v and asserts the output contains the
// expected substring.
func AssertJSONContains(t testing.TB, v any, expected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.Contains(t, string(data), expected,
		"expected JSON to contain %q, got: %s", expected, string(data))
}

// AssertJSONNotContains marshals v and asserts the output does not
// contain the given substring. This is the redaction check: secrets and
// credentials must never survive serialization.
func AssertJSONNotContains(t testing.TB, v any, unexpected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.NotContains(t, string(data), unexpected,
		"expected JSON to NOT contain %q, got: %s", unexpected, string(data))
}
