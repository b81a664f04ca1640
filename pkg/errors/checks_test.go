package errors

import (
	"errors"
	"testing"
)

func TestAsError(t *testing.T) {
	structured := New(CodeValidation, "chat id is required")

	t.Run("structured error", func(t *testing.T) {
		got, ok := AsError(structured)
		if !ok || got != structured {
			t.Errorf("AsError() = (%v, %v), want the same structured error", got, ok)
		}
	})

	t.Run("wrapped returns outermost", func(t *testing.T) {
		wrapped := Wrap(structured, CodeInternal, "launch failed")
		got, ok := AsError(wrapped)
		if !ok {
			t.Fatal("AsError() should find the structured error")
		}
		if got.Code != CodeInternal {
			t.Errorf("AsError() stopped at code %v, want the outer %v", got.Code, CodeInternal)
		}
	})

	t.Run("plain error", func(t *testing.T) {
		got, ok := AsError(errors.New("connection reset"))
		if ok || got != nil {
			t.Errorf("AsError() = (%v, %v), want (nil, false)", got, ok)
		}
	})

	t.Run("nil", func(t *testing.T) {
		got, ok := AsError(nil)
		if ok || got != nil {
			t.Errorf("AsError(nil) = (%v, %v), want (nil, false)", got, ok)
		}
	})

	t.Run("joined chain", func(t *testing.T) {
		joined := errors.Join(errors.New("bus closed"), New(CodeTimeout, "consumer stalled"))
		got, ok := AsError(joined)
		if !ok || got.Code != CodeTimeout {
			t.Errorf("AsError() should find the structured error inside errors.Join, got (%v, %v)", got, ok)
		}
	})
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(CodeNotFoundApp, "app not found")); got != CodeNotFoundApp {
		t.Errorf("GetCode() = %v, want %v", got, CodeNotFoundApp)
	}
	if got := GetCode(errors.New("plain")); got != "" {
		t.Errorf("GetCode(plain) = %v, want empty", got)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %v, want empty", got)
	}
}

func TestHasCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"matching", New(CodeAuthorizationDenied, "app mismatch"), CodeAuthorizationDenied, true},
		{"different code same category", New(CodeAuthorizationDenied, "app mismatch"), CodeAuthorization, false},
		{"plain error", errors.New("plain"), CodeValidation, false},
		{"nil", nil, CodeValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasCode(tt.err, tt.code); got != tt.want {
				t.Errorf("HasCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCategoryChecks drives every category predicate over every code in
// the registry. Each code must satisfy exactly its own category check, the
// right client/server split, and the retryable rule (timeouts and
// unavailability retry, everything else does not).
func TestCategoryChecks(t *testing.T) {
	categories := map[string]struct {
		check func(error) bool
		codes []Code
	}{
		"VAL":     {IsValidation, []Code{CodeValidation, CodeValidationRequired, CodeValidationFormat, CodeValidationRange}},
		"AUTH":    {IsAuthentication, []Code{CodeAuthentication, CodeAuthenticationExpired, CodeAuthenticationInvalid}},
		"AUTHZ":   {IsAuthorization, []Code{CodeAuthorization, CodeAuthorizationDenied, CodeAuthorizationInsufficientScope}},
		"NF":      {IsNotFound, []Code{CodeNotFound, CodeNotFoundApp, CodeNotFoundWorkflow}},
		"CONF":    {IsConflict, []Code{CodeConflict, CodeConflictAlreadyExists}},
		"INT":     {IsInternal, []Code{CodeInternal, CodeInternalDatabase, CodeInternalConfiguration}},
		"UNAVAIL": {IsUnavailable, []Code{CodeUnavailable, CodeUnavailableDependency, CodeUnavailableOverloaded}},
		"TIMEOUT": {IsTimeout, []Code{CodeTimeout, CodeTimeoutDatabase, CodeTimeoutDependency}},
	}
	clientCategories := map[string]bool{"VAL": true, "AUTH": true, "AUTHZ": true, "NF": true, "CONF": true}
	retryableCategories := map[string]bool{"TIMEOUT": true, "UNAVAIL": true}

	for ownCat, own := range categories {
		for _, code := range own.codes {
			t.Run(string(code), func(t *testing.T) {
				err := New(code, "x")

				for otherCat, other := range categories {
					want := otherCat == ownCat
					if got := other.check(err); got != want {
						t.Errorf("%s check on %v = %v, want %v", otherCat, code, got, want)
					}
				}
				if got := IsClientError(err); got != clientCategories[ownCat] {
					t.Errorf("IsClientError(%v) = %v, want %v", code, got, clientCategories[ownCat])
				}
				if got := IsServerError(err); got == clientCategories[ownCat] {
					t.Errorf("IsServerError(%v) = %v, must be the complement of IsClientError", code, got)
				}
				if got := IsRetryable(err); got != retryableCategories[ownCat] {
					t.Errorf("IsRetryable(%v) = %v, want %v", code, got, retryableCategories[ownCat])
				}
			})
		}
	}
}

func TestCategoryChecks_NonStructuredInputs(t *testing.T) {
	checks := map[string]func(error) bool{
		"IsValidation":     IsValidation,
		"IsAuthentication": IsAuthentication,
		"IsAuthorization":  IsAuthorization,
		"IsNotFound":       IsNotFound,
		"IsConflict":       IsConflict,
		"IsInternal":       IsInternal,
		"IsUnavailable":    IsUnavailable,
		"IsTimeout":        IsTimeout,
		"IsRetryable":      IsRetryable,
		"IsClientError":    IsClientError,
		"IsServerError":    IsServerError,
	}
	for name, check := range checks {
		if check(errors.New("plain")) {
			t.Errorf("%s(plain error) = true, want false", name)
		}
		if check(nil) {
			t.Errorf("%s(nil) = true, want false", name)
		}
	}
}

func TestCategoryChecks_UseOuterCode(t *testing.T) {
	// Wrapping reclassifies: a not-found cause wrapped as internal reads
	// as internal, not as not-found.
	inner := New(CodeNotFoundWorkflow, "workflow not found")
	outer := Wrap(inner, CodeInternal, "gate evaluation failed")

	if IsNotFound(outer) {
		t.Error("IsNotFound should use the outer code, not the cause")
	}
	if !IsInternal(outer) {
		t.Error("IsInternal should be true for the outer code")
	}
}
