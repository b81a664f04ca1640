package errors

// Code is a stable, machine-readable error code of the form
// CATEGORY_NNN. Codes never change once assigned; new conditions get
// new numbers. The category prefix determines the HTTP status (see
// [Error.HTTPStatus]) and which Is* predicate matches.
type Code string

// The registry. One block per category, in HTTP status order:
// VAL 400, AUTH 401, AUTHZ 403, NF 404, CONF 409, INT 500,
// UNAVAIL 503, TIMEOUT 504.
const (
	// CodeValidation covers input that fails validation; the next three
	// narrow it to a missing required field, a bad format, and an
	// out-of-range value.
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"
	CodeValidationRange    Code = "VAL_004"

	// CodeAuthentication covers credential failures. Expired marks a
	// token past its exp claim; Invalid marks a malformed token or a
	// signature that does not verify against the JWKS.
	CodeAuthentication        Code = "AUTH_001"
	CodeAuthenticationExpired Code = "AUTH_002"
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthorization covers a principal that authenticated but may
	// not act. Denied includes execution-context binding mismatches and
	// workflow gating rejections; InsufficientScope marks a token
	// without the required scopes.
	CodeAuthorization                  Code = "AUTHZ_001"
	CodeAuthorizationDenied            Code = "AUTHZ_002"
	CodeAuthorizationInsufficientScope Code = "AUTHZ_003"

	// CodeNotFound covers missing resources, narrowed to a missing app
	// and a workflow the app's pack does not declare.
	CodeNotFound         Code = "NF_001"
	CodeNotFoundApp      Code = "NF_002"
	CodeNotFoundWorkflow Code = "NF_003"

	// CodeConflict covers operations that clash with current state.
	CodeConflict              Code = "CONF_001"
	CodeConflictAlreadyExists Code = "CONF_002"

	// CodeInternal covers unexpected failures. Configuration includes
	// missing signing keys and unresolvable issuer or JWKS sources.
	CodeInternal              Code = "INT_001"
	CodeInternalDatabase      Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	// CodeUnavailable covers temporarily unreachable services.
	// Dependency marks an upstream (identity provider, database,
	// billing gateway) being down; Overloaded includes rate-limit
	// rejections from the billing gateway.
	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"
	CodeUnavailableOverloaded Code = "UNAVAIL_003"

	// CodeTimeout covers operations that ran out of time, narrowed to
	// database operations and dependent-service calls.
	CodeTimeout           Code = "TIMEOUT_001"
	CodeTimeoutDatabase   Code = "TIMEOUT_002"
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore, e.g. "AUTHZ"
// for AUTHZ_002. A code with no underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
