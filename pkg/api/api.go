// Package api exposes the control plane's HTTP surface: entitlement
// sync and lookup, workflow discovery and launch, and health. Routers
// are plain chi sub-routers wired by the composition root; every
// dependency comes in through the constructor, never from package
// state.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mozaiks/control-plane/pkg/auth"
	"github.com/mozaiks/control-plane/pkg/billing"
	"github.com/mozaiks/control-plane/pkg/entitlements"
	"github.com/mozaiks/control-plane/pkg/events"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
	"github.com/mozaiks/control-plane/pkg/packs"
	"github.com/mozaiks/control-plane/pkg/usage"
)

// Deps carries everything the API routers need. Optional fields may be
// nil; the routes that need them are simply not mounted.
type Deps struct {
	// Guard supplies the authentication middleware.
	Guard *auth.Guard

	// Minter signs execution tokens at workflow launch.
	Minter *auth.Minter

	// Entitlements handles sync and lookup.
	Entitlements *entitlements.SyncHandler

	// Gatekeeper evaluates workflow prerequisite gates.
	Gatekeeper *packs.Gatekeeper

	// Sessions persists workflow sessions created at launch.
	Sessions packs.SessionStore

	// Bus receives advisory handoff events. May be nil.
	Bus *events.Bus

	// Billing proxies checkout and portal calls. May be nil, in which
	// case the billing routes are not mounted.
	Billing *billing.Client

	// Meter records advisory usage reports from runtimes. May be nil,
	// in which case the usage routes are not mounted.
	Meter *usage.Meter

	// Limiter enforces the per-app launch rate limit. May be nil.
	Limiter RateLimiter

	// RuntimeUIBase is the downstream runtime UI base URL that launch
	// redirects point at.
	RuntimeUIBase string

	// Health lists named readiness checks for the health endpoint.
	Health []HealthCheck
}

// NewRouter assembles the control-plane router.
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(auth.CorrelationID())

	r.Mount("/health", HealthRouter(deps.Health))

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/entitlements", EntitlementsRouter(deps.Entitlements, deps.Guard))
		r.Mount("/apps", WorkflowsRouter(deps))
		if deps.Billing != nil {
			r.Mount("/billing", BillingRouter(deps.Billing, deps.Guard))
		}
		if deps.Meter != nil {
			r.Mount("/usage", UsageRouter(deps.Meter, deps.Sessions, deps.Guard))
		}
	})
	return r
}

// errorResponse is the JSON body written for request failures, matching
// the shape the auth guards use.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError writes a JSON error response with the status derived from
// the error's category. Unclassified errors become an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	code := cperr.CodeInternal
	message := "internal error"
	status := http.StatusInternalServerError

	if cpError, ok := cperr.AsError(err); ok {
		code = cpError.Code
		message = cpError.Message
		status = cpError.HTTPStatus()
	}

	var body errorResponse
	body.Error.Code = string(code)
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return cperr.Wrap(err, cperr.CodeValidationFormat, "api: invalid request body")
	}
	return nil
}
