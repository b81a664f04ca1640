package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mozaiks/control-plane/pkg/auth"
	"github.com/mozaiks/control-plane/pkg/entitlements"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// EntitlementsRouter sets up the entitlement routes. Sync is a
// service-to-service endpoint pushed by the billing gateway; lookup is
// available to any authenticated user bound to the app.
func EntitlementsRouter(handler *entitlements.SyncHandler, guard *auth.Guard) http.Handler {
	routes := &entitlementRoutes{handler: handler}

	r := chi.NewRouter()
	r.With(guard.RequireInternal).Post("/{app_id}/sync", routes.syncEntitlements)
	r.With(guard.RequireUser).Get("/{app_id}", routes.getEntitlements)
	return r
}

type entitlementRoutes struct {
	handler *entitlements.SyncHandler
}

// syncEntitlements applies a plan/tier push from the billing gateway.
// The path app_id is authoritative; a body app_id must match it.
func (e *entitlementRoutes) syncEntitlements(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")

	var req entitlements.SyncRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.AppID != "" && req.AppID != appID {
		writeError(w, cperr.Newf(cperr.CodeValidation,
			"api: body app_id %q does not match path app_id %q", req.AppID, appID))
		return
	}
	req.AppID = appID

	result, err := e.handler.HandleSync(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// getEntitlements returns the app's entitlement record, or OSS defaults
// when the app never synced. The caller's token must be valid for the
// app when it carries an app binding.
func (e *entitlementRoutes) getEntitlements(w http.ResponseWriter, r *http.Request) {
	appID, ok := boundAppID(w, r)
	if !ok {
		return
	}

	record, err := e.handler.GetEntitlements(r.Context(), appID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
