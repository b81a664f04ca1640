package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mozaiks/control-plane/pkg/auth"
	"github.com/mozaiks/control-plane/pkg/billing"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
)

// BillingRouter sets up the billing proxy routes. Both endpoints
// forward to the external gateway; the control plane adds service
// credentials and the app binding check, nothing more.
func BillingRouter(client *billing.Client, guard *auth.Guard) http.Handler {
	routes := &billingRoutes{client: client}

	r := chi.NewRouter()
	r.Use(guard.RequireUser)
	r.Post("/{app_id}/checkout-session", routes.createCheckoutSession)
	r.Post("/{app_id}/portal-session", routes.createPortalSession)
	return r
}

type billingRoutes struct {
	client *billing.Client
}

// checkoutRequest is the caller-supplied portion of a checkout proxy
// call; the app ID comes from the path.
type checkoutRequest struct {
	PlanTier   string `json:"plan_tier"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (b *billingRoutes) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	appID, ok := boundAppID(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := b.client.CreateCheckoutSession(r.Context(), &billing.CheckoutSessionRequest{
		AppID:      appID,
		PlanTier:   req.PlanTier,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// portalRequest is the caller-supplied portion of a portal proxy call.
type portalRequest struct {
	ReturnURL string `json:"return_url"`
}

func (b *billingRoutes) createPortalSession(w http.ResponseWriter, r *http.Request) {
	appID, ok := boundAppID(w, r)
	if !ok {
		return
	}

	var req portalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := b.client.CreatePortalSession(r.Context(), &billing.PortalSessionRequest{
		AppID:     appID,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// boundAppID resolves the path app_id and enforces the token's app
// binding, writing the denial itself on mismatch.
func boundAppID(w http.ResponseWriter, r *http.Request) (string, bool) {
	appID := chi.URLParam(r, "app_id")
	claims := auth.MustClaimsFromContext(r.Context())
	if !claims.ValidateAppID(appID) {
		writeError(w, cperr.New(cperr.CodeAuthorizationDenied,
			"api: token is not valid for this app"))
		return "", false
	}
	return appID, true
}
