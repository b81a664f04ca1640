package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mozaiks/control-plane/pkg/auth"
	"github.com/mozaiks/control-plane/pkg/entitlements"
	"github.com/mozaiks/control-plane/pkg/events"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
	"github.com/mozaiks/control-plane/pkg/models"
	"github.com/mozaiks/control-plane/pkg/packs"
)

// launchRateWindow is the fixed window for the per-app launch limit.
const launchRateWindow = time.Minute

// launchRateLimitKey is the entitlement rate-limit entry that bounds
// workflow launches. Absent or zero means unlimited.
const launchRateLimitKey = "launches_per_minute"

// RateLimiter is the fixed-window counter the launch endpoint uses.
// The redis client satisfies it.
type RateLimiter interface {
	AllowRate(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// WorkflowsRouter sets up the workflow discovery and launch routes.
func WorkflowsRouter(deps Deps) http.Handler {
	routes := &workflowRoutes{
		minter:        deps.Minter,
		entitlements:  deps.Entitlements,
		gatekeeper:    deps.Gatekeeper,
		sessions:      deps.Sessions,
		bus:           deps.Bus,
		limiter:       deps.Limiter,
		runtimeUIBase: strings.TrimRight(deps.RuntimeUIBase, "/"),
	}

	r := chi.NewRouter()
	r.Use(deps.Guard.RequireUser)
	r.Get("/{app_id}/workflows", routes.listWorkflows)
	r.Post("/{app_id}/workflows/{workflow}/launch", routes.launchWorkflow)
	return r
}

type workflowRoutes struct {
	minter        *auth.Minter
	entitlements  *entitlements.SyncHandler
	gatekeeper    *packs.Gatekeeper
	sessions      packs.SessionStore
	bus           *events.Bus
	limiter       RateLimiter
	runtimeUIBase string
}

// workflowListResponse is the availability listing for UI discovery.
type workflowListResponse struct {
	AppID     string                       `json:"app_id"`
	Workflows []packs.WorkflowAvailability `json:"workflows"`
}

// listWorkflows returns every pack workflow with its availability for
// the calling user.
func (s *workflowRoutes) listWorkflows(w http.ResponseWriter, r *http.Request) {
	appID, ok := boundAppID(w, r)
	if !ok {
		return
	}

	claims := auth.MustClaimsFromContext(r.Context())
	availability := s.gatekeeper.ListWorkflowAvailability(r.Context(), appID, claims.UserID)
	writeJSON(w, http.StatusOK, workflowListResponse{AppID: appID, Workflows: availability})
}

// launchResponse is the handoff payload: the minted execution token and
// the runtime UI redirect carrying it.
type launchResponse struct {
	ChatID      string    `json:"chat_id"`
	Workflow    string    `json:"workflow"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	RedirectURL string    `json:"redirect_url"`
}

// launchWorkflow gates, rate-limits, and starts a workflow run: it
// creates the session record, mints an execution token bound to
// (app, chat), and hands the caller the runtime redirect.
func (s *workflowRoutes) launchWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID, ok := boundAppID(w, r)
	if !ok {
		return
	}
	workflow := chi.URLParam(r, "workflow")
	claims := auth.MustClaimsFromContext(ctx)

	if err := s.checkLaunchRate(r, appID); err != nil {
		writeError(w, err)
		return
	}

	allowed, reason := s.gatekeeper.ValidatePackPrereqs(ctx, appID, claims.UserID, workflow)
	if !allowed {
		writeError(w, cperr.New(cperr.CodeAuthorizationDenied, reason))
		return
	}

	session, err := models.NewWorkflowSession(appID, claims.UserID, workflow)
	if err != nil {
		writeError(w, cperr.Wrap(err, cperr.CodeValidation, "api: invalid launch request"))
		return
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		slog.ErrorContext(ctx, "api: failed to create workflow session",
			"app_id", appID,
			"workflow", workflow,
			"error", err,
		)
		writeError(w, cperr.Wrap(err, cperr.CodeInternalDatabase,
			"api: failed to create workflow session"))
		return
	}

	token, expiresAt, err := s.minter.Mint(ctx, auth.MintRequest{
		UserID: claims.UserID,
		AppID:  appID,
		ChatID: session.ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if s.bus != nil {
		s.bus.Publish(events.New(events.TypeWorkflowHandoff, appID, map[string]any{
			"chat_id":  session.ID,
			"user_id":  claims.UserID,
			"workflow": workflow,
		}))
	}

	writeJSON(w, http.StatusCreated, launchResponse{
		ChatID:      session.ID,
		Workflow:    workflow,
		Token:       token,
		ExpiresAt:   expiresAt,
		RedirectURL: s.redirectURL(appID, session.ID, token),
	})
}

// checkLaunchRate applies the app's entitlement launch limit through
// the fixed-window limiter. No limiter or no configured limit means
// unlimited. Limiter errors fail open: a degraded cache must not take
// launches down with it.
func (s *workflowRoutes) checkLaunchRate(r *http.Request, appID string) error {
	if s.limiter == nil {
		return nil
	}

	record, err := s.entitlements.GetEntitlements(r.Context(), appID)
	if err != nil {
		return err
	}
	limit := int64(record.RateLimits[launchRateLimitKey])
	if limit <= 0 {
		return nil
	}

	allowed, err := s.limiter.AllowRate(r.Context(),
		"launch:"+appID, limit, launchRateWindow)
	if err != nil {
		slog.WarnContext(r.Context(), "api: launch rate check failed, allowing",
			"app_id", appID,
			"error", err,
		)
		return nil
	}
	if !allowed {
		return cperr.Newf(cperr.CodeUnavailableOverloaded,
			"api: launch limit of %d per minute reached for this app", limit)
	}
	return nil
}

// redirectURL builds the runtime UI handoff URL.
func (s *workflowRoutes) redirectURL(appID, chatID, token string) string {
	query := url.Values{}
	query.Set("app_id", appID)
	query.Set("chat_id", chatID)
	query.Set("token", token)
	return fmt.Sprintf("%s/chat?%s", s.runtimeUIBase, query.Encode())
}
