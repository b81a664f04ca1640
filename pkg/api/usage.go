package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mozaiks/control-plane/pkg/auth"
	cperr "github.com/mozaiks/control-plane/pkg/errors"
	"github.com/mozaiks/control-plane/pkg/models"
	"github.com/mozaiks/control-plane/pkg/packs"
	"github.com/mozaiks/control-plane/pkg/usage"
)

// UsageRouter sets up the runtime-facing usage reporting routes. Callers
// authenticate with the execution token minted at launch; the guard
// enforces the token's app binding against the path.
func UsageRouter(meter *usage.Meter, sessions packs.SessionStore, guard *auth.Guard) http.Handler {
	routes := &usageRoutes{meter: meter, sessions: sessions}

	r := chi.NewRouter()
	r.Use(guard.RequireExecutionToken)
	r.Post("/{app_id}/delta", routes.recordDelta)
	r.Post("/{app_id}/summary", routes.recordSummary)
	return r
}

type usageRoutes struct {
	meter    *usage.Meter
	sessions packs.SessionStore
}

type usageDeltaRequest struct {
	ChatID       string `json:"chat_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// recordDelta accepts an incremental usage report for a running session.
// Reports are advisory: the event is published best-effort and the
// request never fails on a full queue.
func (u *usageRoutes) recordDelta(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")

	var req usageDeltaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chatID, ok := u.sessionChatID(w, r, req.ChatID)
	if !ok {
		return
	}

	u.meter.RecordDelta(r.Context(), usage.Delta{
		AppID:        appID,
		ChatID:       chatID,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
	})
	w.WriteHeader(http.StatusAccepted)
}

type usageSummaryRequest struct {
	ChatID      string `json:"chat_id"`
	TotalTokens int    `json:"total_tokens"`
	Status      string `json:"status"`
}

// recordSummary accepts the final usage report for a session. When the
// reported status is a terminal session status, the session record is
// transitioned so that completed runs satisfy downstream workflow gates.
func (u *usageRoutes) recordSummary(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")

	var req usageSummaryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chatID, ok := u.sessionChatID(w, r, req.ChatID)
	if !ok {
		return
	}

	status := models.SessionStatus(req.Status)
	if req.Status == "" || !status.Valid() {
		writeError(w, cperr.Newf(cperr.CodeValidation,
			"api: unknown session status %q", req.Status))
		return
	}

	if status.IsTerminal() {
		if err := u.sessions.UpdateStatus(r.Context(), chatID, status); err != nil {
			writeError(w, err)
			return
		}
	}

	u.meter.RecordSummary(r.Context(), usage.Summary{
		AppID:       appID,
		ChatID:      chatID,
		TotalTokens: req.TotalTokens,
		Status:      status.String(),
	})
	w.WriteHeader(http.StatusAccepted)
}

// sessionChatID resolves the session being reported on: the token's chat
// binding when present, the request body otherwise. A bound token that
// contradicts the body is rejected.
func (u *usageRoutes) sessionChatID(w http.ResponseWriter, r *http.Request, bodyChatID string) (string, bool) {
	claims := auth.MustClaimsFromContext(r.Context())

	if claims.ChatID != "" {
		if bodyChatID != "" && bodyChatID != claims.ChatID {
			writeError(w, cperr.New(cperr.CodeAuthorizationDenied,
				"api: token is not valid for this chat"))
			return "", false
		}
		return claims.ChatID, true
	}

	if bodyChatID == "" {
		writeError(w, cperr.New(cperr.CodeValidationRequired,
			"api: chat_id is required"))
		return "", false
	}
	return bodyChatID, true
}
