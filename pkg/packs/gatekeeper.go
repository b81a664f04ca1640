package packs

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mozaiks/control-plane/pkg/packs"

// GenericDenialReason is returned when gate evaluation itself fails.
// Gating fails closed, but the caller gets a retry-safe message instead
// of internal error details.
const GenericDenialReason = "Workflow prerequisites could not be verified. Please try again."

// WorkflowAvailability describes one pack workflow for UI discovery:
// whether the user can start it right now and, if not, why.
type WorkflowAvailability struct {
	Workflow      string            `json:"workflow"`
	Title         string            `json:"title,omitempty"`
	Available     bool              `json:"available"`
	Reason        string            `json:"reason,omitempty"`
	RequiredGates []GateRequirement `json:"required_gates,omitempty"`
}

// Gatekeeper evaluates pack prerequisite gates against completed
// workflow sessions.
type Gatekeeper struct {
	pack     *Pack
	sessions SessionStore
	tracer   trace.Tracer
}

// NewGatekeeper creates a Gatekeeper for the given pack and session
// store.
func NewGatekeeper(pack *Pack, sessions SessionStore) *Gatekeeper {
	return &Gatekeeper{
		pack:     pack,
		sessions: sessions,
		tracer:   otel.Tracer(tracerName),
	}
}

// Pack returns the pack this gatekeeper enforces.
func (g *Gatekeeper) Pack() *Pack {
	return g.pack
}

// ValidatePackPrereqs checks every gate of the workflow for (appID,
// userID). It returns (true, "") when all gates are satisfied, and
// (false, reason) otherwise, where reason joins the de-duplicated
// messages of every unsatisfied gate.
//
// A gate is satisfied by the existence of any completed session of the
// parent workflow. Store errors during evaluation deny with
// [GenericDenialReason] rather than surfacing internals.
func (g *Gatekeeper) ValidatePackPrereqs(ctx context.Context, appID, userID, workflow string) (bool, string) {
	ctx, span := g.tracer.Start(ctx, "packs.ValidatePackPrereqs",
		trace.WithAttributes(attribute.String("packs.workflow", workflow)))
	defer span.End()

	if !g.pack.Declared(workflow) {
		span.SetStatus(codes.Error, "workflow not declared")
		return false, "Unknown workflow " + workflow + "."
	}

	var reasons []string
	seen := make(map[string]struct{})
	for _, gate := range g.pack.RequiredGates(workflow) {
		completed, err := g.sessions.HasCompletedSession(ctx, appID, userID, gate.From)
		if err != nil {
			slog.ErrorContext(ctx, "packs: gate evaluation failed",
				"app_id", appID,
				"workflow", workflow,
				"gate_from", gate.From,
				"error", err,
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, "gate evaluation failed")
			return false, GenericDenialReason
		}
		if completed {
			continue
		}
		if _, dup := seen[gate.Reason]; dup {
			continue
		}
		seen[gate.Reason] = struct{}{}
		reasons = append(reasons, gate.Reason)
	}

	if len(reasons) > 0 {
		span.SetAttributes(attribute.Int("packs.unsatisfied_gates", len(reasons)))
		return false, strings.Join(reasons, " ")
	}
	return true, ""
}

// ListWorkflowAvailability maps every declared workflow to its current
// availability for (appID, userID). The list is for UI discovery, not
// enforcement; launch still goes through [ValidatePackPrereqs]. Order is
// deterministic: journey order first, remaining workflows alphabetical.
func (g *Gatekeeper) ListWorkflowAvailability(ctx context.Context, appID, userID string) []WorkflowAvailability {
	ctx, span := g.tracer.Start(ctx, "packs.ListWorkflowAvailability")
	defer span.End()

	names := g.pack.WorkflowNames()
	availability := make([]WorkflowAvailability, 0, len(names))
	for _, workflow := range names {
		allowed, reason := g.ValidatePackPrereqs(ctx, appID, userID, workflow)
		availability = append(availability, WorkflowAvailability{
			Workflow:      workflow,
			Title:         g.pack.Workflows[workflow].Title,
			Available:     allowed,
			Reason:        reason,
			RequiredGates: g.pack.RequiredGates(workflow),
		})
	}
	return availability
}
