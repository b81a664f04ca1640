package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the combined readiness probes.
const healthCheckTimeout = 5 * time.Second

// HealthCheck is one named readiness probe, typically a database or
// cache ping.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthRouter sets up the health route. With no checks configured the
// endpoint always reports healthy.
func HealthRouter(checks []HealthCheck) http.Handler {
	routes := &healthRoutes{checks: checks}
	r := chi.NewRouter()
	r.Get("/", routes.getHealth)
	return r
}

type healthRoutes struct {
	checks []HealthCheck
}

// healthResponse reports per-dependency status.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *healthRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := healthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		response.Checks = make(map[string]string, len(h.checks))
	}

	status := http.StatusOK
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			response.Status = "degraded"
			response.Checks[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[check.Name] = "ok"
	}
	writeJSON(w, status, response)
}
