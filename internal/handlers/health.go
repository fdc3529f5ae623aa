package handlers

import (
	"net/http"
	"time"

	"github.com/storyforge/api/internal/platform/httpx"
	"github.com/storyforge/api/internal/repositories"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	health    repositories.HealthRepository
	startedAt time.Time
}

// NewHealthHandlers constructs probe handlers. A nil repository makes the
// readiness probe degrade to a liveness check.
func NewHealthHandlers(health repositories.HealthRepository) *HealthHandlers {
	return &HealthHandlers{
		health:    health,
		startedAt: time.Now().UTC(),
	}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteSuccess(w, http.StatusOK, "", map[string]any{
		"uptime":    time.Since(h.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether downstream persistence is reachable.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.health != nil {
		if err := h.health.Ping(ctx); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("not_ready", "database unreachable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteSuccess(w, http.StatusOK, "", map[string]any{"ready": true})
}
