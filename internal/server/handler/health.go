package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks one backing dependency. A nil return means healthy.
type Pinger func(ctx context.Context) error

type namedCheck struct {
	name string
	ping Pinger
}

// HealthHandler serves the health-check endpoint, aggregating dependency
// pings (Postgres, Redis, vault) into one component report.
type HealthHandler struct {
	logger *slog.Logger
	checks []namedCheck
}

// NewHealthHandler creates a HealthHandler with the provided logger.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// AddCheck registers a dependency ping under a component name. Checks run in
// registration order on every health request.
func (h *HealthHandler) AddCheck(name string, ping Pinger) {
	h.checks = append(h.checks, namedCheck{name: name, ping: ping})
}

// HealthCheck reports overall and per-component health. 200 when every
// dependency answers, 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checks))
	healthy := true

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.ping(ctx)
		cancel()
		if err != nil {
			healthy = false
			components[c.name] = err.Error()
			h.logger.WarnContext(r.Context(), "health check failed",
				slog.String("component", c.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		components[c.name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
