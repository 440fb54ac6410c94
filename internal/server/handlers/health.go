package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/clofast/clofast/internal/database"
	"github.com/clofast/clofast/internal/scheduler"
)

type HealthHandlers struct {
	db      *database.DB
	engine  *scheduler.Engine
	version string
}

func NewHealthHandlers(db *database.DB, engine *scheduler.Engine, version string) *HealthHandlers {
	return &HealthHandlers{
		db:      db,
		engine:  engine,
		version: version,
	}
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Message string       `json:"message,omitempty"`
	Details any          `json:"details,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

var startTime = time.Now()

const healthCheckTimeout = 5 * time.Second

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := map[string]ComponentHealth{
		"database":  h.checkDatabase(ctx),
		"scheduler": h.checkScheduler(),
	}

	overall := HealthStatusHealthy
	for _, c := range components {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	resp := HealthResponse{
		Status:     overall,
		Version:    h.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	status := http.StatusOK
	if overall == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, resp)
}

// Liveness reports only that the process is serving.
func (h *HealthHandlers) Liveness(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Latency: latency.String(),
			Message: "database ping failed",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: latency.String(),
	}
}

func (h *HealthHandlers) checkScheduler() ComponentHealth {
	state := h.engine.State()
	details := map[string]any{
		"state":   state.String(),
		"pending": len(h.engine.Pending()),
	}

	if state == scheduler.StateShutdown {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "scheduler is shut down",
			Details: details,
		}
	}
	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Details: details,
	}
}
