package handler

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency ping.
const healthCheckTimeout = 2 * time.Second

type HealthResponse struct {
	Status       string            `json:"status"`
	Time         string            `json:"time"`
	Torrents     int               `json:"torrents"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// SessionCounter reports the number of live content sources.
type SessionCounter interface {
	ActiveSessions() int
}

// Dependency is an optional backend whose reachability is reported by Health.
type Dependency struct {
	Name string
	Ping func(ctx context.Context) error
}

// Health handles GET /health-check
// Any failing dependency marks the service degraded with 503.
func Health(sessions SessionCounter, deps ...Dependency) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Time:     time.Now().UTC().Format(time.RFC3339),
			Torrents: sessions.ActiveSessions(),
		}
		status := http.StatusOK

		if len(deps) > 0 {
			resp.Dependencies = make(map[string]string, len(deps))
		}
		for _, d := range deps {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := d.Ping(ctx)
			cancel()
			if err != nil {
				resp.Dependencies[d.Name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Dependencies[d.Name] = "ok"
		}

		JSON(w, status, resp)
	}
}
