package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Uptime    string `json:"uptime"`
}

// ReadyResponse is the body of /ready.
type ReadyResponse struct {
	Status  string            `json:"status"`
	Reasons map[string]string `json:"reasons,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.ReadinessTimeout)
	defer cancel()

	s.mu.RLock()
	checks := make([]namedCheck, len(s.checks))
	copy(checks, s.checks)
	s.mu.RUnlock()

	reasons := make(map[string]string)
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			reasons[c.name] = err.Error()
		}
	}

	if len(reasons) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Reasons: reasons})
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
