package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealthz reports 503 while the workspace template is missing, since
// every /start would fail.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Ready(); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
