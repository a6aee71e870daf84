package httpserver

import (
	"net/http"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/health"
	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/version"
)

// handleHealth reports overall service health. The top-level shape stays
// {status, model_loaded}; component detail rides along when a checker is wired.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := s.chat.ModelLoaded()
	payload := map[string]any{
		"status":       "ok",
		"model_loaded": loaded,
		"version":      version.Info(),
	}

	if s.checker != nil {
		hs := s.checker.Check(r.Context())
		payload["status"] = statusLabel(hs.Status)
		payload["components"] = hs.Components
	} else if !loaded {
		payload["status"] = "degraded"
	}

	s.respondJSON(w, http.StatusOK, payload)
}

// statusLabel keeps the wire value "ok" for a fully healthy service.
func statusLabel(st health.Status) string {
	if st == health.StatusHealthy {
		return "ok"
	}
	return string(st)
}
