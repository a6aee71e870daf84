package httpserver

import (
	"io"
	"net/http"

	"github.com/Yuucas/DeepSeek-Chat-WebApp/internal/metrics"
)

// handleMetrics exposes the in-process collector in Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = io.WriteString(w, metrics.FormatPrometheus(s.metrics.GetSnapshot()))
}
