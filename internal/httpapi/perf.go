package httpapi

import (
	"net/http"

	"github.com/ent0n29/callcoach/internal/observability"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	var window *observability.LatencyWindow
	if s.metrics != nil {
		window = s.metrics.Latency
	}
	respondJSON(w, http.StatusOK, window.Snapshot())
}
