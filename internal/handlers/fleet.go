package handlers

import (
	"net/http"

	"github.com/skarab42/pantin/internal/stats"
)

// fleetResponse reports browser pool occupancy and per-host request
// stats, the supplemented debug surface behind GET /fleet.
type fleetResponse struct {
	Pool  interface{}                    `json:"pool"`
	Hosts map[string]stats.HostStatsJSON `json:"hosts"`
}

// HandleFleet answers GET /fleet with a snapshot of pool health and
// per-target-host observability, for operators and the pantin-fleet TUI.
func (h *Handler) HandleFleet(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, fleetResponse{
		Pool:  h.pool.Stats(),
		Hosts: h.stats.AllStats(),
	})
}
