package handlers

import "net/http"

type pingResponse struct {
	Data string `json:"data"`
}

// HandlePing answers GET /ping with a fixed liveness body, per spec.md
// §6/§8 scenario 1: two sequential calls return identical bodies.
func (h *Handler) HandlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, pingResponse{Data: "pong"})
}
