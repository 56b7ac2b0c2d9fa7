package handlers

import (
	"net/http"
)

// notFoundBody is spec.md §6's literal 404 body — intentionally not
// kebab-case like every other `cause`, to match the documented contract.
const notFoundBody = `{"cause":"not found"}`

// NewRouter wires Pantin's fixed HTTP surface: /ping, /screenshot, and
// the supplemented /fleet debug endpoint, with every unmatched path
// answering spec.md §6's literal 404 body.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", methodGuard(http.MethodGet, h.HandlePing))
	mux.HandleFunc("/screenshot", methodGuard(http.MethodGet, h.HandleScreenshot))
	mux.HandleFunc("/fleet", methodGuard(http.MethodGet, h.HandleFleet))
	mux.HandleFunc("/", handleNotFound)

	return mux
}

func methodGuard(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			handleNotFound(w, r)
			return
		}
		next(w, r)
	}
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(notFoundBody))
}
