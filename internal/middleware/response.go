package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// errorResponse is the §7 error body shape: {"cause": "<kebab-case-kind>",
// "detail": "<human text>"}.
type errorResponse struct {
	Cause  string `json:"cause"`
	Detail string `json:"detail"`
}

// writeErrorResponse writes a §7-shaped JSON error body with the given
// HTTP status, cause (a kebab-case error kind), and human-readable detail.
func writeErrorResponse(w http.ResponseWriter, statusCode int, cause, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := errorResponse{Cause: cause, Detail: detail}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Str("cause", cause).Msg("failed to encode middleware error response")
	}
}
