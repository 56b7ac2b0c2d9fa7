// Package handlers provides HTTP request handlers for Pantin's
// screenshot API.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skarab42/pantin/internal/browser"
	"github.com/skarab42/pantin/internal/stats"
)

// maxPoolBufferCap bounds how large a pooled encoding buffer may grow
// before it is discarded instead of recycled.
const maxPoolBufferCap = 64 * 1024

var responseBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 8192))
	},
}

func getResponseBuffer() *bytes.Buffer {
	buf, ok := responseBufferPool.Get().(*bytes.Buffer)
	if !ok {
		return bytes.NewBuffer(make([]byte, 0, 8192))
	}
	return buf
}

func putResponseBuffer(buf *bytes.Buffer) {
	if buf.Cap() > maxPoolBufferCap {
		return
	}
	buf.Reset()
	responseBufferPool.Put(buf)
}

// Handler serves Pantin's HTTP surface: /ping, /screenshot, and the
// supplemented /fleet debug endpoint.
type Handler struct {
	pool  *browser.Pool
	stats *stats.Manager
}

// New builds a Handler bound to a fleet pool and its per-host stats.
func New(pool *browser.Pool, statsManager *stats.Manager) *Handler {
	return &Handler{pool: pool, stats: statsManager}
}

// writeJSONResponse buffers JSON before writing, so an encoding failure
// never leaves a partially-written body on the wire.
func writeJSONResponse(w http.ResponseWriter, statusCode int, body interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"cause":"internal-error","detail":"failed to encode response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

type errorBody struct {
	Cause  string `json:"cause"`
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, statusCode int, cause, detail string) {
	writeJSONResponse(w, statusCode, errorBody{Cause: cause, Detail: detail})
}

func writeErrorFromErr(w http.ResponseWriter, err error) {
	status, cause, detail := statusForError(err)
	writeError(w, status, cause, detail)
}
