package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skarab42/pantin/internal/browser"
	"github.com/skarab42/pantin/internal/security"
	"github.com/skarab42/pantin/internal/stats"
	"github.com/skarab42/pantin/internal/types"
)

// responseType selects how a successful capture is serialized back to
// the client, per spec.md §6's `response_type` query parameter.
type responseType string

const (
	responseImagePNGBytes  responseType = "image-png-bytes"
	responseAttachment     responseType = "attachment"
	responseImagePNGBase64 responseType = "image-png-base64"
	responseJSONPNGBase64  responseType = "json-png-base64"
	responseJSONPNGBytes   responseType = "json-png-bytes"
)

// HandleScreenshot answers GET /screenshot: parses query parameters
// into a ScreenshotRequest, validates the target URL, leases a browser
// handle, captures, and serializes per response_type.
func (h *Handler) HandleScreenshot(w http.ResponseWriter, r *http.Request) {
	req, rt, err := parseScreenshotQuery(r)
	if err != nil {
		writeErrorFromErr(w, err)
		return
	}

	if err := security.ValidateTargetURLWithContext(r.Context(), req.URL); err != nil {
		writeErrorFromErr(w, types.NewInvalidURLError(req.URL, err.Error()))
		return
	}

	host := stats.ExtractHost(req.URL)
	start := time.Now()

	handle, err := h.pool.Acquire(r.Context())
	if err != nil {
		if host != "" {
			h.stats.RecordRequest(host, time.Since(start).Milliseconds(), false)
		}
		writeErrorFromErr(w, err)
		return
	}

	png, err := handle.Screenshot(r.Context(), req)
	if err != nil {
		h.pool.Release(handle, outcomeFor(r.Context(), err))
		if host != "" {
			h.stats.RecordRequest(host, time.Since(start).Milliseconds(), false)
		}
		writeErrorFromErr(w, err)
		return
	}
	h.pool.Release(handle, browser.Healthy)

	if host != "" {
		h.stats.RecordRequest(host, time.Since(start).Milliseconds(), true)
	}

	writeScreenshot(w, rt, png)
}

// outcomeFor decides whether a failed Screenshot leaves the handle
// Healthy (request-scoped errors like ElementNotFound per spec.md §7)
// or Broken (connection-fatal / caller-cancelled mid-response).
func outcomeFor(ctx context.Context, err error) browser.Outcome {
	if ctx.Err() != nil {
		return browser.Broken
	}
	if errors.Is(err, types.ErrConnectionLost) {
		return browser.Broken
	}
	var marionetteErr *types.MarionetteError
	if errors.As(err, &marionetteErr) && !marionetteErr.Recoverable() {
		return browser.Broken
	}
	return browser.Healthy
}

// parseScreenshotQuery builds a ScreenshotRequest and response_type from
// the request's query string, applying spec.md §6's defaults.
func parseScreenshotQuery(r *http.Request) (types.ScreenshotRequest, responseType, error) {
	q := r.URL.Query()
	req := types.DefaultScreenshotRequest()

	req.URL = q.Get("url")
	if req.URL == "" {
		return req, "", types.NewInvalidURLError("", "url is required")
	}

	if v := q.Get("delay"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return req, "", types.NewInvalidURLError(req.URL, "delay must be a non-negative integer")
		}
		req.DelayMs = uint32(n)
	}

	if v := q.Get("width"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return req, "", types.NewInvalidURLError(req.URL, "width must be a positive integer")
		}
		req.Width = uint32(n)
	}

	if v := q.Get("height"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return req, "", types.NewInvalidURLError(req.URL, "height must be a positive integer")
		}
		req.Height = uint32(n)
	}

	if v := q.Get("scrollbar"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, "", types.NewInvalidURLError(req.URL, "scrollbar must be a boolean")
		}
		req.Scrollbar = b
	}

	if v := q.Get("mode"); v != "" {
		req.Mode = types.ScreenshotMode(v)
	}
	req.Selector = q.Get("selector")
	req.Xpath = q.Get("xpath")

	if err := req.Validate(); err != nil {
		return req, "", err
	}

	rt := responseType(q.Get("response_type"))
	if rt == "" {
		rt = responseImagePNGBytes
	}
	switch rt {
	case responseImagePNGBytes, responseAttachment, responseImagePNGBase64, responseJSONPNGBase64, responseJSONPNGBytes:
	default:
		return req, "", types.NewInvalidURLError(req.URL, "unknown response_type "+string(rt))
	}

	return req, rt, nil
}

type base64Response struct {
	Base64 string `json:"base64"`
}

// pngByteArray marshals as a JSON array of unsigned ints (spec.md §6's
// `{"bytes":[<u8>,...]}`) instead of the base64 string encoding.Marshal
// gives a plain []byte.
type pngByteArray []byte

func (b pngByteArray) MarshalJSON() ([]byte, error) {
	values := make([]int, len(b))
	for i, v := range b {
		values[i] = int(v)
	}
	return json.Marshal(values)
}

type bytesResponse struct {
	Bytes pngByteArray `json:"bytes"`
}

func writeScreenshot(w http.ResponseWriter, rt responseType, png types.PngBytes) {
	switch rt {
	case responseImagePNGBytes:
		w.Header().Set("Content-Type", "image/png")
		if _, err := w.Write(png); err != nil {
			log.Error().Err(err).Msg("failed to write png response")
		}

	case responseAttachment:
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Disposition", `attachment; filename="screenshot.png"`)
		if _, err := w.Write(png); err != nil {
			log.Error().Err(err).Msg("failed to write png attachment")
		}

	case responseImagePNGBase64:
		w.Header().Set("Content-Type", "text/plain")
		body := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
		if _, err := w.Write([]byte(body)); err != nil {
			log.Error().Err(err).Msg("failed to write base64 data-uri response")
		}

	case responseJSONPNGBase64:
		writeJSONResponse(w, http.StatusOK, base64Response{Base64: base64.StdEncoding.EncodeToString(png)})

	case responseJSONPNGBytes:
		writeJSONResponse(w, http.StatusOK, bytesResponse{Bytes: pngByteArray(png)})
	}
}
