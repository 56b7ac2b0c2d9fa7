package types

import "time"

// ScreenshotMode selects the capture target of a screenshot request, per
// §3: Full | Viewport | Selector(string) | Xpath(string).
type ScreenshotMode string

const (
	ModeFull     ScreenshotMode = "full"
	ModeViewport ScreenshotMode = "viewport"
	ModeSelector ScreenshotMode = "selector"
	ModeXpath    ScreenshotMode = "xpath"
)

// ScreenshotRequest is the parsed, validated input to Handle.Screenshot.
type ScreenshotRequest struct {
	URL       string
	DelayMs   uint32
	Width     uint32
	Height    uint32
	Scrollbar bool
	Mode      ScreenshotMode
	Selector  string
	Xpath     string
}

// DefaultScreenshotRequest returns a request with §3's defaults applied;
// callers overwrite fields from parsed query parameters.
func DefaultScreenshotRequest() ScreenshotRequest {
	return ScreenshotRequest{
		DelayMs: 0,
		Width:   800,
		Height:  600,
		Mode:    ModeViewport,
	}
}

// Validate enforces the §3 mode invariants (a known mode, and a non-empty
// selector/xpath for those modes). It does not inspect the URL: the
// scheme allowlist and SSRF/IDN hardening live in internal/security and
// run separately over req.URL.
func (r ScreenshotRequest) Validate() error {
	switch r.Mode {
	case ModeFull, ModeViewport:
		// no extra field required
	case ModeSelector:
		if r.Selector == "" {
			return NewInvalidURLError(r.URL, "mode=selector requires a non-empty selector")
		}
	case ModeXpath:
		if r.Xpath == "" {
			return NewInvalidURLError(r.URL, "mode=xpath requires a non-empty xpath")
		}
	default:
		return NewInvalidURLError(r.URL, "unknown mode "+string(r.Mode))
	}
	return nil
}

// PoolConfig parameterizes the fleet pool, per §4.E and §6's CLI/env table.
type PoolConfig struct {
	MaxSize         uint32
	MaxAgeSecs      uint32
	MaxRecycleCount uint32
	BrowserProgram  string

	// Supplemented timeouts (SPEC_FULL §4), not in spec.md's bare struct
	// literal but referenced by its prose (§5: "NewSession has a 60s
	// internal timeout; port-ready has 30s").
	HandshakeTimeout  time.Duration
	NewSessionTimeout time.Duration
	PortReadyTimeout  time.Duration
}

// DefaultPoolConfig returns §4.E's defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:           5,
		MaxAgeSecs:        60,
		MaxRecycleCount:   10,
		BrowserProgram:    "firefox",
		HandshakeTimeout:  10 * time.Second,
		NewSessionTimeout: 60 * time.Second,
		PortReadyTimeout:  30 * time.Second,
	}
}

// pngMagic is the eight-byte PNG signature every PngBytes value must open
// with: 0x89 P N G \r \n \x1a \n.
var pngMagic = [8]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// PngBytes is an owned byte sequence known to be a valid PNG.
type PngBytes []byte

// IsValidPNG reports whether b begins with the PNG magic bytes.
func IsValidPNG(b []byte) bool {
	if len(b) < len(pngMagic) {
		return false
	}
	for i, want := range pngMagic {
		if b[i] != want {
			return false
		}
	}
	return true
}

// PoolStatsSnapshot is a point-in-time view of fleet pool counters, used
// by the supplemented GET /fleet debug endpoint.
type PoolStatsSnapshot struct {
	LiveCount  int64 `json:"live_count"`
	IdleCount  int64 `json:"idle_count"`
	LeaseCount int64 `json:"leased_count"`
	Acquired   int64 `json:"acquired"`
	Released   int64 `json:"released"`
	Recycled   int64 `json:"recycled"`
	Discarded  int64 `json:"discarded"`
	Errors     int64 `json:"errors"`
}
