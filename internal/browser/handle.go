// Package browser composes the process supervisor and Marionette client
// into a pool-managed browser handle (§4.D) and the fleet pool that
// creates, leases, recycles, and discards them (§4.E).
package browser

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skarab42/pantin/internal/marionette"
	"github.com/skarab42/pantin/internal/process"
	"github.com/skarab42/pantin/internal/profile"
	"github.com/skarab42/pantin/internal/types"
)

// quitTimeout bounds the best-effort Marionette:Quit issued on drop (§4.D).
const quitTimeout = 2 * time.Second

// spawnAttempts is how many times the process supervisor retries a
// failed spawn / port-not-ready before giving up (§5).
const spawnAttempts = 3

// Handle binds one BrowserProcess to one active Marionette session
// (§3). Exclusively owns both; a single coarse operation mutex
// serializes concurrent use, the same discipline the teacher's
// session.Session uses for one shared page.
type Handle struct {
	proc   *process.Process
	conn   *marionette.Conn
	client *marionette.Client

	sessionID string
	createdAt time.Time
	useCount  atomic.Uint32

	opMu sync.Mutex
}

// Create performs the §4.D construction sequence: pick port + profile +
// spawn (via process.SpawnWithRetry), wait for port, connect, NewSession.
// On any failure, earlier resources are released in reverse order.
func Create(ctx context.Context, cfg types.PoolConfig, bootstrap *profile.Bootstrap) (*Handle, error) {
	proc, err := process.SpawnWithRetry(ctx, cfg.BrowserProgram, bootstrap, cfg.PortReadyTimeout, spawnAttempts)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(proc.Port()))
	conn, err := marionette.Connect(ctx, addr, cfg.HandshakeTimeout)
	if err != nil {
		proc.Kill()
		return nil, err
	}

	client := marionette.NewClient(conn)

	sessionCtx, cancel := context.WithTimeout(ctx, cfg.NewSessionTimeout)
	defer cancel()

	sessionID, err := client.NewSession(sessionCtx)
	if err != nil {
		conn.Close()
		proc.Kill()
		return nil, fmt.Errorf("marionette: new session: %w", err)
	}

	log.Info().Int("pid", proc.Pid()).Str("session_id", sessionID).Msg("browser handle created")

	return &Handle{
		proc:      proc,
		conn:      conn,
		client:    client,
		sessionID: sessionID,
		createdAt: time.Now(),
	}, nil
}

// UseCount returns the number of times the pool has leased this handle.
func (h *Handle) UseCount() uint32 { return h.useCount.Load() }

// MarkUsed increments the use counter and returns the new value. Called
// by the pool when a handle is popped from idle (§4.E step 2).
func (h *Handle) MarkUsed() uint32 { return h.useCount.Add(1) }

// Age reports how long ago this handle was created.
func (h *Handle) Age() time.Duration { return time.Since(h.createdAt) }

// Pid exposes the backing process id, for tests verifying process-count
// invariants (§8 scenarios 5-6).
func (h *Handle) Pid() int { return h.proc.Pid() }

// Screenshot implements the §4.D capture sequence: SetWindowRect, an
// optional scrollbar-hiding CSS patch, Navigate, an optional delay, then
// the capture appropriate to req.Mode.
func (h *Handle) Screenshot(ctx context.Context, req types.ScreenshotRequest) (types.PngBytes, error) {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := h.client.SetWindowRect(ctx, req.Width, req.Height); err != nil {
		return nil, err
	}

	if !req.Scrollbar {
		const hideScrollbarScript = `
			var style = document.createElement('style');
			style.innerHTML = 'html { overflow: hidden !important }';
			document.documentElement.appendChild(style);
		`
		if _, err := h.client.ExecuteScript(ctx, hideScrollbarScript, nil); err != nil {
			return nil, err
		}
	}

	if err := h.client.Navigate(ctx, req.URL); err != nil {
		return nil, err
	}

	if req.DelayMs > 0 {
		select {
		case <-time.After(time.Duration(req.DelayMs) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return h.capture(ctx, req)
}

func (h *Handle) capture(ctx context.Context, req types.ScreenshotRequest) (types.PngBytes, error) {
	switch req.Mode {
	case types.ModeFull:
		return h.client.TakeScreenshot(ctx, marionette.TakeScreenshotParams{Full: true})

	case types.ModeViewport:
		return h.client.TakeScreenshot(ctx, marionette.TakeScreenshotParams{})

	case types.ModeSelector:
		ref, err := h.client.FindElement(ctx, "css selector", req.Selector)
		if err != nil {
			return nil, err
		}
		return h.client.TakeScreenshot(ctx, marionette.TakeScreenshotParams{ElementRef: ref})

	case types.ModeXpath:
		ref, err := h.client.FindElement(ctx, "xpath", req.Xpath)
		if err != nil {
			return nil, err
		}
		return h.client.TakeScreenshot(ctx, marionette.TakeScreenshotParams{ElementRef: ref})

	default:
		return nil, types.NewInvalidURLError(req.URL, "unknown mode "+string(req.Mode))
	}
}

// Close runs the §4.D drop order: best-effort Quit (bounded timeout),
// then connection close, then process kill (which removes the profile
// directory).
func (h *Handle) Close() {
	if h.client == nil {
		// A handle with no backing process/connection, used only as a
		// fake in pool algorithm tests; nothing to drop.
		return
	}

	quitCtx, cancel := context.WithTimeout(context.Background(), quitTimeout)
	defer cancel()

	if err := h.client.Quit(quitCtx); err != nil {
		log.Debug().Int("pid", h.proc.Pid()).Err(err).Msg("marionette quit failed, continuing drop sequence")
	}

	h.conn.Close()
	h.proc.Kill()

	log.Info().Int("pid", h.proc.Pid()).Str("session_id", h.sessionID).Msg("browser handle closed")
}
