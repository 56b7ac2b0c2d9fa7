// Package process supervises one headless Firefox subprocess: spawning it
// against a freshly bootstrapped profile directory, waiting for its
// Marionette port to come up, and reaping it on drop (§4.A).
package process

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skarab42/pantin/internal/profile"
	"github.com/skarab42/pantin/internal/types"
)

// portReadyPollInterval is the backoff between TCP connect attempts in
// WaitForPort, per §4.A.
const portReadyPollInterval = 50 * time.Millisecond

// killGrace is how long Kill waits after asking the process to terminate
// gracefully before force-killing it, per §4.A.
const killGrace = 5 * time.Second

// Process owns one spawned browser subprocess and its temp profile
// directory. Invariant (§3): a process is live iff its profile directory
// exists; Kill always removes the directory, even on a failed terminate.
type Process struct {
	cmd        *exec.Cmd
	pid        int
	port       int
	profileDir string

	mu      sync.Mutex
	exited  chan struct{}
	waitErr error
	killed  bool
}

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.pid }

// Port returns the TCP port passed to --marionette-port.
func (p *Process) Port() int { return p.port }

// ProfileDir returns the path to this process's temp profile directory.
func (p *Process) ProfileDir() string { return p.profileDir }

// pickPort binds an ephemeral TCP port, reads it back, and releases it.
// The release-before-use window is the inherent race §5 calls out;
// callers retry spawn on bind failure.
func pickPort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("process: pick port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// spawn starts program once against a fresh profile directory bound to a
// freshly picked ephemeral port. A single attempt; callers wanting the
// §5 bounded-retry behavior should use SpawnWithRetry.
func spawn(ctx context.Context, program string, bootstrap *profile.Bootstrap) (*Process, error) {
	port, err := pickPort()
	if err != nil {
		return nil, types.NewSpawnFailedError(program, err)
	}

	profileDir, err := os.MkdirTemp("", "pantin-profile-*")
	if err != nil {
		return nil, types.NewSpawnFailedError(program, fmt.Errorf("create profile dir: %w", err))
	}
	if err := os.Chmod(profileDir, 0o700); err != nil {
		os.RemoveAll(profileDir)
		return nil, types.NewSpawnFailedError(program, fmt.Errorf("chmod profile dir: %w", err))
	}

	if err := bootstrap.WriteTo(profileDir); err != nil {
		os.RemoveAll(profileDir)
		return nil, types.NewSpawnFailedError(program, fmt.Errorf("write user.js: %w", err))
	}

	args := []string{
		"--marionette",
		"--headless",
		"--profile", profileDir,
		"-no-remote",
		"--marionette-port", strconv.Itoa(port),
	}

	cmd := exec.CommandContext(ctx, program, args...)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(profileDir)
		return nil, types.NewSpawnFailedError(program, err)
	}

	p := &Process{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		port:       port,
		profileDir: profileDir,
		exited:     make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.exited)
		if err != nil && !p.wasKilled() {
			log.Debug().Int("pid", p.pid).Err(err).Msg("browser process exited unexpectedly")
		}
	}()

	log.Info().Int("pid", p.pid).Int("port", port).Str("profile_dir", profileDir).Msg("spawned browser process")
	return p, nil
}

func (p *Process) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// SpawnWithRetry spawns program up to attempts times, retrying on a
// failed spawn or a port that never becomes ready (the bind-then-pass
// race §5 mandates tolerating). The last error is returned if every
// attempt fails.
func SpawnWithRetry(ctx context.Context, program string, bootstrap *profile.Bootstrap, portReadyTimeout time.Duration, attempts int) (*Process, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		p, err := spawn(ctx, program, bootstrap)
		if err != nil {
			lastErr = err
			continue
		}

		if err := p.WaitForPort(ctx, portReadyTimeout); err != nil {
			log.Warn().Int("attempt", i+1).Int("port", p.port).Msg("port did not become ready, retrying spawn")
			p.Kill()
			lastErr = err
			continue
		}

		return p, nil
	}

	return nil, lastErr
}

// WaitForPort polls TCP connectivity to 127.0.0.1:port until it succeeds
// or timeout elapses, per §4.A.
func (p *Process) WaitForPort(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port))

	for {
		conn, err := net.DialTimeout("tcp", addr, portReadyPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return types.NewPortNotReadyError(p.port)
		}

		select {
		case <-ctx.Done():
			return types.NewPortNotReadyError(p.port)
		case <-p.exited:
			return types.NewPortNotReadyError(p.port)
		case <-time.After(portReadyPollInterval):
		}
	}
}

// Kill terminates the process: graceful signal, bounded grace period,
// then force-kill. Always removes the profile directory. Errors are
// logged, never propagated (§4.A: "kill errors are logged, not
// propagated").
func (p *Process) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			// Best-effort; some platforms don't support Interrupt on
			// exec'd processes. Fall through to the grace-period wait,
			// which will force-kill if the process is still alive.
			log.Debug().Int("pid", p.pid).Err(err).Msg("graceful terminate signal failed")
		}
	}

	select {
	case <-p.exited:
	case <-time.After(killGrace):
		if err := p.cmd.Process.Kill(); err != nil {
			log.Warn().Int("pid", p.pid).Err(err).Msg("force-kill failed")
		}
		<-p.exited
	}

	if err := os.RemoveAll(p.profileDir); err != nil {
		log.Warn().Str("profile_dir", p.profileDir).Err(err).Msg("failed to remove profile directory")
	}
}
