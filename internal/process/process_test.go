package process

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skarab42/pantin/internal/profile"
	"github.com/skarab42/pantin/internal/types"
)

func TestPickPortReturnsPositivePorts(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		port, err := pickPort()
		if err != nil {
			t.Fatalf("pickPort() error = %v", err)
		}
		if port <= 0 {
			t.Fatalf("expected a positive port, got %d", port)
		}
		seen[port] = true
	}
}

func TestSpawnWithRetryExhaustsOnMissingProgram(t *testing.T) {
	bootstrap, err := profile.Load()
	if err != nil {
		t.Fatalf("profile.Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = SpawnWithRetry(ctx, "/nonexistent/pantin-test-firefox", bootstrap, 200*time.Millisecond, 2)
	if err == nil {
		t.Fatal("expected an error spawning a nonexistent program")
	}

	var spawnErr *types.SpawnFailedError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected *types.SpawnFailedError, got %T: %v", err, err)
	}
}

func TestWaitForPortTimesOutWhenNothingListens(t *testing.T) {
	port, err := pickPort()
	if err != nil {
		t.Fatalf("pickPort() error = %v", err)
	}

	p := &Process{port: port, exited: make(chan struct{})}

	err = p.WaitForPort(context.Background(), 150*time.Millisecond)
	if err == nil {
		t.Fatal("expected PortNotReadyError when nothing listens on the port")
	}

	var portErr *types.PortNotReadyError
	if !errors.As(err, &portErr) {
		t.Fatalf("expected *types.PortNotReadyError, got %T: %v", err, err)
	}
}
