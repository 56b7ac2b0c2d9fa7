package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skarab42/pantin/internal/profile"
	"github.com/skarab42/pantin/internal/types"
)

// skipCI skips tests that require a real Firefox binary in CI
// environments, matching the short-mode gate used elsewhere.
func skipCI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real-browser test in short mode")
	}
}

// testConfig returns a PoolConfig suitable for unit tests: a small pool
// and short timeouts.
func testConfig(maxSize, maxRecycle uint32) types.PoolConfig {
	cfg := types.DefaultPoolConfig()
	cfg.MaxSize = maxSize
	cfg.MaxRecycleCount = maxRecycle
	cfg.MaxAgeSecs = 3600
	return cfg
}

func newFakeHandle() *Handle {
	return &Handle{createdAt: time.Now()}
}

// newFakePool builds a Pool whose createFn hands out fake handles (no
// real process/connection) and counts how many were ever created, for
// scenario-5/6-style process-count assertions without a real browser.
func newFakePool(cfg types.PoolConfig, created *atomic.Int64) *Pool {
	p := &Pool{cfg: cfg}
	p.createFn = func(ctx context.Context, cfg types.PoolConfig, bootstrap *profile.Bootstrap) (*Handle, error) {
		created.Add(1)
		return newFakeHandle(), nil
	}
	return p
}

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	var created atomic.Int64
	p := newFakePool(testConfig(2, 10), &created)

	ctx := context.Background()
	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if created.Load() != 1 {
		t.Fatalf("expected exactly one handle created, got %d", created.Load())
	}
	if p.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", p.Size())
	}

	p.Release(h, Healthy)
	if p.Idle() != 1 {
		t.Fatalf("Idle() = %d, want 1 after healthy release", p.Idle())
	}

	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if h2 != h {
		t.Fatal("expected the idle handle to be reused rather than a new one created")
	}
	if created.Load() != 1 {
		t.Fatalf("expected no new handle created on reuse, got %d creates", created.Load())
	}
}

func TestPoolMaxSizeEnforced(t *testing.T) {
	var created atomic.Int64
	p := newFakePool(testConfig(1, 10), &created)

	ctx := context.Background()
	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(acquireCtx); err == nil {
		t.Fatal("expected AcquireTimeout when pool is at max_size and nothing is released")
	}

	p.Release(h, Healthy)
	if created.Load() != 1 {
		t.Fatalf("expected exactly one process across the scenario, got %d", created.Load())
	}
}

func TestPoolConcurrentAcquireServesOneProcessUnderMaxSizeOne(t *testing.T) {
	var created atomic.Int64
	p := newFakePool(testConfig(1, 10), &created)

	ctx := context.Background()
	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	var wg sync.WaitGroup
	var h2 *Handle
	var acquireErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		h2, acquireErr = p.Acquire(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	p.Release(h1, Healthy)
	wg.Wait()

	if acquireErr != nil {
		t.Fatalf("second Acquire() error = %v", acquireErr)
	}
	if h2 != h1 {
		t.Fatal("expected the single process's handle to be handed to the waiter")
	}
	if created.Load() != 1 {
		t.Fatalf("expected exactly one process for two concurrent requests at max_size=1, got %d", created.Load())
	}
	p.Release(h2, Healthy)
}

func TestPoolRecycleCountDiscardsAndRespawns(t *testing.T) {
	var created atomic.Int64
	p := newFakePool(testConfig(1, 2), &created)

	ctx := context.Background()

	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() 1 error = %v", err)
	}
	p.Release(h1, Healthy)

	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() 2 error = %v", err)
	}
	if h2 != h1 {
		t.Fatal("expected the second acquire to reuse the same handle")
	}
	p.Release(h2, Healthy)

	// h2's use_count is now 2 == max_recycle_count; the third acquire
	// must discard it and create a fresh one.
	h3, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() 3 error = %v", err)
	}
	if h3 == h2 {
		t.Fatal("expected the over-recycled handle to be discarded, not reused")
	}
	if created.Load() != 2 {
		t.Fatalf("expected exactly 2 processes spawned across the recycle scenario, got %d", created.Load())
	}
	p.Release(h3, Healthy)
}

func TestPoolBrokenReleaseFreesSlotForNewHandle(t *testing.T) {
	var created atomic.Int64
	p := newFakePool(testConfig(1, 10), &created)

	ctx := context.Background()
	h1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	p.Release(h1, Broken)

	h2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after broken release error = %v", err)
	}
	if h2 == h1 {
		t.Fatal("expected a fresh handle after a broken release")
	}
	if created.Load() != 2 {
		t.Fatalf("expected 2 processes spawned (original + replacement), got %d", created.Load())
	}
	p.Release(h2, Healthy)
}

func TestPoolStatsReflectActivity(t *testing.T) {
	var created atomic.Int64
	p := newFakePool(testConfig(2, 10), &created)

	ctx := context.Background()
	h, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(h, Healthy)

	stats := p.Stats()
	if stats.Acquired != 1 {
		t.Errorf("Acquired = %d, want 1", stats.Acquired)
	}
	if stats.Released != 1 {
		t.Errorf("Released = %d, want 1", stats.Released)
	}
	if stats.LiveCount != 1 {
		t.Errorf("LiveCount = %d, want 1", stats.LiveCount)
	}
	if stats.IdleCount != 1 {
		t.Errorf("IdleCount = %d, want 1", stats.IdleCount)
	}
}
