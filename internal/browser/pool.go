package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/skarab42/pantin/internal/profile"
	"github.com/skarab42/pantin/internal/types"
)

// closeConcurrency bounds how many handles Shutdown closes in parallel,
// the same shape as the teacher's errgroup-limited browser close fan-out.
const closeConcurrency = 4

// shutdownDrainBound is how long Shutdown waits for outstanding leases to
// be returned before proceeding to drop idle handles regardless (§4.E:
// "wait for leases to return (bounded)").
const shutdownDrainBound = 10 * time.Second

// Outcome is what the caller reports when returning a lease (§4.E).
type Outcome int

const (
	Healthy Outcome = iota
	Broken
)

// idleEntry is one (handle, returned_at) pair in the idle queue, oldest
// first (§4.E state).
type idleEntry struct {
	handle     *Handle
	returnedAt time.Time
}

// poolStats are the atomic counters backing types.PoolStatsSnapshot.
type poolStats struct {
	acquired  atomic.Int64
	released  atomic.Int64
	recycled  atomic.Int64
	discarded atomic.Int64
	errors    atomic.Int64
}

// Pool is an async object pool of browser handles parameterized by
// PoolConfig (§4.E). All state changes occur under mu; long operations
// (create, drop) happen outside the lock.
type Pool struct {
	mu        sync.Mutex
	idle      []*idleEntry
	liveCount int
	waitQueue []chan *Handle
	closed    bool

	cfg       types.PoolConfig
	bootstrap *profile.Bootstrap
	stats     poolStats

	// createFn builds a new handle; it is Create by default, swapped out
	// in tests that exercise pool algorithm invariants (§8 scenarios 5-6)
	// without a real Firefox binary.
	createFn func(ctx context.Context, cfg types.PoolConfig, bootstrap *profile.Bootstrap) (*Handle, error)

	closeWg sync.WaitGroup
}

// NewPool constructs an empty pool; handles are created lazily on first
// acquire rather than pre-warmed, since each is a full browser process.
func NewPool(cfg types.PoolConfig, bootstrap *profile.Bootstrap) *Pool {
	log.Info().
		Uint32("max_size", cfg.MaxSize).
		Uint32("max_age_secs", cfg.MaxAgeSecs).
		Uint32("max_recycle_count", cfg.MaxRecycleCount).
		Str("browser_program", cfg.BrowserProgram).
		Msg("initializing browser fleet pool")

	return &Pool{
		cfg:       cfg,
		bootstrap: bootstrap,
		createFn:  Create,
	}
}

// Acquire implements §4.E's algorithm: evict aged idle entries, pop a
// non-expired one if available, else create a new handle under
// max_size, else queue FIFO until a lease is returned or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	for {
		h, waitCh, err := p.acquireStep(ctx)
		if err != nil {
			p.stats.errors.Add(1)
			return nil, err
		}
		if h != nil {
			p.stats.acquired.Add(1)
			return h, nil
		}

		select {
		case handoff := <-waitCh:
			if handoff != nil {
				if handoff.MarkUsed() > p.cfg.MaxRecycleCount {
					p.mu.Lock()
					p.liveCount--
					p.mu.Unlock()
					p.stats.discarded.Add(1)
					p.asyncDiscard(handoff)
					continue
				}
				p.stats.recycled.Add(1)
				p.stats.acquired.Add(1)
				return handoff, nil
			}
			// Broken-release or shutdown wake: retry from the top, which
			// re-checks p.closed and any newly freed capacity.
			continue

		case <-ctx.Done():
			p.removeWaiter(waitCh)
			return nil, types.NewAcquireTimeoutError(0)
		}
	}
}

// acquireStep runs one pass of the algorithm under the lock, returning
// either a ready handle, a channel to wait on, or a fatal error.
func (p *Pool) acquireStep(ctx context.Context) (*Handle, chan *Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, types.ErrPoolClosed
	}

	p.evictAgedLocked()

	for len(p.idle) > 0 {
		entry := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()

		use := entry.handle.MarkUsed()
		if use > p.cfg.MaxRecycleCount {
			p.mu.Lock()
			p.liveCount--
			p.stats.discarded.Add(1)
			p.mu.Unlock()
			p.asyncDiscard(entry.handle)
			p.mu.Lock()
			p.evictAgedLocked()
			continue
		}

		if use > 1 {
			p.stats.recycled.Add(1)
		}
		return entry.handle, nil, nil
	}

	if p.liveCount < int(p.cfg.MaxSize) {
		p.liveCount++
		p.mu.Unlock()

		h, err := p.createFn(ctx, p.cfg, p.bootstrap)
		if err != nil {
			p.mu.Lock()
			p.liveCount--
			p.mu.Unlock()
			return nil, nil, err
		}
		h.MarkUsed()
		return h, nil, nil
	}

	waitCh := make(chan *Handle, 1)
	p.waitQueue = append(p.waitQueue, waitCh)
	p.mu.Unlock()
	return nil, waitCh, nil
}

// evictAgedLocked drops idle entries from the front older than
// max_age_secs, asynchronously discarding each (§4.E step 1). Caller
// must hold mu; it is released and re-acquired around the async kick-off.
func (p *Pool) evictAgedLocked() {
	maxAge := time.Duration(p.cfg.MaxAgeSecs) * time.Second
	now := time.Now()

	for len(p.idle) > 0 && now.Sub(p.idle[0].returnedAt) > maxAge {
		stale := p.idle[0]
		p.idle = p.idle[1:]
		p.liveCount--
		p.stats.discarded.Add(1)

		p.mu.Unlock()
		p.asyncDiscard(stale.handle)
		p.mu.Lock()
	}
}

// asyncDiscard closes a retired handle off the hot path, tracked so
// Shutdown can wait for it.
func (p *Pool) asyncDiscard(h *Handle) {
	p.closeWg.Add(1)
	go func() {
		defer p.closeWg.Done()
		h.Close()
	}()
}

func (p *Pool) removeWaiter(ch chan *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waitQueue {
		if w == ch {
			p.waitQueue = append(p.waitQueue[:i], p.waitQueue[i+1:]...)
			return
		}
	}
}

// Release returns a lease per outcome (§4.E). Healthy pushes to the back
// of idle and hands off directly to the longest-waiting acquirer, if
// any, preserving FIFO order without making it re-race for the slot.
// Broken discards the handle, frees a live_count slot, and wakes one
// waiter to retry creation.
func (p *Pool) Release(h *Handle, outcome Outcome) {
	p.stats.released.Add(1)

	if outcome == Broken {
		p.mu.Lock()
		p.liveCount--
		var waiter chan *Handle
		if len(p.waitQueue) > 0 {
			waiter = p.waitQueue[0]
			p.waitQueue = p.waitQueue[1:]
		}
		p.mu.Unlock()

		if waiter != nil {
			waiter <- nil
		}
		p.asyncDiscard(h)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.liveCount--
		p.mu.Unlock()
		p.asyncDiscard(h)
		return
	}
	if len(p.waitQueue) > 0 {
		waiter := p.waitQueue[0]
		p.waitQueue = p.waitQueue[1:]
		p.mu.Unlock()
		waiter <- h
		return
	}
	p.idle = append(p.idle, &idleEntry{handle: h, returnedAt: time.Now()})
	p.mu.Unlock()
}

// Size returns the current live_count (idle + leased).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveCount
}

// Idle returns the current idle count.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Stats returns a point-in-time snapshot for the supplemented /fleet
// debug endpoint.
func (p *Pool) Stats() types.PoolStatsSnapshot {
	p.mu.Lock()
	live := int64(p.liveCount)
	idle := int64(len(p.idle))
	p.mu.Unlock()

	return types.PoolStatsSnapshot{
		LiveCount:  live,
		IdleCount:  idle,
		LeaseCount: live - idle,
		Acquired:   p.stats.acquired.Load(),
		Released:   p.stats.released.Load(),
		Recycled:   p.stats.recycled.Load(),
		Discarded:  p.stats.discarded.Load(),
		Errors:     p.stats.errors.Load(),
	}
}

// Shutdown drains the pool: refuses new acquires, wakes queued
// acquirers so they observe closure, waits (bounded) for leased handles
// to be returned, then drops all idle handles in parallel.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waitQueue
	p.waitQueue = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}

	deadline := time.Now().Add(shutdownDrainBound)
	for {
		p.mu.Lock()
		outstanding := p.liveCount - len(p.idle)
		p.mu.Unlock()
		if outstanding <= 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			outstanding = 0
		case <-time.After(50 * time.Millisecond):
		}
		if outstanding == 0 {
			break
		}
	}

	p.mu.Lock()
	toClose := p.idle
	p.idle = nil
	p.mu.Unlock()

	group, _ := errgroup.WithContext(context.Background())
	group.SetLimit(closeConcurrency)
	for _, entry := range toClose {
		entry := entry
		group.Go(func() error {
			entry.handle.Close()
			return nil
		})
	}
	group.Wait()

	p.closeWg.Wait()
	log.Info().Msg("browser fleet pool shut down")
}
