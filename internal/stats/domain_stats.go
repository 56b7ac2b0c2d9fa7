// Package stats provides per-host request statistics for the fleet debug
// endpoint.
package stats

import (
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// maxHosts is the maximum number of hosts to track before LRU eviction.
const maxHosts = 10000

// evictionBatchSize is the number of hosts to evict at once to reduce eviction overhead.
const evictionBatchSize = 100

// staleAfter is how long a host goes untouched before the background
// cleanup routine drops it.
const staleAfter = 30 * time.Minute

// HostStats tracks screenshot request statistics for a single target host.
type HostStats struct {
	mu sync.RWMutex

	RequestCount int64 `json:"requestCount"`
	SuccessCount int64 `json:"successCount"`
	ErrorCount   int64 `json:"errorCount"`

	totalLatencyMs int64

	LastRequestTime time.Time `json:"lastRequestTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
	lastAccess      time.Time
}

// HostStatsJSON is the JSON-serializable view of HostStats for /fleet.
type HostStatsJSON struct {
	RequestCount    int64     `json:"requestCount"`
	SuccessCount    int64     `json:"successCount"`
	ErrorCount      int64     `json:"errorCount"`
	AvgLatencyMs    int64     `json:"avgLatencyMs"`
	LastRequestTime time.Time `json:"lastRequestTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
}

// ToJSON converts HostStats to its JSON-serializable form.
func (s *HostStats) ToJSON() HostStatsJSON {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avgLatency int64
	if s.RequestCount > 0 {
		avgLatency = s.totalLatencyMs / s.RequestCount
	}

	return HostStatsJSON{
		RequestCount:    s.RequestCount,
		SuccessCount:    s.SuccessCount,
		ErrorCount:      s.ErrorCount,
		AvgLatencyMs:    avgLatency,
		LastRequestTime: s.LastRequestTime,
		LastSuccessTime: s.LastSuccessTime,
	}
}

// ErrorRate returns the error rate (0.0-1.0) for this host.
func (s *HostStats) ErrorRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.RequestCount == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.RequestCount)
}

// Manager tracks per-host statistics for every screenshotted target.
type Manager struct {
	mu    sync.RWMutex
	hosts map[string]*HostStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a host stats manager and starts its background
// cleanup routine.
func NewManager() *Manager {
	m := &Manager{
		hosts:  make(map[string]*HostStats),
		stopCh: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.cleanupRoutine()

	return m
}

func (m *Manager) cleanupRoutine() {
	defer m.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupStale()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) cleanupStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var removed int

	for host, stats := range m.hosts {
		stats.mu.RLock()
		lastAccess := stats.lastAccess
		stats.mu.RUnlock()

		if now.Sub(lastAccess) > staleAfter {
			delete(m.hosts, host)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(m.hosts)).Msg("cleaned up stale host stats")
	}
}

// Close stops the background cleanup routine.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

// ExtractHost extracts the hostname from a target URL.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

func (m *Manager) getOrCreate(host string) *HostStats {
	m.mu.Lock()

	stats, exists := m.hosts[host]
	if !exists {
		if len(m.hosts) >= maxHosts {
			m.evictOldestBatchLocked(evictionBatchSize)
		}
		stats = &HostStats{lastAccess: time.Now()}
		m.hosts[host] = stats
		m.mu.Unlock()
		return stats
	}

	m.mu.Unlock()

	stats.mu.Lock()
	stats.lastAccess = time.Now()
	stats.mu.Unlock()

	return stats
}

// evictOldestBatchLocked removes the N least recently accessed hosts.
// Caller must hold m.mu.
func (m *Manager) evictOldestBatchLocked(count int) {
	if count <= 0 || len(m.hosts) == 0 {
		return
	}

	if len(m.hosts) <= count {
		for host := range m.hosts {
			delete(m.hosts, host)
		}
		return
	}

	type hostTime struct {
		host       string
		lastAccess time.Time
	}
	candidates := make([]hostTime, 0, len(m.hosts))
	for host, stats := range m.hosts {
		stats.mu.RLock()
		lastAccess := stats.lastAccess
		stats.mu.RUnlock()
		candidates = append(candidates, hostTime{host, lastAccess})
	}

	for i := 0; i < count && i < len(candidates); i++ {
		minIdx := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].lastAccess.Before(candidates[minIdx].lastAccess) {
				minIdx = j
			}
		}
		if minIdx != i {
			candidates[i], candidates[minIdx] = candidates[minIdx], candidates[i]
		}
		delete(m.hosts, candidates[i].host)
	}
}

// Get returns the stats for a host (nil if not tracked).
func (m *Manager) Get(host string) *HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hosts[host]
}

// maxCounterValue caps counters well below int64 overflow.
const maxCounterValue int64 = (1 << 62)

// RecordRequest updates stats after a screenshot request against host
// completes.
func (m *Manager) RecordRequest(host string, latencyMs int64, success bool) {
	if host == "" {
		return
	}

	stats := m.getOrCreate(host)

	stats.mu.Lock()
	defer stats.mu.Unlock()

	if stats.RequestCount >= maxCounterValue {
		log.Warn().Str("host", host).Msg("host stats counter overflow protection triggered, resetting")
		stats.RequestCount = 0
		stats.SuccessCount = 0
		stats.ErrorCount = 0
		stats.totalLatencyMs = 0
	}

	stats.RequestCount++
	if stats.totalLatencyMs < maxCounterValue-latencyMs {
		stats.totalLatencyMs += latencyMs
	}
	stats.LastRequestTime = time.Now()

	if success {
		stats.SuccessCount++
		stats.LastSuccessTime = time.Now()
	} else {
		stats.ErrorCount++
	}
}

// ErrorRate returns the error rate for a host.
func (m *Manager) ErrorRate(host string) float64 {
	stats := m.Get(host)
	if stats == nil {
		return 0
	}
	return stats.ErrorRate()
}

// AllStats returns a snapshot of every tracked host's statistics, for the
// GET /fleet debug endpoint.
func (m *Manager) AllStats() map[string]HostStatsJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]HostStatsJSON, len(m.hosts))
	for host, stats := range m.hosts {
		result[host] = stats.ToJSON()
	}
	return result
}

// HostCount returns the number of tracked hosts.
func (m *Manager) HostCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hosts)
}
