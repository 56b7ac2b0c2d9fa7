package profile

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const debounceDelay = 100 * time.Millisecond

// Manager hot-reloads an operator overrides file and hands out the
// current Bootstrap to callers. Reads are lock-free via atomic.Value.
// Grounded on the embedded-defaults-plus-external-file-watcher shape used
// elsewhere in this codebase for hot-reloadable config.
type Manager struct {
	base    *Bootstrap
	current atomic.Value // *Bootstrap

	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	reloadCount int64
	lastErr     error
}

// NewManager builds a Manager from the embedded defaults. If path is
// non-empty it is loaded immediately; if hotReload is also true, file
// changes trigger a debounced reload.
func NewManager(path string, hotReload bool) (*Manager, error) {
	base, err := Load()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		base:   base,
		path:   path,
		stopCh: make(chan struct{}),
	}
	m.current.Store(base)

	if path == "" {
		return m, nil
	}

	if err := m.reload(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to load profile overrides, using embedded defaults")
	} else {
		log.Info().Str("path", path).Msg("loaded profile overrides file")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to watch profile overrides file, hot-reload disabled")
		}
	}

	return m, nil
}

// Get returns the current Bootstrap. Safe for concurrent use.
func (m *Manager) Get() *Bootstrap {
	return m.current.Load().(*Bootstrap)
}

// Close stops the file watcher, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		m.lastErr = err
		return fmt.Errorf("profile: read overrides %s: %w", m.path, err)
	}

	var parsed overridesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		m.lastErr = err
		return fmt.Errorf("profile: parse overrides %s: %w", m.path, err)
	}

	m.current.Store(m.base.WithOverrides(parsed.Overrides))
	m.reloadCount++
	m.lastErr = nil

	log.Debug().Int64("reload_count", m.reloadCount).Int("overrides", len(parsed.Overrides)).Msg("profile overrides reloaded")
	return nil
}

func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile: new watcher: %w", err)
	}
	if err := watcher.Add(m.path); err != nil {
		watcher.Close()
		return fmt.Errorf("profile: watch %s: %w", m.path, err)
	}

	m.watcher = watcher
	m.wg.Add(1)
	go m.watchFile()
	return nil
}

func (m *Manager) watchFile() {
	defer m.wg.Done()

	var debounceTimer *time.Timer
	var debouncing bool

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debouncing {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(debounceDelay)
			} else {
				debouncing = true
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.reload(); err != nil {
						log.Warn().Err(err).Str("path", m.path).Msg("profile overrides hot-reload failed, keeping previous set")
					}
					debouncing = false
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("profile overrides watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
