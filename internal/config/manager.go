package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Tunables are the settings safe to change on a running mesh. Everything
// else requires a restart.
type Tunables struct {
	Hybrid          HybridConfig
	KeywordTriggers map[string][]string
}

// TunablesHandler is invoked after a successful reload.
type TunablesHandler func(Tunables)

// Manager watches the configuration file and re-applies the hot-reloadable
// subset when it changes. Invalid edits are logged and skipped; the last
// good tunables stay in effect.
type Manager struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	current  Tunables
	handlers []TunablesHandler
}

// NewManager builds a manager over the loaded config. Call Start to begin
// watching.
func NewManager(path string, cfg *Config, logger *zap.Logger) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		path:    path,
		watcher: watcher,
		logger:  logger.With(zap.String("config", path)),
		stopCh:  make(chan struct{}),
		current: Tunables{
			Hybrid:          cfg.Hybrid,
			KeywordTriggers: cfg.Routing.KeywordTriggers,
		},
	}, nil
}

// Tunables returns the currently effective tunables.
func (m *Manager) Tunables() Tunables {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnReload registers a handler called after every successful reload.
func (m *Manager) OnReload(h TunablesHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start begins watching the config file's directory. Watching the directory
// rather than the file survives the rename-and-replace writes editors and
// configmap mounts produce.
func (m *Manager) Start() error {
	dir := filepath.Dir(m.path)
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go m.loop()
	m.logger.Info("Config hot reload active")
	return nil
}

// Stop ends the watch.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.watcher.Close()
	})
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.reload()
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watch error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		m.logger.Warn("Config reload read failed", zap.Error(err))
		return
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		m.logger.Warn("Config reload parse failed, keeping previous tunables", zap.Error(err))
		return
	}
	if w := cfg.Hybrid.SemanticWeight + cfg.Hybrid.KeywordWeight; w < 0.99 || w > 1.01 {
		m.logger.Warn("Config reload rejected: hybrid weights must sum to 1.0",
			zap.Float64("sum", w))
		return
	}

	next := Tunables{
		Hybrid:          cfg.Hybrid,
		KeywordTriggers: cfg.Routing.KeywordTriggers,
	}

	m.mu.Lock()
	m.current = next
	handlers := make([]TunablesHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(next)
	}
	m.logger.Info("Config tunables reloaded",
		zap.Float64("semantic_weight", next.Hybrid.SemanticWeight),
		zap.Float64("keyword_weight", next.Hybrid.KeywordWeight))
}
