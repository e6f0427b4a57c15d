// Package health reports whether the mesh and its upstreams can serve
// queries.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status of one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one checker run.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Critical  bool          `json:"critical"`
}

// Checker probes one dependency. Critical checkers gate readiness;
// non-critical ones only degrade the report.
type Checker interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) CheckResult
}

// Report is the aggregate health snapshot.
type Report struct {
	Status  Status                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks"`
	Ready   bool                   `json:"ready"`
	Updated time.Time              `json:"updated"`
}

// Manager runs registered checkers on an interval and caches the latest
// report so the HTTP endpoints never block on a probe.
type Manager struct {
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	checkers []Checker
	latest   Report
}

// NewManager builds a manager probing every interval. Zero values get
// sensible defaults (15s interval, 5s per-check timeout).
func NewManager(interval, timeout time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
		latest:   Report{Status: StatusDegraded, Checks: map[string]CheckResult{}},
	}
}

// Register adds a checker. Call before Start.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Start probes once immediately, then on the interval until Stop.
func (m *Manager) Start() {
	m.runChecks()
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runChecks()
			}
		}
	}()
}

// Stop ends the probe loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Report returns the latest cached snapshot.
func (m *Manager) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Ready reports whether every critical check passes.
func (m *Manager) Ready() bool {
	return m.Report().Ready
}

func (m *Manager) runChecks() {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	checks := make(map[string]CheckResult, len(checkers))
	var wg sync.WaitGroup
	var resMu sync.Mutex
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			res := c.Check(ctx)
			resMu.Lock()
			checks[c.Name()] = res
			resMu.Unlock()
		}(c)
	}
	wg.Wait()

	overall := StatusHealthy
	ready := true
	for _, res := range checks {
		if res.Status == StatusHealthy {
			continue
		}
		if res.Critical {
			overall = StatusUnhealthy
			ready = false
		} else if overall == StatusHealthy {
			overall = StatusDegraded
		}
		m.logger.Warn("Health check failing",
			zap.String("component", res.Component),
			zap.String("status", string(res.Status)),
			zap.String("message", res.Message))
	}

	m.mu.Lock()
	m.latest = Report{Status: overall, Checks: checks, Ready: ready, Updated: time.Now().UTC()}
	m.mu.Unlock()
}
