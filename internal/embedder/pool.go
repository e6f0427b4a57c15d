package embedder

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loader constructs the embedder for a model name. Injected so tests can
// supply deterministic fakes.
type Loader func(model string) (Embedder, error)

// Pool shares one embedder per model across all agents in the process, so a
// mesh of N agents loads each model once instead of N times. Construction is
// guarded by double-checked locking: concurrent first requests for the same
// model block until a single load completes.
type Pool struct {
	mu     sync.RWMutex
	loaded map[string]Embedder
	load   Loader
	logger *zap.Logger
}

// NewPool builds a pool using the given loader.
func NewPool(load Loader, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		loaded: make(map[string]Embedder),
		load:   load,
		logger: logger,
	}
}

// NewHTTPPool builds a pool whose loader creates HTTP clients against the
// configured embedding service.
func NewHTTPPool(cfg Config, logger *zap.Logger) *Pool {
	return NewPool(func(model string) (Embedder, error) {
		c := cfg
		c.Model = model
		return NewClient(c, logger), nil
	}, logger)
}

// Get returns the shared embedder for a model, loading it on first use.
func (p *Pool) Get(_ context.Context, model string) (Embedder, error) {
	p.mu.RLock()
	if e, ok := p.loaded[model]; ok {
		p.mu.RUnlock()
		return e, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	// Re-check: another goroutine may have loaded while we waited.
	if e, ok := p.loaded[model]; ok {
		return e, nil
	}
	e, err := p.load(model)
	if err != nil {
		return nil, err
	}
	p.loaded[model] = e
	p.logger.Info("Embedder loaded", zap.String("model", model))
	return e, nil
}

// Models lists the models currently loaded.
func (p *Pool) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.loaded))
	for m := range p.loaded {
		out = append(out, m)
	}
	return out
}
