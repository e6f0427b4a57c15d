package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/grantmesh/grantmesh/internal/embedder"
)

// Memory is an in-process Collection with brute-force similarity scan.
// It backs local mode and tests, where running a vector database is not
// worth the setup. Distances are cosine distances (1 - similarity).
type Memory struct {
	name string

	mu     sync.RWMutex
	points map[string]Point
	order  []string // insertion order, for stable iteration
}

// NewMemory builds an empty in-memory collection.
func NewMemory(name string) *Memory {
	return &Memory{name: name, points: make(map[string]Point)}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if _, exists := m.points[p.ID]; !exists {
			m.order = append(m.order, p.ID)
		}
		m.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Query(_ context.Context, vector []float32, limit int, where map[string]any) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Point
	for _, id := range m.order {
		p := m.points[id]
		if where != nil && !matches(p.Payload, where) {
			continue
		}
		dist := 1 - embedder.Cosine(vector, p.Vector)
		if dist < 0 {
			dist = 0
		}
		cp := p
		cp.Distance = dist
		out = append(out, cp)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Scroll(_ context.Context, limit int) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.order)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Point, 0, n)
	for _, id := range m.order[:n] {
		out = append(out, m.points[id])
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, ids []string) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Point, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points), nil
}
