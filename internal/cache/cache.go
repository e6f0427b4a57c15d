// Package cache holds recently aggregated search responses so repeated
// queries skip the fan-out entirely.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/protocol"
)

// Defaults match the orchestrator's tuning when no config is supplied.
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

// ResultCache maps a canonical query key to a previously aggregated
// response. Implementations never return expired entries and never fail a
// request: a broken entry behaves like a miss.
type ResultCache interface {
	// Get returns the cached payload and its age, or ok=false on a miss.
	Get(ctx context.Context, key string) (data []byte, age time.Duration, ok bool)
	// Put stores a payload under key, evicting as needed.
	Put(ctx context.Context, key string, data []byte)
	// Len reports how many entries are currently held.
	Len() int
}

// Key derives the deterministic cache key for a query. The query is
// normalized (trimmed, lowercased, whitespace collapsed) and the filters are
// sorted so equivalent requests share an entry.
func Key(query string, maxResults int, filters protocol.Filters) string {
	silos := lowerSorted(filters.Silos)
	domains := lowerSorted(filters.Domains)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|silos=%s|domains=%s",
		normalize(query), maxResults,
		strings.Join(silos, ","), strings.Join(domains, ","))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func lowerSorted(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	sort.Strings(out)
	return out
}

type entry struct {
	data     []byte
	storedAt time.Time
}

// Memory is a mutex-guarded in-process cache with a TTL and a size cap.
// When the cap is exceeded, expired entries are pruned first, then the
// oldest entries are evicted until the cache fits.
type Memory struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry
	now        func() time.Time
}

// NewMemory builds an in-process result cache. Non-positive parameters fall
// back to the defaults.
func NewMemory(ttl time.Duration, maxEntries int) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
}

// Get returns the entry for key if it has not expired. Expired entries are
// removed on read.
func (m *Memory) Get(_ context.Context, key string) ([]byte, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, 0, false
	}
	age := m.now().Sub(e.storedAt)
	if age >= m.ttl {
		delete(m.entries, key)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		metrics.CacheEntries.Set(float64(len(m.entries)))
		return nil, 0, false
	}
	return e.data, age, true
}

// Put stores data under key and enforces the size cap.
func (m *Memory) Put(_ context.Context, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{data: data, storedAt: m.now()}
	if len(m.entries) > m.maxEntries {
		m.pruneLocked()
	}
	metrics.CacheEntries.Set(float64(len(m.entries)))
}

// Len reports the current entry count.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// pruneLocked drops expired entries, then evicts oldest-first until the
// cache is within its cap.
func (m *Memory) pruneLocked() {
	now := m.now()
	for k, e := range m.entries {
		if now.Sub(e.storedAt) >= m.ttl {
			delete(m.entries, k)
			metrics.CacheEvictions.WithLabelValues("expired").Inc()
		}
	}
	for len(m.entries) > m.maxEntries {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range m.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(m.entries, oldestKey)
		metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	}
}
