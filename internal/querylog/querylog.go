// Package querylog records one line per top-level search for offline
// analysis. Writes are asynchronous and never fail the query that produced
// them.
package querylog

import (
	"time"

	"github.com/grantmesh/grantmesh/internal/protocol"
)

// Record is one query-log line.
type Record struct {
	Query               string           `json:"query" db:"query"`
	Filters             protocol.Filters `json:"filters" db:"-"`
	AgentsUsed          []string         `json:"agents_used" db:"-"`
	ResultCount         int              `json:"result_count" db:"result_count"`
	LatencyMS           float64          `json:"latency_ms" db:"latency_ms"`
	Timestamp           time.Time        `json:"timestamp" db:"timestamp"`
	RoutingStrategy     string           `json:"routing_strategy" db:"routing_strategy"`
	CacheHitRate        float64          `json:"cache_hit_rate" db:"cache_hit_rate"`
	OrchestratorVersion string           `json:"orchestrator_version" db:"orchestrator_version"`
	Decomposed          bool             `json:"decomposed,omitempty" db:"decomposed"`
	ErrorCount          int              `json:"error_count,omitempty" db:"error_count"`
	CacheHit            bool             `json:"cache_hit,omitempty" db:"cache_hit"`
}

// Logger accepts records. Implementations must be safe for concurrent use
// and must drop rather than block when overloaded.
type Logger interface {
	Log(rec Record)
	Close() error
}

// Nop discards every record. Used when query logging is disabled.
type Nop struct{}

func (Nop) Log(Record)   {}
func (Nop) Close() error { return nil }
