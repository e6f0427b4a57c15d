package querylog

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/metrics"
)

const insertQueryLog = `
	INSERT INTO query_log (
		query, filters, agents_used, result_count, latency_ms,
		timestamp, routing_strategy, cache_hit_rate, orchestrator_version,
		decomposed, error_count, cache_hit
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

// PostgresSink mirrors query-log records into Postgres through an async
// write queue. Inserts that fail are logged and dropped; the sink exists for
// analytics, not durability.
type PostgresSink struct {
	db     *sqlx.DB
	ch     chan Record
	done   chan struct{}
	closed sync.Once
	logger *zap.Logger
}

// NewPostgresSink connects to dsn and starts the insert worker.
func NewPostgresSink(dsn string, logger *zap.Logger) (*PostgresSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := newPostgresSink(db, logger)
	return s, nil
}

// newPostgresSink wires the worker over an existing handle; tests inject a
// mocked *sqlx.DB here.
func newPostgresSink(db *sqlx.DB, logger *zap.Logger) *PostgresSink {
	s := &PostgresSink{
		db:     db,
		ch:     make(chan Record, defaultQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

// Log enqueues a record, dropping when the queue is full.
func (s *PostgresSink) Log(rec Record) {
	select {
	case s.ch <- rec:
	default:
		metrics.QueryLogRecords.WithLabelValues("postgres", "dropped").Inc()
		s.logger.Warn("Postgres query log queue full, dropping record")
	}
}

// Close drains pending inserts and closes the connection pool.
func (s *PostgresSink) Close() error {
	s.closed.Do(func() { close(s.ch) })
	<-s.done
	return s.db.Close()
}

func (s *PostgresSink) run() {
	defer close(s.done)
	for rec := range s.ch {
		if err := s.insert(rec); err != nil {
			metrics.QueryLogRecords.WithLabelValues("postgres", "error").Inc()
			s.logger.Warn("Query log insert failed", zap.Error(err))
			continue
		}
		metrics.QueryLogRecords.WithLabelValues("postgres", "ok").Inc()
	}
}

func (s *PostgresSink) insert(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	filters, err := json.Marshal(rec.Filters)
	if err != nil {
		return err
	}
	agents, err := json.Marshal(rec.AgentsUsed)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, insertQueryLog,
		rec.Query, filters, agents, rec.ResultCount, rec.LatencyMS,
		rec.Timestamp, rec.RoutingStrategy, rec.CacheHitRate,
		rec.OrchestratorVersion, rec.Decomposed, rec.ErrorCount, rec.CacheHit,
	)
	return err
}
