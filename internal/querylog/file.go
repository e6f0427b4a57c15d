package querylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/metrics"
)

// defaultQueueSize bounds how many records may wait for the writer before
// new ones are dropped.
const defaultQueueSize = 1024

// FileLogger appends newline-delimited JSON records to a file. All writes
// funnel through a single goroutine so the file needs no locking; Log never
// blocks the query path.
type FileLogger struct {
	ch     chan Record
	done   chan struct{}
	closed sync.Once
	file   *os.File
	logger *zap.Logger
}

// NewFileLogger opens (or creates) the NDJSON log at path and starts the
// writer goroutine. Parent directories are created as needed.
func NewFileLogger(path string, logger *zap.Logger) (*FileLogger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create query log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open query log: %w", err)
	}

	fl := &FileLogger{
		ch:     make(chan Record, defaultQueueSize),
		done:   make(chan struct{}),
		file:   f,
		logger: logger.With(zap.String("query_log", path)),
	}
	go fl.run()
	return fl, nil
}

// Log enqueues a record. When the queue is full the record is dropped with a
// warning; search latency must never wait on disk.
func (fl *FileLogger) Log(rec Record) {
	select {
	case fl.ch <- rec:
		metrics.QueryLogQueueDepth.Set(float64(len(fl.ch)))
	default:
		metrics.QueryLogRecords.WithLabelValues("file", "dropped").Inc()
		fl.logger.Warn("Query log queue full, dropping record")
	}
}

// Close drains pending records and closes the file.
func (fl *FileLogger) Close() error {
	fl.closed.Do(func() { close(fl.ch) })
	<-fl.done
	return fl.file.Close()
}

func (fl *FileLogger) run() {
	defer close(fl.done)
	enc := json.NewEncoder(fl.file)
	for rec := range fl.ch {
		if err := enc.Encode(rec); err != nil {
			metrics.QueryLogRecords.WithLabelValues("file", "error").Inc()
			fl.logger.Warn("Query log write failed", zap.Error(err))
			continue
		}
		metrics.QueryLogRecords.WithLabelValues("file", "ok").Inc()
		metrics.QueryLogQueueDepth.Set(float64(len(fl.ch)))
	}
}
