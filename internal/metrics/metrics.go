package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Search pipeline metrics
	SearchesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_searches_started_total",
			Help: "Total number of search requests received",
		},
		[]string{"strategy"},
	)

	SearchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_searches_completed_total",
			Help: "Total number of search requests completed",
		},
		[]string{"strategy", "status"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grantmesh_search_duration_seconds",
			Help:    "End-to-end search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	SearchResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grantmesh_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	QueriesDecomposed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grantmesh_queries_decomposed_total",
			Help: "Total number of queries split into sub-queries",
		},
	)

	// Agent metrics
	AgentQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_agent_queries_total",
			Help: "Total number of envelopes dispatched to agents",
		},
		[]string{"agent_id", "intent", "status"},
	)

	AgentQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grantmesh_agent_query_duration_ms",
			Help:    "Per-agent query duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"agent_id", "intent"},
	)

	AgentRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_agent_retries_total",
			Help: "Total number of retried agent invocations",
		},
		[]string{"agent_id"},
	)

	AgentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grantmesh_agents_registered",
			Help: "Number of agents currently registered with the orchestrator",
		},
	)

	DocumentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_documents_indexed_total",
			Help: "Total number of grants indexed by agents",
		},
		[]string{"agent_id"},
	)

	IndexingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_indexing_errors_total",
			Help: "Total number of grants that failed to index",
		},
		[]string{"agent_id"},
	)

	// Result cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grantmesh_result_cache_hits_total",
			Help: "Total number of result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grantmesh_result_cache_misses_total",
			Help: "Total number of result cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_result_cache_evictions_total",
			Help: "Total number of result cache evictions",
		},
		[]string{"reason"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grantmesh_result_cache_entries",
			Help: "Number of entries currently held in the result cache",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
		[]string{"tier"},
	)

	EmbeddingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "grantmesh_embedding_batch_size",
			Help:    "Number of texts per batch embedding request",
			Buckets: []float64{1, 4, 16, 64, 128, 256},
		},
	)

	// Vector store metrics
	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_vector_upserts_total",
			Help: "Total number of vector upsert operations",
		},
		[]string{"collection", "status"},
	)

	VectorQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_vector_queries_total",
			Help: "Total number of vector similarity queries",
		},
		[]string{"collection", "status"},
	)

	VectorQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grantmesh_vector_query_duration_seconds",
			Help:    "Vector query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Query log metrics
	QueryLogRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grantmesh_querylog_records_total",
			Help: "Total number of query log records written",
		},
		[]string{"sink", "status"},
	)

	QueryLogQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grantmesh_querylog_queue_depth",
			Help: "Number of query log records waiting to be flushed",
		},
	)
)
