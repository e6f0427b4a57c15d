// Package orchestrator fans a search query out across registered agents and
// folds their answers into one ranked response.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/grantmesh/grantmesh/internal/cache"
	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/querylog"
	"github.com/grantmesh/grantmesh/internal/routing"
)

// Version is stamped into responses and query-log records.
const Version = "1.0.0"

// senderID identifies the orchestrator on outbound envelopes.
const senderID = "orchestrator"

// ErrEmptyQuery is the only hard failure the query boundary produces.
var ErrEmptyQuery = errors.New("query must not be empty")

// Agent is the orchestrator's view of a registered agent. *agent.Base
// satisfies it; tests substitute fakes.
type Agent interface {
	ID() string
	Silo() string
	Domain() string
	Dispatch(ctx context.Context, env *protocol.Envelope) *protocol.Envelope
}

// Config tunes the fan-out and ranking behavior.
type Config struct {
	// Timeout bounds each per-agent attempt. Default 5s.
	Timeout time.Duration
	// MaxAttempts is the total number of tries per agent. Default 3.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt. Default 1s.
	BackoffBase time.Duration
	// MaxInflight caps concurrent agent calls across the whole query,
	// decomposed sub-queries included. Default 32.
	MaxInflight int64
	// SemanticWeight and KeywordWeight recompute the hybrid score when
	// merging decomposed sub-queries. Defaults 0.7/0.3.
	SemanticWeight float64
	KeywordWeight  float64
	// DisableDecomposition turns off complex-query splitting.
	DisableDecomposition bool
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = 32
	}
	if c.SemanticWeight == 0 && c.KeywordWeight == 0 {
		c.SemanticWeight = 0.7
		c.KeywordWeight = 0.3
	}
}

// Orchestrator owns the agent registry, the result cache, the routing
// strategy and the re-ranking embedder. One instance serves all queries.
type Orchestrator struct {
	cfg     Config
	emb     embedder.Embedder
	results cache.ResultCache
	qlog    querylog.Logger
	history *protocol.History
	sem     *semaphore.Weighted
	logger  *zap.Logger

	mu       sync.RWMutex
	agents   map[string]Agent
	order    []Agent // registration order, for deterministic iteration
	expert   Agent
	strategy routing.Strategy

	totalQueries atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64

	latMu        sync.Mutex
	avgLatencyMS float64
}

// New builds an orchestrator. Nil cache, query log or logger fall back to
// inert defaults; the embedder is required for re-ranking.
func New(cfg Config, emb embedder.Embedder, results cache.ResultCache, qlog querylog.Logger, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	if results == nil {
		results = cache.NewMemory(cache.DefaultTTL, cache.DefaultMaxEntries)
	}
	if qlog == nil {
		qlog = querylog.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		emb:      emb,
		results:  results,
		qlog:     qlog,
		history:  protocol.NewHistory(protocol.DefaultHistorySize),
		sem:      semaphore.NewWeighted(cfg.MaxInflight),
		logger:   logger,
		agents:   make(map[string]Agent),
		strategy: routing.NewSilo(),
	}
}

// RegisterAgent adds an agent to the registry. Registration is additive;
// re-registering an id replaces it without changing the order.
func (o *Orchestrator) RegisterAgent(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.agents[a.ID()]; !exists {
		o.order = append(o.order, a)
	} else {
		for i, existing := range o.order {
			if existing.ID() == a.ID() {
				o.order[i] = a
				break
			}
		}
	}
	o.agents[a.ID()] = a
	metrics.AgentsRegistered.Set(float64(len(o.agents)))
	o.logger.Info("Agent registered",
		zap.String("agent_id", a.ID()),
		zap.String("silo", a.Silo()),
		zap.String("domain", a.Domain()))
}

// RegisterExpertAgent attaches the expert-hints collaborator. Its ANALYZE
// answer is folded into every outbound search envelope; it is never part of
// the search fan-out.
func (o *Orchestrator) RegisterExpertAgent(a Agent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.expert = a
	o.logger.Info("Expert agent registered", zap.String("agent_id", a.ID()))
}

// SetStrategy swaps the routing strategy at runtime.
func (o *Orchestrator) SetStrategy(s routing.Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategy = s
	o.logger.Info("Routing strategy changed", zap.String("strategy", s.Name()))
}

// Strategy returns the current routing strategy.
func (o *Orchestrator) Strategy() routing.Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.strategy
}

// SetHybridWeights updates the blend used when merging decomposed
// sub-queries and when the re-rank embedder is unavailable. A zero pair is
// ignored.
func (o *Orchestrator) SetHybridWeights(semantic, keyword float64) {
	if semantic == 0 && keyword == 0 {
		return
	}
	o.mu.Lock()
	o.cfg.SemanticWeight = semantic
	o.cfg.KeywordWeight = keyword
	o.mu.Unlock()
	o.logger.Info("Hybrid weights changed",
		zap.Float64("semantic_weight", semantic),
		zap.Float64("keyword_weight", keyword))
}

func (o *Orchestrator) hybridWeights() (semantic, keyword float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg.SemanticWeight, o.cfg.KeywordWeight
}

// Agents returns the registered agents in registration order.
func (o *Orchestrator) Agents() []Agent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Agent, len(o.order))
	copy(out, o.order)
	return out
}

// History exposes the orchestrator's envelope log for diagnostics.
func (o *Orchestrator) History() *protocol.History { return o.history }

// Query answers one top-level search: cache, optional decomposition, expert
// hints, routing, fan-out with retry, re-ranking, caching and logging. A
// failing agent never fails the query; only an empty query does.
func (o *Orchestrator) Query(ctx context.Context, q string, maxResults int, filters protocol.Filters) (*Response, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	start := time.Now()
	strategyName := o.Strategy().Name()
	metrics.SearchesStarted.WithLabelValues(strategyName).Inc()

	key := cache.Key(q, maxResults, filters)
	if data, age, ok := o.results.Get(ctx, key); ok {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			o.cacheHits.Add(1)
			metrics.CacheHits.Inc()
			resp.FromCache = true
			resp.CacheAgeSeconds = age.Seconds()
			o.finish(start, strategyName, filters, &resp, true)
			return &resp, nil
		}
		o.logger.Warn("Discarding corrupt cache entry", zap.String("key", key))
	}
	o.cacheMisses.Add(1)
	metrics.CacheMisses.Inc()

	var resp *Response
	if subs := o.decompose(q, filters); len(subs) > 0 {
		resp = o.runDecomposed(ctx, q, maxResults, filters, subs)
	} else {
		resp = o.execute(ctx, q, maxResults, filters)
		resp.ProcessingTimeMS = elapsedMS(start)
	}

	if data, err := json.Marshal(resp); err == nil {
		o.results.Put(ctx, key, data)
	}

	o.finish(start, strategyName, filters, resp, false)
	return resp, nil
}

// execute runs the pipeline for one (sub-)query: hints, selection, fan-out,
// aggregation, re-ranking.
func (o *Orchestrator) execute(ctx context.Context, q string, maxResults int, filters protocol.Filters) *Response {
	hint := o.expertHint(ctx, q, filters)
	targets := o.selectAgents(q, filters)
	collected, agentErrs, queried := o.fanOut(ctx, q, maxResults, filters, hint, targets)

	o.rerank(ctx, q, collected)
	if len(collected) > maxResults {
		collected = collected[:maxResults]
	}

	return &Response{
		Query:         q,
		AgentsQueried: queried,
		TotalResults:  len(collected),
		Grants:        collected,
		ExpertHint:    hint,
		Errors:        agentErrs,
	}
}

// selectAgents applies the routing strategy and maps the endpoints back to
// registered agents.
func (o *Orchestrator) selectAgents(q string, filters protocol.Filters) []Agent {
	o.mu.RLock()
	endpoints := make([]routing.Endpoint, len(o.order))
	for i, a := range o.order {
		endpoints[i] = a
	}
	strategy := o.strategy
	o.mu.RUnlock()

	selected := strategy.Route(q, filters, endpoints)
	out := make([]Agent, 0, len(selected))
	for _, e := range selected {
		o.mu.RLock()
		a, ok := o.agents[e.ID()]
		o.mu.RUnlock()
		if ok {
			out = append(out, a)
		}
	}
	return out
}

// expertHint asks the expert agent to annotate the query. Any failure is
// silent: hints are advisory.
func (o *Orchestrator) expertHint(ctx context.Context, q string, filters protocol.Filters) string {
	o.mu.RLock()
	expert := o.expert
	o.mu.RUnlock()
	if expert == nil {
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	env := protocol.NewAnalyzeRequest(senderID, expert.ID(), q, filters)
	o.history.Record(env)
	reply := expert.Dispatch(callCtx, env)
	o.history.Record(reply)

	ar, ok := reply.Context.(*protocol.AnalyzeResponse)
	if !ok || len(ar.Insights) == 0 {
		return ""
	}
	return strings.Join(ar.Insights, " ")
}

// finish updates counters and writes the query-log record.
func (o *Orchestrator) finish(start time.Time, strategyName string, filters protocol.Filters, resp *Response, cacheHit bool) {
	latency := elapsedMS(start)

	o.totalQueries.Add(1)
	o.latMu.Lock()
	n := float64(o.totalQueries.Load())
	o.avgLatencyMS += (latency - o.avgLatencyMS) / n
	o.latMu.Unlock()

	status := "ok"
	if len(resp.Errors) > 0 {
		status = "partial"
	}
	metrics.SearchesCompleted.WithLabelValues(strategyName, status).Inc()
	metrics.SearchDuration.WithLabelValues(strategyName).Observe(latency / 1000)
	metrics.SearchResults.Observe(float64(resp.TotalResults))

	o.qlog.Log(querylog.Record{
		Query:               resp.Query,
		Filters:             filters,
		AgentsUsed:          resp.AgentsQueried,
		ResultCount:         resp.TotalResults,
		LatencyMS:           latency,
		Timestamp:           time.Now().UTC(),
		RoutingStrategy:     strategyName,
		CacheHitRate:        o.cacheHitRate(),
		OrchestratorVersion: Version,
		Decomposed:          resp.Decomposed,
		ErrorCount:          len(resp.Errors),
		CacheHit:            cacheHit,
	})
}

func (o *Orchestrator) cacheHitRate() float64 {
	hits := float64(o.cacheHits.Load())
	misses := float64(o.cacheMisses.Load())
	if hits+misses == 0 {
		return 0
	}
	return hits / (hits + misses)
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	TotalQueries     int64   `json:"total_queries"`
	CacheHits        int64   `json:"cache_hits"`
	CacheMisses      int64   `json:"cache_misses"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
	AgentsRegistered int     `json:"agents_registered"`
}

// Stats returns the orchestrator's counters.
func (o *Orchestrator) Stats() Stats {
	o.latMu.Lock()
	avg := o.avgLatencyMS
	o.latMu.Unlock()
	o.mu.RLock()
	agents := len(o.agents)
	o.mu.RUnlock()
	return Stats{
		TotalQueries:     o.totalQueries.Load(),
		CacheHits:        o.cacheHits.Load(),
		CacheMisses:      o.cacheMisses.Load(),
		CacheHitRate:     o.cacheHitRate(),
		AverageLatencyMS: avg,
		AgentsRegistered: agents,
	}
}

// Status collects a STATUS snapshot from every registered agent.
func (o *Orchestrator) Status(ctx context.Context) []protocol.StatusResponse {
	agents := o.Agents()
	out := make([]protocol.StatusResponse, 0, len(agents))
	for _, a := range agents {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		env := protocol.NewStatusRequest(senderID, a.ID())
		reply := a.Dispatch(callCtx, env)
		cancel()
		if sr, ok := reply.Context.(*protocol.StatusResponse); ok {
			out = append(out, *sr)
		}
	}
	return out
}

// TriggerScrape sends a SCRAPE command to the agent owning domain and
// returns its result.
func (o *Orchestrator) TriggerScrape(ctx context.Context, url, domain string) (*protocol.ScrapeResult, error) {
	var target Agent
	for _, a := range o.Agents() {
		if strings.EqualFold(a.Domain(), domain) {
			target = a
			break
		}
	}
	if target == nil {
		return nil, errors.New("no agent registered for domain " + domain)
	}

	env := protocol.NewScrapeCommand(senderID, target.ID(), url, 0)
	o.history.Record(env)
	reply := target.Dispatch(ctx, env)
	o.history.Record(reply)

	switch p := reply.Context.(type) {
	case *protocol.ScrapeResult:
		return p, nil
	case *protocol.ErrorPayload:
		return nil, errors.New(p.Code + ": " + p.Message)
	default:
		return nil, errors.New("unexpected scrape reply")
	}
}

// Shutdown flushes the query log and takes down agents that support it.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, a := range o.Agents() {
		if s, ok := a.(interface{ Shutdown() }); ok {
			s.Shutdown()
		}
	}
	return o.qlog.Close()
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
