// Command grantmesh runs the federated grant-search mesh: the shared
// embedder, the domain agents over their vector collections, and the
// orchestrator with its cache, routing and query log.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/agent"
	"github.com/grantmesh/grantmesh/internal/agent/domains"
	"github.com/grantmesh/grantmesh/internal/cache"
	"github.com/grantmesh/grantmesh/internal/config"
	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/health"
	"github.com/grantmesh/grantmesh/internal/orchestrator"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/querylog"
	"github.com/grantmesh/grantmesh/internal/routing"
	"github.com/grantmesh/grantmesh/internal/tracing"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

func main() {
	query := flag.String("query", "", "run one search, print the JSON response and exit")
	maxResults := flag.Int("max-results", 10, "result cap for -query")
	silos := flag.String("silos", "", "comma-separated silo filter for -query")
	seed := flag.Bool("seed", false, "index the bundled sample grants on startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing init failed, continuing without it", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mesh, cleanup, err := buildMesh(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Mesh startup failed", zap.Error(err))
	}
	defer cleanup()

	if *seed {
		seedSampleGrants(ctx, mesh, logger)
	}

	if *query != "" {
		runOnce(ctx, mesh, *query, *maxResults, *silos, logger)
		return
	}

	serve(ctx, cfg, mesh, logger)
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("logging.level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// buildMesh wires the embedder, collections, agents and orchestrator from
// config. The returned cleanup tears everything down in reverse order.
func buildMesh(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator.Orchestrator, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// One embedder shared by every agent and the orchestrator's re-ranker.
	var emb embedder.Embedder
	if cfg.Vector.Mode == "memory" {
		// Local mode: deterministic hashing vectors, no external services.
		emb = embedder.NewHashingEmbedder(cfg.Vector.ExpectedDim)
		logger.Info("Running in local mode with hashing embedder")
	} else {
		pool := embedder.NewHTTPPool(embedder.Config{
			BaseURL:     cfg.Embedder.BaseURL,
			Timeout:     time.Duration(cfg.Embedder.TimeoutSeconds) * time.Second,
			BatchSize:   cfg.Embedder.BatchSize,
			EnableRedis: cfg.Embedder.RedisEnabled,
			RedisAddr:   cfg.Embedder.RedisAddr,
			CacheTTL:    time.Duration(cfg.Embedder.CacheTTLSeconds) * time.Second,
			MaxLRU:      cfg.Embedder.LRUSize,
		}, logger)
		pooled, err := pool.Get(ctx, cfg.Embedder.ModelName)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load embedder %s: %w", cfg.Embedder.ModelName, err)
		}
		emb = pooled
	}

	openCollection := func(silo, domain string) (vectorstore.Collection, error) {
		name := vectorstore.CollectionName(silo, domain)
		if cfg.Vector.Mode == "memory" {
			return vectorstore.NewMemory(name), nil
		}
		return vectorstore.NewQdrant(ctx, vectorstore.QdrantConfig{
			Host:       cfg.Vector.Host,
			Port:       cfg.Vector.Port,
			Timeout:    time.Duration(cfg.Vector.TimeoutSeconds) * time.Second,
			VectorSize: cfg.Vector.ExpectedDim,
			UpsertRPS:  float64(cfg.Vector.UpsertRate),
		}, name, logger)
	}

	var results cache.ResultCache
	if cfg.Cache.RedisEnabled {
		rc := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.TTL(), logger)
		cleanups = append(cleanups, func() { rc.Close() })
		results = rc
	} else {
		results = cache.NewMemory(cfg.Cache.TTL(), cfg.Cache.MaxEntries)
	}

	qlog := buildQueryLog(cfg.Log, logger)

	orch := orchestrator.New(orchestrator.Config{
		Timeout:        cfg.Fanout.Timeout(),
		MaxAttempts:    cfg.Fanout.MaxRetries,
		BackoffBase:    cfg.Fanout.BackoffBase(),
		MaxInflight:    int64(cfg.Fanout.MaxInflight),
		SemanticWeight: cfg.Hybrid.SemanticWeight,
		KeywordWeight:  cfg.Hybrid.KeywordWeight,
	}, emb, results, qlog, logger)

	tune := agent.Tuning{
		SemanticWeight: cfg.Hybrid.SemanticWeight,
		KeywordWeight:  cfg.Hybrid.KeywordWeight,
		OverFetch:      cfg.Hybrid.OverfetchMultiplier,
	}

	type constructor struct {
		silo, domain string
		build        func(embedder.Embedder, vectorstore.Collection, agent.Tuning, *zap.Logger) *agent.Base
	}
	for _, c := range []constructor{
		{"uk", "innovateuk", domains.NewInnovateUK},
		{"uk", "nihr", domains.NewNIHR},
		{"uk", "ukri", domains.NewUKRI},
		{"eu", "horizoneurope", domains.NewHorizonEurope},
	} {
		col, err := openCollection(c.silo, c.domain)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("open collection %s: %w", vectorstore.CollectionName(c.silo, c.domain), err)
		}
		a := c.build(emb, col, tune, logger)
		a.Activate()
		orch.RegisterAgent(a)
	}

	expert := domains.NewSMEContext(logger)
	expert.Activate()
	orch.RegisterExpertAgent(expert)

	if err := applyStrategy(orch, cfg.Routing); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Hot reload of hybrid weights and keyword triggers when a config file
	// is actually present.
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		mgr, err := config.NewManager(path, cfg, logger)
		if err != nil {
			logger.Warn("Config hot reload unavailable", zap.Error(err))
		} else if err := mgr.Start(); err != nil {
			logger.Warn("Config watcher failed to start", zap.Error(err))
		} else {
			mgr.OnReload(func(tu config.Tunables) {
				orch.SetHybridWeights(tu.Hybrid.SemanticWeight, tu.Hybrid.KeywordWeight)
				next := agent.Tuning{
					SemanticWeight: tu.Hybrid.SemanticWeight,
					KeywordWeight:  tu.Hybrid.KeywordWeight,
					OverFetch:      tu.Hybrid.OverfetchMultiplier,
				}
				for _, a := range orch.Agents() {
					if base, ok := a.(*agent.Base); ok {
						base.Retune(next)
					}
				}
				if orch.Strategy().Name() == "keyword" {
					orch.SetStrategy(routing.NewKeyword(tu.KeywordTriggers))
				}
			})
			cleanups = append(cleanups, mgr.Stop)
		}
	}

	cleanups = append(cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	})
	return orch, cleanup, nil
}

func buildQueryLog(cfg config.LogConfig, logger *zap.Logger) querylog.Logger {
	if !cfg.EnableQueryLogging {
		return querylog.Nop{}
	}
	fl, err := querylog.NewFileLogger(cfg.QueryLogPath, logger)
	if err != nil {
		logger.Warn("Query log unavailable", zap.Error(err))
		return querylog.Nop{}
	}
	if cfg.PostgresEnabled {
		pg, err := querylog.NewPostgresSink(cfg.PostgresDSN, logger)
		if err != nil {
			logger.Warn("Postgres query log sink unavailable", zap.Error(err))
			return fl
		}
		return teeLogger{fl, pg}
	}
	return fl
}

// teeLogger fans each record out to every sink.
type teeLogger []querylog.Logger

func (t teeLogger) Log(rec querylog.Record) {
	for _, l := range t {
		l.Log(rec)
	}
}

func (t teeLogger) Close() error {
	var first error
	for _, l := range t {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func applyStrategy(orch *orchestrator.Orchestrator, cfg config.RoutingConfig) error {
	switch cfg.Strategy {
	case "silo", "":
		orch.SetStrategy(routing.NewSilo())
	case "keyword":
		orch.SetStrategy(routing.NewKeyword(cfg.KeywordTriggers))
	case "broadcast":
		orch.SetStrategy(routing.NewBroadcast())
	default:
		return fmt.Errorf("unknown routing strategy %q", cfg.Strategy)
	}
	return nil
}

// seedSampleGrants indexes the bundled corpus so local mode answers
// something out of the box.
func seedSampleGrants(ctx context.Context, orch *orchestrator.Orchestrator, logger *zap.Logger) {
	for _, a := range orch.Agents() {
		base, ok := a.(*agent.Base)
		if !ok {
			continue
		}
		var n int
		var err error
		switch a.Domain() {
		case "innovateuk":
			n, err = base.IndexBatch(ctx, domains.SampleInnovateUKGrants())
		case "nihr":
			n, err = base.IndexBatch(ctx, domains.SampleNIHRGrants())
		case "ukri":
			n, err = base.IndexBatch(ctx, domains.SampleUKRIGrants())
		case "horizoneurope":
			n, err = base.IndexBatch(ctx, domains.SampleHorizonGrants())
		default:
			continue
		}
		if err != nil {
			logger.Warn("Seeding failed", zap.String("agent_id", a.ID()), zap.Error(err))
			continue
		}
		logger.Info("Sample grants indexed", zap.String("agent_id", a.ID()), zap.Int("count", n))
	}
}

func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, q string, maxResults int, silos string, logger *zap.Logger) {
	filters := protocol.Filters{}
	if silos != "" {
		filters.Silos = strings.Split(silos, ",")
	}
	resp, err := orch.Query(ctx, q, maxResults, filters)
	if err != nil {
		logger.Fatal("Query failed", zap.Error(err))
	}
	out, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(out))
}

// serve exposes the operational endpoints until a signal arrives.
func serve(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, logger *zap.Logger) {
	hm := health.NewManager(15*time.Second, 5*time.Second, logger)
	hm.Register(health.NewAgentsChecker(agentStates{orch}))
	if cfg.Vector.Mode == "qdrant" {
		hm.Register(health.NewHTTPChecker("qdrant",
			fmt.Sprintf("http://%s:%d/readyz", cfg.Vector.Host, cfg.Vector.Port), true))
		hm.Register(health.NewHTTPChecker("embedder", cfg.Embedder.BaseURL+"/health", true))
	}
	if cfg.Cache.RedisEnabled {
		hm.Register(health.NewRedisChecker("redis", cfg.Cache.RedisAddr))
	}
	hm.Start()
	defer hm.Stop()

	mux := http.NewServeMux()
	mux.Handle("/healthz", hm.Handler())
	mux.Handle("/readyz", hm.Handler())
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Operational endpoints listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// agentStates adapts the orchestrator's status fan-out to the health checker.
type agentStates struct {
	orch *orchestrator.Orchestrator
}

func (a agentStates) Status(ctx context.Context) []health.AgentState {
	statuses := a.orch.Status(ctx)
	out := make([]health.AgentState, len(statuses))
	for i, s := range statuses {
		out[i] = health.AgentState{ID: s.AgentID, State: s.State}
	}
	return out
}
