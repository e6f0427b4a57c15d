package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

// Lifecycle states. An agent only serves traffic while active.
const (
	StateInitializing = "initializing"
	StateActive       = "active"
	StateOffline      = "offline"
)

// Handler processes one envelope and returns the reply payload.
type Handler func(ctx context.Context, env *protocol.Envelope) (protocol.Payload, error)

// DocumentBuilder produces the text that gets embedded for a grant. Domain
// agents override it to weight the fields their providers care about.
type DocumentBuilder func(g grants.Grant) string

// Scraper ingests grants from a source URL. Optional; agents without one
// reject SCRAPE commands.
type Scraper interface {
	Scrape(ctx context.Context, url string, maxDepth int) ([]grants.Grant, error)
}

// CodedError carries a protocol error code through a handler failure.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string { return e.Message }

// Config identifies an agent and tunes its search behavior.
type Config struct {
	ID     string
	Name   string
	Silo   string
	Domain string
	Model  string

	// Hybrid scoring weights; defaulted to 0.7/0.3 when both are zero.
	SemanticWeight float64
	KeywordWeight  float64
	// OverFetch multiplies max_results for the vector query so keyword
	// re-scoring has candidates to promote. Defaults to 3.
	OverFetch int

	HistorySize int
}

// Tuning is the hot-reloadable part of search behavior. The initial values
// come from Config; Retune replaces them on a running agent.
type Tuning struct {
	SemanticWeight float64
	KeywordWeight  float64
	OverFetch      int
}

// Base is the runtime shared by every agent in the mesh: lifecycle, handler
// dispatch, hybrid search and indexing over one owned collection.
type Base struct {
	cfg      Config
	emb      embedder.Embedder
	col      vectorstore.Collection
	history  *protocol.History
	handlers map[protocol.Intent]Handler
	buildDoc DocumentBuilder
	scraper  Scraper
	logger   *zap.Logger

	tuneMu sync.RWMutex
	tune   Tuning

	state          atomic.Value // string
	docsIndexed    atomic.Int64
	queriesSeen    atomic.Int64
	errorsSeen     atomic.Int64
	capabilities   []string
	analyzeHandler bool
}

// New builds an agent over its owned collection. The agent starts in the
// initializing state; call Activate once seeding is done.
func New(cfg Config, emb embedder.Embedder, col vectorstore.Collection, logger *zap.Logger) *Base {
	if cfg.SemanticWeight == 0 && cfg.KeywordWeight == 0 {
		cfg.SemanticWeight = 0.7
		cfg.KeywordWeight = 0.3
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Base{
		cfg: cfg,
		tune: Tuning{
			SemanticWeight: cfg.SemanticWeight,
			KeywordWeight:  cfg.KeywordWeight,
			OverFetch:      cfg.OverFetch,
		},
		emb:      emb,
		col:      col,
		history:  protocol.NewHistory(cfg.HistorySize),
		handlers: make(map[protocol.Intent]Handler),
		buildDoc: func(g grants.Grant) string { return g.Title + ". " + g.Description },
		logger:   logger.With(zap.String("agent_id", cfg.ID)),
	}
	a.state.Store(StateInitializing)

	a.handlers[protocol.IntentSearch] = a.handleSearch
	a.handlers[protocol.IntentStatus] = a.handleStatus
	a.handlers[protocol.IntentFetch] = a.handleFetch
	a.handlers[protocol.IntentValidate] = a.handleValidate
	return a
}

func (a *Base) ID() string     { return a.cfg.ID }
func (a *Base) Name() string   { return a.cfg.Name }
func (a *Base) Silo() string   { return a.cfg.Silo }
func (a *Base) Domain() string { return a.cfg.Domain }
func (a *Base) State() string  { return a.state.Load().(string) }

// History exposes the agent's message log for diagnostics.
func (a *Base) History() *protocol.History { return a.history }

// Tuning returns the agent's current search settings.
func (a *Base) Tuning() Tuning {
	a.tuneMu.RLock()
	defer a.tuneMu.RUnlock()
	return a.tune
}

// Retune applies new hybrid-search settings to a running agent. A zero
// weight pair or non-positive over-fetch keeps the previous value.
func (a *Base) Retune(t Tuning) {
	a.tuneMu.Lock()
	defer a.tuneMu.Unlock()
	if t.SemanticWeight != 0 || t.KeywordWeight != 0 {
		a.tune.SemanticWeight = t.SemanticWeight
		a.tune.KeywordWeight = t.KeywordWeight
	}
	if t.OverFetch > 0 {
		a.tune.OverFetch = t.OverFetch
	}
}

// SetDocumentBuilder overrides the embedded-text builder.
func (a *Base) SetDocumentBuilder(b DocumentBuilder) {
	if b != nil {
		a.buildDoc = b
	}
}

// SetScraper attaches a scraper and enables the SCRAPE handler.
func (a *Base) SetScraper(s Scraper) {
	a.scraper = s
	a.handlers[protocol.IntentScrape] = a.handleScrape
}

// RegisterHandler installs or replaces the handler for an intent.
func (a *Base) RegisterHandler(intent protocol.Intent, h Handler) {
	a.handlers[intent] = h
	if intent == protocol.IntentAnalyze {
		a.analyzeHandler = true
	}
}

// Activate marks the agent ready to serve traffic.
func (a *Base) Activate() {
	a.state.Store(StateActive)
	a.logger.Info("Agent active",
		zap.String("silo", a.cfg.Silo),
		zap.String("domain", a.cfg.Domain),
		zap.String("collection", a.col.Name()))
}

// Shutdown takes the agent out of rotation.
func (a *Base) Shutdown() {
	a.state.Store(StateOffline)
	a.logger.Info("Agent offline")
}

// Dispatch validates an envelope, records it, and routes it to the intent's
// handler. Every outcome is an envelope: handler results become RESPONSE
// replies, failures become ERROR replies. A panicking handler is recovered
// and reported as PROCESSING_ERROR so one bad message cannot take the agent
// down.
func (a *Base) Dispatch(ctx context.Context, env *protocol.Envelope) *protocol.Envelope {
	start := time.Now()
	a.queriesSeen.Add(1)

	if err := env.Validate(time.Now()); err != nil {
		a.errorsSeen.Add(1)
		metrics.AgentQueries.WithLabelValues(a.cfg.ID, string(env.Intent), "invalid").Inc()
		return a.addressedFail(env, err.Error(), protocol.CodeInvalidMessage)
	}

	a.history.Record(env)

	if a.State() != StateActive {
		a.errorsSeen.Add(1)
		metrics.AgentQueries.WithLabelValues(a.cfg.ID, string(env.Intent), "unavailable").Inc()
		return a.addressedFail(env, fmt.Sprintf("agent %s is %s", a.cfg.ID, a.State()), protocol.CodeUpstreamUnavailable)
	}

	handler, ok := a.handlers[env.Intent]
	if !ok {
		a.errorsSeen.Add(1)
		metrics.AgentQueries.WithLabelValues(a.cfg.ID, string(env.Intent), "no_handler").Inc()
		return a.addressedFail(env, fmt.Sprintf("no handler for intent %q", env.Intent), protocol.CodeNoHandler)
	}

	var reply *protocol.Envelope
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Handler panic",
					zap.String("intent", string(env.Intent)),
					zap.Any("panic", r))
				a.errorsSeen.Add(1)
				reply = a.addressedFail(env, fmt.Sprintf("handler panic: %v", r), protocol.CodeProcessingError)
			}
		}()

		payload, err := handler(ctx, env)
		if err != nil {
			a.errorsSeen.Add(1)
			code := protocol.CodeProcessingError
			if coded, ok := err.(*CodedError); ok {
				code = coded.Code
			} else if ctx.Err() != nil {
				code = protocol.CodeTimeout
			}
			reply = a.addressedFail(env, err.Error(), code)
			return
		}
		reply = a.addressedReply(env, payload)
	}()

	status := "ok"
	if reply.Kind == protocol.KindError {
		status = "error"
	}
	metrics.AgentQueries.WithLabelValues(a.cfg.ID, string(env.Intent), status).Inc()
	metrics.AgentQueryDuration.WithLabelValues(a.cfg.ID, string(env.Intent)).
		Observe(float64(time.Since(start).Milliseconds()))

	a.history.Record(reply)
	return reply
}

// addressedReply builds a RESPONSE from this agent even when the request was
// broadcast without a receiver.
func (a *Base) addressedReply(env *protocol.Envelope, payload protocol.Payload) *protocol.Envelope {
	r := env.Reply(payload)
	r.Sender = a.cfg.ID
	return r
}

func (a *Base) addressedFail(env *protocol.Envelope, msg, code string) *protocol.Envelope {
	r := env.Fail(msg, code)
	r.Sender = a.cfg.ID
	return r
}

// handleStatus reports identity, lifecycle state and counters.
func (a *Base) handleStatus(ctx context.Context, _ *protocol.Envelope) (protocol.Payload, error) {
	caps := []string{"search", "status", "fetch", "validate"}
	if a.analyzeHandler {
		caps = append(caps, "analyze")
	}
	if a.scraper != nil {
		caps = append(caps, "scrape")
	}
	return &protocol.StatusResponse{
		AgentID:      a.cfg.ID,
		Name:         a.cfg.Name,
		Silo:         a.cfg.Silo,
		Domain:       a.cfg.Domain,
		State:        a.State(),
		DocumentsIn:  a.docsIndexed.Load(),
		QueriesSeen:  a.queriesSeen.Load(),
		ErrorCount:   a.errorsSeen.Load(),
		Capabilities: caps,
	}, nil
}

// handleValidate checks a grant record against the fields indexing requires.
func (a *Base) handleValidate(_ context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	req, ok := env.Context.(*protocol.ValidateRequest)
	if !ok {
		return nil, &CodedError{Code: protocol.CodeInvalidMessage, Message: "validate requires a grant payload"}
	}
	problems := validateGrant(req.Grant)
	return &protocol.ValidateResponse{
		Valid:    len(problems) == 0,
		Problems: problems,
		AgentID:  a.cfg.ID,
	}, nil
}

// handleScrape runs the attached scraper and indexes whatever it returns.
func (a *Base) handleScrape(ctx context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	cmd, ok := env.Context.(*protocol.ScrapeCommand)
	if !ok {
		return nil, &CodedError{Code: protocol.CodeInvalidMessage, Message: "scrape requires a command payload"}
	}

	start := time.Now()
	scraped, err := a.scraper.Scrape(ctx, cmd.URL, cmd.MaxDepth)
	if err != nil {
		return nil, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: fmt.Sprintf("scrape %s: %v", cmd.URL, err)}
	}

	indexed, err := a.IndexBatch(ctx, scraped)
	if err != nil {
		return nil, err
	}
	return &protocol.ScrapeResult{
		AgentID:  a.cfg.ID,
		URL:      cmd.URL,
		Status:   "completed",
		Indexed:  indexed,
		Duration: time.Since(start).Truncate(time.Millisecond).String(),
	}, nil
}

// Status returns the agent's status snapshot without going through dispatch.
func (a *Base) Status() protocol.StatusResponse {
	p, _ := a.handleStatus(context.Background(), nil)
	return *p.(*protocol.StatusResponse)
}
