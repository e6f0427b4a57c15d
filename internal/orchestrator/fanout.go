package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/protocol"
)

// fanOut queries every target agent in parallel, each under the retry and
// timeout policy, and aggregates grants and failures. Reply order never
// influences ranking: results are keyed by fan-out slot, not arrival.
func (o *Orchestrator) fanOut(ctx context.Context, q string, maxResults int, filters protocol.Filters, hint string, targets []Agent) ([]grants.Grant, []AgentError, []string) {
	type outcome struct {
		results []grants.Grant
		err     error
	}
	outcomes := make([]outcome, len(targets))
	queried := make([]string, len(targets))

	var wg sync.WaitGroup
	for i, ag := range targets {
		queried[i] = ag.ID()
		wg.Add(1)
		go func(slot int, ag Agent) {
			defer wg.Done()
			if err := o.sem.Acquire(ctx, 1); err != nil {
				outcomes[slot] = outcome{err: err}
				return
			}
			defer o.sem.Release(1)

			env := protocol.NewSearchQuery(senderID, q, maxResults, filters)
			env.Receiver = ag.ID()
			if hint != "" {
				env.Metadata = map[string]any{"sme_context": hint}
			}
			o.history.Record(env)

			results, err := o.invokeWithRetry(ctx, ag, env)
			outcomes[slot] = outcome{results: results, err: err}
		}(i, ag)
	}
	wg.Wait()

	var collected []grants.Grant
	var agentErrs []AgentError
	for i, oc := range outcomes {
		if oc.err != nil {
			agentErrs = append(agentErrs, AgentError{AgentID: targets[i].ID(), Message: oc.err.Error()})
			continue
		}
		for _, g := range oc.results {
			g.AgentSource = targets[i].ID()
			collected = append(collected, g)
		}
	}
	return collected, agentErrs, queried
}

// invokeWithRetry calls one agent with a per-attempt timeout and exponential
// backoff between attempts. ERROR envelopes and transport failures are
// treated uniformly; cancellation of the top-level query stops retrying
// immediately.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, ag Agent, env *protocol.Envelope) ([]grants.Grant, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.BackoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // attempts are bounded by count, not wall clock
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.AgentRetries.WithLabelValues(ag.ID()).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		results, err := o.invokeOnce(ctx, ag, env)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("Agent call failed",
			zap.String("agent_id", ag.ID()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, lastErr
}

// invokeOnce dispatches a single attempt under the per-attempt deadline. A
// handler that outlives the deadline keeps running on its goroutine but its
// reply is discarded.
func (o *Orchestrator) invokeOnce(parent context.Context, ag Agent, env *protocol.Envelope) ([]grants.Grant, error) {
	ctx, cancel := context.WithTimeout(parent, o.cfg.Timeout)
	defer cancel()

	replyCh := make(chan *protocol.Envelope, 1)
	go func() {
		replyCh <- ag.Dispatch(ctx, env)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: agent %s exceeded %s", protocol.CodeTimeout, ag.ID(), o.cfg.Timeout)
	case reply := <-replyCh:
		o.history.Record(reply)
		switch p := reply.Context.(type) {
		case *protocol.SearchResponse:
			return p.Results, nil
		case *protocol.ErrorPayload:
			return nil, fmt.Errorf("%s: %s", p.Code, p.Message)
		default:
			return nil, fmt.Errorf("unexpected reply payload from %s", ag.ID())
		}
	}
}

// rerank recomputes each grant's relevance as the cosine similarity between
// the query vector and a fresh embedding of the grant's title+description,
// then orders by it. When the embedder is unavailable the hybrid ordering
// from the agents stands.
func (o *Orchestrator) rerank(ctx context.Context, q string, gs []grants.Grant) {
	if len(gs) == 0 {
		return
	}

	sem, kw := o.hybridWeights()
	queryVec, err := o.emb.Encode(ctx, q)
	if err != nil {
		o.logger.Warn("Re-rank encode failed, keeping hybrid order", zap.Error(err))
		sortByCombined(gs, sem, kw)
		return
	}

	docs := make([]string, len(gs))
	for i := range gs {
		docs[i] = gs[i].Title + ". " + gs[i].Description
	}
	vecs, err := o.emb.EncodeBatch(ctx, docs)
	if err != nil || len(vecs) != len(gs) {
		o.logger.Warn("Re-rank batch encode failed, keeping hybrid order", zap.Error(err))
		sortByCombined(gs, sem, kw)
		return
	}

	for i := range gs {
		gs[i].RelevanceScore = embedder.Cosine(queryVec, vecs[i])
	}
	sortByRelevance(gs)
}
