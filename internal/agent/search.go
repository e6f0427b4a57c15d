package agent

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/protocol"
)

// handleSearch runs hybrid search for a SEARCH envelope. A pre-computed
// query embedding on the envelope is reused; otherwise the agent encodes
// the query itself.
func (a *Base) handleSearch(ctx context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	q, ok := env.Context.(*protocol.SearchQuery)
	if !ok {
		return nil, &CodedError{Code: protocol.CodeInvalidMessage, Message: "search requires a query payload"}
	}

	results, err := a.Search(ctx, q.Query, env.Embedding, q.MaxResults, q.Filters)
	if err != nil {
		return nil, err
	}
	return &protocol.SearchResponse{
		Results: results,
		Total:   len(results),
		AgentID: a.cfg.ID,
		Domain:  a.cfg.Domain,
	}, nil
}

// Search scores the agent's corpus with a weighted blend of semantic
// similarity and keyword overlap. The vector query over-fetches so keyword
// hits buried past max_results can still be promoted. Filters become
// payload clauses on the vector query so non-matching records never leave
// the backend.
func (a *Base) Search(ctx context.Context, query string, queryVec []float32, maxResults int, filters protocol.Filters) ([]grants.Grant, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	if len(queryVec) == 0 {
		vec, err := a.emb.Encode(ctx, query)
		if err != nil {
			return nil, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: "encode query: " + err.Error()}
		}
		queryVec = vec
	}

	tune := a.Tuning()
	points, err := a.col.Query(ctx, queryVec, maxResults*tune.OverFetch, whereFromFilters(filters))
	if err != nil {
		return nil, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: "vector query: " + err.Error()}
	}

	queryTerms := termSet(query)
	scored := make([]grants.Grant, 0, len(points))
	for _, p := range points {
		g, err := grants.FromMetadata(p.Payload)
		if err != nil {
			a.logger.Warn("Skipping unreadable point", zap.String("point_id", p.ID))
			continue
		}

		semantic := 1 - p.Distance
		if semantic < 0 {
			semantic = 0
		} else if semantic > 1 {
			semantic = 1
		}
		keyword := keywordOverlap(queryTerms, termSet(g.SearchText()))

		g.SemanticScore = semantic
		g.KeywordScore = keyword
		g.RelevanceScore = tune.SemanticWeight*semantic + tune.KeywordWeight*keyword
		g.AgentSource = a.cfg.ID
		scored = append(scored, g)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}
	return scored, nil
}

// handleFetch pages through the agent's corpus in indexed order.
func (a *Base) handleFetch(ctx context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	req, ok := env.Context.(*protocol.FetchRequest)
	if !ok {
		req = &protocol.FetchRequest{}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	total, err := a.col.Count(ctx)
	if err != nil {
		return nil, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: "count: " + err.Error()}
	}

	points, err := a.col.Scroll(ctx, req.Offset+limit)
	if err != nil {
		return nil, &CodedError{Code: protocol.CodeUpstreamUnavailable, Message: "fetch: " + err.Error()}
	}
	if req.Offset < len(points) {
		points = points[req.Offset:]
	} else {
		points = nil
	}

	out := make([]grants.Grant, 0, len(points))
	for _, p := range points {
		g, err := grants.FromMetadata(p.Payload)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return &protocol.FetchResponse{Grants: out, Total: total, AgentID: a.cfg.ID}, nil
}

// whereFromFilters turns search filters into payload clauses on the indexed
// silo/domain fields. Values are lowercased to match stamped records.
func whereFromFilters(f protocol.Filters) map[string]any {
	w := make(map[string]any, 2)
	if c := filterClause(f.Silos); c != nil {
		w["silo"] = c
	}
	if c := filterClause(f.Domains); c != nil {
		w["domain"] = c
	}
	if len(w) == 0 {
		return nil
	}
	return w
}

func filterClause(values []string) any {
	switch len(values) {
	case 0:
		return nil
	case 1:
		return strings.ToLower(values[0])
	default:
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = strings.ToLower(v)
		}
		return out
	}
}

// termSet lowercases a text and splits it on whitespace into a set of terms.
func termSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		set[f] = struct{}{}
	}
	return set
}

// keywordOverlap is the fraction of distinct query terms that appear as
// whole terms in the text: |query ∩ text| / |query|. Substring hits inside
// longer words do not count.
func keywordOverlap(query, text map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for term := range query {
		if _, ok := text[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
