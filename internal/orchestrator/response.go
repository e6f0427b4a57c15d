package orchestrator

import (
	"sort"

	"github.com/grantmesh/grantmesh/internal/grants"
)

// AgentError records one agent's failure inside an otherwise successful
// query.
type AgentError struct {
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

// Response is the aggregated answer for one top-level query.
type Response struct {
	Query            string         `json:"query"`
	AgentsQueried    []string       `json:"agents_queried"`
	TotalResults     int            `json:"total_results"`
	Grants           []grants.Grant `json:"grants"`
	ExpertHint       string         `json:"expert_hint,omitempty"`
	Errors           []AgentError   `json:"errors,omitempty"`
	ProcessingTimeMS float64        `json:"processing_time_ms"`
	FromCache        bool           `json:"from_cache,omitempty"`
	CacheAgeSeconds  float64        `json:"cache_age_seconds,omitempty"`
	Decomposed       bool           `json:"decomposed,omitempty"`
	SubQueryCount    int            `json:"sub_query_count,omitempty"`
}

// sortByRelevance orders grants by descending relevance, breaking ties on
// the earlier deadline, then grant id for a stable total order.
func sortByRelevance(gs []grants.Grant) {
	sort.SliceStable(gs, func(i, j int) bool {
		if gs[i].RelevanceScore != gs[j].RelevanceScore {
			return gs[i].RelevanceScore > gs[j].RelevanceScore
		}
		di, dj := gs[i].SortDeadline(), gs[j].SortDeadline()
		if di != dj {
			return di < dj
		}
		return gs[i].GrantID < gs[j].GrantID
	})
}

// sortByCombined orders grants by the descending hybrid score recomputed
// from their semantic and keyword components, with the same tie-breaks as
// sortByRelevance. Used when merging decomposed sub-queries and as the
// fallback ordering when re-ranking is unavailable.
func sortByCombined(gs []grants.Grant, semanticWeight, keywordWeight float64) {
	combined := func(g grants.Grant) float64 {
		return semanticWeight*g.SemanticScore + keywordWeight*g.KeywordScore
	}
	sort.SliceStable(gs, func(i, j int) bool {
		ci, cj := combined(gs[i]), combined(gs[j])
		if ci != cj {
			return ci > cj
		}
		di, dj := gs[i].SortDeadline(), gs[j].SortDeadline()
		if di != dj {
			return di < dj
		}
		return gs[i].GrantID < gs[j].GrantID
	})
}
