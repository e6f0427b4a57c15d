package orchestrator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/protocol"
)

// connectives signal a compound ask worth splitting.
var connectives = []string{" and ", " or ", " plus ", " as well as ", " & "}

// siloIndicators and domainIndicators map a narrower filter value to the
// query terms that imply it. Single-word terms match whole tokens; phrases
// match as substrings.
var siloIndicators = map[string][]string{
	"uk": {"uk", "british", "united kingdom"},
	"eu": {"eu", "european", "europe"},
}

var domainIndicators = map[string][]string{
	"innovateuk":    {"innovate uk", "smart grant"},
	"nihr":          {"nihr", "clinical", "patient"},
	"ukri":          {"ukri", "research council"},
	"horizoneurope": {"horizon europe", "eic accelerator"},
}

// decompose splits a compound query into narrower filter slices, one per
// silo or domain the query names. It returns nil when the query should run
// as-is: no connective, fewer than two indicator hits, or decomposition
// disabled. Indicator hits outside the caller's explicit filters are
// dropped so decomposition only ever narrows.
func (o *Orchestrator) decompose(q string, filters protocol.Filters) []protocol.Filters {
	if o.cfg.DisableDecomposition {
		return nil
	}

	lower := " " + strings.ToLower(q) + " "
	hasConnective := false
	for _, c := range connectives {
		if strings.Contains(lower, c) {
			hasConnective = true
			break
		}
	}
	if !hasConnective {
		return nil
	}

	tokens := make(map[string]bool)
	for _, f := range strings.Fields(lower) {
		tokens[strings.Trim(f, ".,;:!?")] = true
	}
	hit := func(terms []string) bool {
		for _, term := range terms {
			if strings.Contains(term, " ") {
				if strings.Contains(lower, term) {
					return true
				}
			} else if tokens[term] {
				return true
			}
		}
		return false
	}

	var subs []protocol.Filters
	for _, silo := range sortedKeys(siloIndicators) {
		if !hit(siloIndicators[silo]) {
			continue
		}
		if len(filters.Silos) > 0 && !containsFold(filters.Silos, silo) {
			continue
		}
		subs = append(subs, protocol.Filters{Silos: []string{silo}, Domains: filters.Domains})
	}
	for _, domain := range sortedKeys(domainIndicators) {
		if !hit(domainIndicators[domain]) {
			continue
		}
		if len(filters.Domains) > 0 && !containsFold(filters.Domains, domain) {
			continue
		}
		subs = append(subs, protocol.Filters{Silos: filters.Silos, Domains: []string{domain}})
	}

	if len(subs) < 2 {
		return nil
	}
	return subs
}

// runDecomposed executes every sub-query in parallel (each the full
// pipeline minus further decomposition) and merges the answers:
// deduplicated by grant id, re-sorted by the hybrid score, timings summed.
func (o *Orchestrator) runDecomposed(ctx context.Context, q string, maxResults int, filters protocol.Filters, subs []protocol.Filters) *Response {
	metrics.QueriesDecomposed.Inc()
	o.logger.Info("Decomposing query", zap.Int("sub_queries", len(subs)))

	responses := make([]*Response, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(slot int, sub protocol.Filters) {
			defer wg.Done()
			start := time.Now()
			resp := o.execute(ctx, q, maxResults, sub)
			resp.ProcessingTimeMS = elapsedMS(start)
			responses[slot] = resp
		}(i, sub)
	}
	wg.Wait()

	merged := &Response{
		Query:         q,
		Decomposed:    true,
		SubQueryCount: len(subs),
	}

	seen := make(map[string]bool)
	queried := make(map[string]bool)
	for _, resp := range responses {
		merged.ProcessingTimeMS += resp.ProcessingTimeMS
		merged.Errors = append(merged.Errors, resp.Errors...)
		if merged.ExpertHint == "" {
			merged.ExpertHint = resp.ExpertHint
		}
		for _, id := range resp.AgentsQueried {
			if !queried[id] {
				queried[id] = true
				merged.AgentsQueried = append(merged.AgentsQueried, id)
			}
		}
		for _, g := range resp.Grants {
			key := g.GrantID
			if key == "" {
				key = "title:" + strings.ToLower(g.Title)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			merged.Grants = append(merged.Grants, g)
		}
	}

	sem, kw := o.hybridWeights()
	sortByCombined(merged.Grants, sem, kw)
	if len(merged.Grants) > maxResults {
		merged.Grants = merged.Grants[:maxResults]
	}
	merged.TotalResults = len(merged.Grants)
	return merged
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
