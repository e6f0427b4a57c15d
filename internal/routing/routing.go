// Package routing decides which agents a search query fans out to.
package routing

import (
	"sort"
	"strings"

	"github.com/grantmesh/grantmesh/internal/protocol"
)

// Endpoint is the routing view of a registered agent.
type Endpoint interface {
	ID() string
	Silo() string
	Domain() string
}

// Strategy selects target agents for a query. Every strategy falls back to
// all agents rather than returning an empty selection: a broad answer beats
// no answer.
type Strategy interface {
	Name() string
	Route(query string, filters protocol.Filters, agents []Endpoint) []Endpoint
}

// Silo routes by the query's silo/domain filters. No filters means every
// agent. This is the default strategy.
type Silo struct{}

func NewSilo() *Silo { return &Silo{} }

func (*Silo) Name() string { return "silo" }

func (*Silo) Route(_ string, filters protocol.Filters, agents []Endpoint) []Endpoint {
	if len(filters.Silos) == 0 && len(filters.Domains) == 0 {
		return agents
	}

	var out []Endpoint
	for _, a := range agents {
		if len(filters.Silos) > 0 && !containsFold(filters.Silos, a.Silo()) {
			continue
		}
		if len(filters.Domains) > 0 && !containsFold(filters.Domains, a.Domain()) {
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return agents
	}
	return out
}

// Keyword routes by trigger words in the query text. Domains are evaluated
// in sorted order so overlapping trigger sets resolve deterministically.
type Keyword struct {
	triggers map[string][]string // domain -> trigger words
}

// NewKeyword builds a keyword strategy. A nil trigger map gets the default
// funding-domain triggers.
func NewKeyword(triggers map[string][]string) *Keyword {
	if triggers == nil {
		triggers = map[string][]string{
			"innovateuk":    {"innovation", "smart grant", "sme", "startup"},
			"nihr":          {"health", "clinical", "patient", "nhs", "medical"},
			"ukri":          {"research council", "epsrc", "esrc", "quantum", "fundamental"},
			"horizoneurope": {"eic", "horizon", "european", "consortium"},
		}
	}
	return &Keyword{triggers: triggers}
}

func (*Keyword) Name() string { return "keyword" }

func (k *Keyword) Route(query string, filters protocol.Filters, agents []Endpoint) []Endpoint {
	lower := strings.ToLower(query)

	domains := make([]string, 0, len(k.triggers))
	for d := range k.triggers {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	matched := map[string]bool{}
	for _, d := range domains {
		for _, trigger := range k.triggers[d] {
			if strings.Contains(lower, trigger) {
				matched[d] = true
				break
			}
		}
	}

	if len(matched) == 0 {
		// No trigger hit: defer to filter-based selection.
		return NewSilo().Route(query, filters, agents)
	}

	var out []Endpoint
	for _, a := range agents {
		if matched[strings.ToLower(a.Domain())] {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return agents
	}
	return out
}

// Broadcast routes every query to every agent.
type Broadcast struct{}

func NewBroadcast() *Broadcast { return &Broadcast{} }

func (*Broadcast) Name() string { return "broadcast" }

func (*Broadcast) Route(_ string, _ protocol.Filters, agents []Endpoint) []Endpoint {
	return agents
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
