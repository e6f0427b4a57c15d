package domains

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/agent"
	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

// domainHint is the rule-based knowledge used to steer queries toward the
// funding bodies most likely to hold matches.
type domainHint struct {
	display   string
	keywords  []string
	minAmount int
	maxAmount int
	focus     string
}

var smeDomainHints = map[string]domainHint{
	"innovateuk": {
		display:   "Innovate UK",
		keywords:  []string{"innovation", "smart grant", "cr&d", "uk", "sme", "startup"},
		minAmount: 25_000,
		maxAmount: 2_000_000,
		focus:     "Commercial innovation, UK SMEs",
	},
	"horizoneurope": {
		display:   "Horizon Europe",
		keywords:  []string{"eic", "horizon", "european", "international", "consortium"},
		minAmount: 500_000,
		maxAmount: 2_500_000,
		focus:     "Research excellence, international collaboration",
	},
	"nihr": {
		display:   "NIHR",
		keywords:  []string{"health", "clinical", "patient", "nhs", "medical"},
		minAmount: 50_000,
		maxAmount: 500_000,
		focus:     "Health research, patient benefit",
	},
	"ukri": {
		display:   "UKRI",
		keywords:  []string{"research council", "epsrc", "esrc", "fundamental research"},
		minAmount: 100_000,
		maxAmount: 1_000_000,
		focus:     "Fundamental research, academic excellence",
	},
}

// NewSMEContext builds the expert-hints agent. It stores no grants; its
// ANALYZE handler enriches queries with domain suggestions and funding
// expectations that the orchestrator folds into routing.
func NewSMEContext(logger *zap.Logger) *agent.Base {
	a := agent.New(agent.Config{
		ID:     "sme_context",
		Name:   "SME Context Provider",
		Silo:   "all",
		Domain: "meta",
	}, embedder.NewHashingEmbedder(16), vectorstore.NewMemory("all_meta"), logger)

	a.RegisterHandler(protocol.IntentAnalyze, smeContextAnalyze)
	return a
}

func smeContextAnalyze(_ context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	req, ok := env.Context.(*protocol.AnalyzeRequest)
	if !ok {
		return nil, &agent.CodedError{Code: protocol.CodeInvalidMessage, Message: "analyze requires a request payload"}
	}

	suggested, insights := ExpertHints(req.Query)
	return &protocol.AnalyzeResponse{
		AgentID:    "sme_context",
		Insights:   insights,
		Confidence: hintConfidence(suggested),
		Details:    map[string]any{"suggested_domains": suggested},
	}, nil
}

// ExpertHints matches a query against the rule base and returns the
// suggested domains (strongest first) with one insight per match. A query
// matching nothing gets the generic guidance and no domain steer.
func ExpertHints(query string) (domains []string, insights []string) {
	lower := strings.ToLower(query)

	type match struct {
		domain string
		hits   int
	}
	var matched []match
	for domain, hint := range smeDomainHints {
		hits := 0
		for _, kw := range hint.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > 0 {
			matched = append(matched, match{domain: domain, hits: hits})
		}
	}

	if len(matched) == 0 {
		return nil, []string{"Consider all UK funding bodies (Innovate UK, NIHR, UKRI) and Horizon Europe for international opportunities."}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].hits != matched[j].hits {
			return matched[i].hits > matched[j].hits
		}
		return matched[i].domain < matched[j].domain
	})

	// Top two matches keep the steer focused.
	if len(matched) > 2 {
		matched = matched[:2]
	}
	for _, m := range matched {
		hint := smeDomainHints[m.domain]
		domains = append(domains, m.domain)
		insights = append(insights, fmt.Sprintf(
			"%s: %s. Typical range: £%s-£%s.",
			hint.display, hint.focus,
			formatAmount(hint.minAmount), formatAmount(hint.maxAmount),
		))
	}
	return domains, insights
}

func hintConfidence(domains []string) string {
	switch len(domains) {
	case 0:
		return "low"
	case 1:
		return "high"
	default:
		return "medium"
	}
}

func formatAmount(n int) string {
	s := fmt.Sprint(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
