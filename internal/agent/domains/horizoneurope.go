package domains

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/agent"
	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

var horizonEligibleCountries = []string{
	"Austria", "Belgium", "Bulgaria", "Croatia", "Cyprus",
	"Czech Republic", "Denmark", "Estonia", "Finland", "France",
	"Germany", "Greece", "Hungary", "Ireland", "Italy", "Latvia",
	"Lithuania", "Luxembourg", "Malta", "Netherlands", "Poland",
	"Portugal", "Romania", "Slovakia", "Slovenia", "Spain",
	"Sweden", "United Kingdom", // Associated country
}

// NewHorizonEurope builds the EU Horizon Europe agent.
func NewHorizonEurope(emb embedder.Embedder, col vectorstore.Collection, tune agent.Tuning, logger *zap.Logger) *agent.Base {
	a := agent.New(agent.Config{
		ID:             "eu_horizoneurope",
		Name:           "Horizon Europe Expert",
		Silo:           "eu",
		Domain:         "horizoneurope",
		SemanticWeight: tune.SemanticWeight,
		KeywordWeight:  tune.KeywordWeight,
		OverFetch:      tune.OverFetch,
	}, emb, col, logger)

	a.SetDocumentBuilder(horizonDocument)
	a.RegisterHandler(protocol.IntentAnalyze, horizonAnalyze)
	return a
}

// horizonDocument embeds scope, expected impact, programme, topics and the
// TRL window, which is how Horizon calls are usually searched.
func horizonDocument(g grants.Grant) string {
	parts := []string{g.Title, g.Description, g.Scope}
	if impact, ok := g.Metadata["expected_impact"]; ok {
		parts = append(parts, fmt.Sprint(impact))
	}
	if program, ok := g.Metadata["program"]; ok {
		parts = append(parts, fmt.Sprint(program))
	}
	if topics := stringSlice(g.Metadata["topics"]); len(topics) > 0 {
		parts = append(parts, strings.Join(topics, " "))
	}
	trlMin, hasMin := g.Metadata["trl_min"]
	trlMax, hasMax := g.Metadata["trl_max"]
	if hasMin || hasMax {
		parts = append(parts, fmt.Sprintf("TRL %v-%v", trlMin, trlMax))
	}
	return strings.Join(parts, " ")
}

// horizonAnalyze assesses an applicant against Horizon Europe's rules:
// country eligibility, organisation type, TRL stage and consortium needs.
func horizonAnalyze(_ context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	req, ok := env.Context.(*protocol.AnalyzeRequest)
	if !ok {
		return nil, &agent.CodedError{Code: protocol.CodeInvalidMessage, Message: "analyze requires a request payload"}
	}
	org := subMap(req.Subject, "organization_info")

	country := fmt.Sprint(org["country"])
	countryEligible := false
	for _, c := range horizonEligibleCountries {
		if strings.EqualFold(c, country) {
			countryEligible = true
			break
		}
	}

	orgType := strings.ToLower(fmt.Sprint(org["type"]))
	programs := horizonPrograms(orgType)
	trl := int(asFloat(org["trl"]))
	stage, recommended := horizonTRLStage(trl)

	details := map[string]any{
		"country_eligible": countryEligible,
		"country":          country,
		"organization": map[string]any{
			"type":              orgType,
			"suitable_programs": programs,
		},
		"trl_match": map[string]any{
			"trl":         trl,
			"stage":       stage,
			"recommended": recommended,
		},
		"consortium_guidance": consortiumGuidance(orgType),
	}

	var recommendation string
	confidence := "high"
	if !countryEligible {
		recommendation = "Check associated country status - may still be eligible"
		confidence = "low"
	} else {
		recommendation = fmt.Sprintf("%s applicants at TRL %d should target: %s", stage, trl, strings.Join(recommended, ", "))
	}

	return &protocol.AnalyzeResponse{
		AgentID:    "eu_horizoneurope",
		Insights:   []string{recommendation, consortiumGuidance(orgType)},
		Confidence: confidence,
		Details:    details,
	}, nil
}

func horizonPrograms(orgType string) string {
	suitable := map[string]string{
		"sme":              "EIC Accelerator, EIC Pathfinder",
		"startup":          "EIC Accelerator",
		"university":       "All programs",
		"research":         "EIC Pathfinder, ERC, MSCA",
		"large enterprise": "Horizon Collaborations",
	}
	for key, programs := range suitable {
		if strings.Contains(orgType, key) {
			return programs
		}
	}
	return "Horizon Collaborations"
}

func horizonTRLStage(trl int) (stage string, recommended []string) {
	switch {
	case trl <= 4:
		return "Early stage", []string{"EIC Pathfinder", "ERC"}
	case trl <= 6:
		return "Mid stage", []string{"EIC Transition", "Horizon Collaborations"}
	default:
		return "Market-ready", []string{"EIC Accelerator"}
	}
}

func consortiumGuidance(orgType string) string {
	if strings.Contains(orgType, "sme") || strings.Contains(orgType, "startup") {
		return "EIC Accelerator: Solo applications accepted. Collaborations optional."
	}
	return "Most Horizon programs require multi-partner consortia (3+ countries)"
}

// SampleHorizonGrants is the seed corpus indexed when no scrape source is
// configured.
func SampleHorizonGrants() []grants.Grant {
	return []grants.Grant{
		{
			GrantID:     "HE_EIC_ACC_2025_001",
			Title:       "EIC Accelerator: Deep Tech Scale-up",
			Description: "Blended finance for deep tech SMEs bringing breakthrough innovations to market",
			Provider:    "European Commission",
			Currency:    "EUR",
			AmountMin:   500_000,
			AmountMax:   2_500_000,
			Deadline:    "2025-10-01",
			Metadata: map[string]any{
				"program": "EIC Accelerator",
				"topics":  []string{"deep tech", "scale-up"},
				"trl_min": 6,
				"trl_max": 9,
			},
			SourceURL: "https://eic.ec.europa.eu/eic-funding-opportunities/calls-proposals_en",
		},
		{
			GrantID:     "HE_EIC_PF_2025_008",
			Title:       "EIC Pathfinder: Quantum Sensing",
			Description: "Early-stage research into radically new quantum sensing technologies",
			Provider:    "European Commission",
			Currency:    "EUR",
			AmountMin:   1_000_000,
			AmountMax:   4_000_000,
			Deadline:    "2026-03-04",
			Metadata: map[string]any{
				"program": "EIC Pathfinder",
				"topics":  []string{"quantum", "sensing"},
				"trl_min": 1,
				"trl_max": 4,
			},
			SourceURL: "https://ec.europa.eu/info/funding-tenders/opportunities/portal/screen/home",
		},
		{
			GrantID:     "HE_MSCA_2025_021",
			Title:       "Marie Sklodowska-Curie Doctoral Networks",
			Description: "Doctoral training networks across European research institutions and industry",
			Provider:    "European Commission",
			Currency:    "EUR",
			AmountMin:   2_000_000,
			AmountMax:   3_500_000,
			Metadata: map[string]any{
				"program": "Marie Sklodowska-Curie Actions",
				"topics":  []string{"doctoral training", "mobility"},
			},
			SourceURL: "https://ec.europa.eu/info/funding-tenders/opportunities/portal/screen/home",
		},
	}
}
