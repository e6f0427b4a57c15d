// Package domains builds the concrete funding agents: each one owns a
// provider's corpus, shapes the text that gets embedded for it, and knows
// that provider's eligibility rules.
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

// Innovate UK sector and scheme knowledge.
var (
	innovateUKSectors = []string{
		"Advanced Manufacturing",
		"Aerospace",
		"Agriculture",
		"AI & Data",
		"Clean Energy",
		"Creative Industries",
		"Digital",
		"Electronics",
		"Health & Life Sciences",
		"Transport",
	}

	innovateUKSource = "https://apply-for-innovation-funding.service.gov.uk/competition/search"
)

// NewInnovateUK builds the Innovate UK agent.
func NewInnovateUK(emb embedder.Embedder, col vectorstore.Collection, tune agent.Tuning, logger *zap.Logger) *agent.Base {
	a := agent.New(agent.Config{
		ID:             "uk_innovateuk",
		Name:           "Innovate UK Expert",
		Silo:           "uk",
		Domain:         "innovateuk",
		SemanticWeight: tune.SemanticWeight,
		KeywordWeight:  tune.KeywordWeight,
		OverFetch:      tune.OverFetch,
	}, emb, col, logger)

	a.SetDocumentBuilder(innovateUKDocument)
	a.RegisterHandler(protocol.IntentAnalyze, innovateUKAnalyze)
	return a
}

// innovateUKDocument embeds title, description, scope, sectors, grant type
// and eligibility keywords so scheme-specific queries land well.
func innovateUKDocument(g grants.Grant) string {
	parts := []string{g.Title, g.Description, g.Scope}
	if len(g.Sectors) > 0 {
		parts = append(parts, strings.Join(g.Sectors, " "))
	}
	if g.GrantType != "" {
		parts = append(parts, g.GrantType)
	}
	for _, v := range g.Eligibility {
		if v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, " ")
}

// innovateUKAnalyze assesses an applicant against Innovate UK's rules:
// UK registration, SME status, sector alignment and a suggested range.
func innovateUKAnalyze(_ context.Context, env *protocol.Envelope) (protocol.Payload, error) {
	req, ok := env.Context.(*protocol.AnalyzeRequest)
	if !ok {
		return nil, &agent.CodedError{Code: protocol.CodeInvalidMessage, Message: "analyze requires a request payload"}
	}
	company := subMap(req.Subject, "company_info")

	ukRegistered := isUKRegistered(company)
	sme := isSME(company)
	matched := matchSectors(stringSlice(req.Subject["sectors"]))
	rangeMin, rangeMax, scheme := suggestedRange(company)

	details := map[string]any{
		"is_uk_registered": ukRegistered,
		"is_sme":           sme,
		"suitable_sectors": matched,
		"funding_range": map[string]any{
			"min":            rangeMin,
			"max":            rangeMax,
			"suggested_type": scheme,
		},
	}

	var recommendation string
	confidence := "high"
	switch {
	case !ukRegistered:
		recommendation = "Not eligible - must be UK-registered"
	case !sme:
		recommendation = "Limited options - most Innovate UK grants target SMEs"
		confidence = "medium"
	case len(matched) > 0:
		recommendation = "Good fit! Suitable sectors: " + strings.Join(matched, ", ")
	default:
		recommendation = "Eligible - explore cross-sector opportunities"
		confidence = "medium"
	}

	return &protocol.AnalyzeResponse{
		AgentID:    "uk_innovateuk",
		Insights:   []string{recommendation},
		Confidence: confidence,
		Details:    details,
	}, nil
}

func isUKRegistered(company map[string]any) bool {
	location := strings.ToUpper(fmt.Sprint(company["location"]))
	return strings.Contains(location, "UK") || strings.Contains(location, "UNITED KINGDOM")
}

// isSME applies the EU SME definition: under 250 employees or under £50M
// annual revenue.
func isSME(company map[string]any) bool {
	employees := asFloat(company["employees"])
	revenue := asFloat(company["annual_revenue"])
	return employees < 250 || revenue < 50_000_000
}

func matchSectors(companySectors []string) []string {
	var matched []string
	for _, sector := range companySectors {
		lower := strings.ToLower(sector)
		for _, known := range innovateUKSectors {
			knownLower := strings.ToLower(known)
			if strings.Contains(knownLower, lower) || strings.Contains(lower, knownLower) {
				matched = append(matched, known)
			}
		}
	}
	return matched
}

func suggestedRange(company map[string]any) (min, max int, scheme string) {
	employees := asFloat(company["employees"])
	switch {
	case employees < 10:
		return 25_000, 250_000, "Smart Grant or Innovation Voucher"
	case employees < 50:
		return 100_000, 500_000, "Smart Grant"
	default:
		return 250_000, 2_000_000, "Smart Grant or CR&D"
	}
}

// SampleInnovateUKGrants is the seed corpus indexed when no scrape source is
// configured.
func SampleInnovateUKGrants() []grants.Grant {
	return []grants.Grant{
		{
			GrantID:     "IUK_SMART_2025_001",
			Title:       "Smart Grant: AI Innovation",
			Description: "Funding for AI-driven products and services with strong commercial potential",
			Provider:    "Innovate UK",
			GrantType:   "Smart Grant",
			Currency:    "GBP",
			AmountMin:   25_000,
			AmountMax:   2_000_000,
			Deadline:    "2025-12-31",
			Sectors:     []string{"AI & Data", "Digital"},
			Eligibility: map[string]any{
				"company_type":  "Limited Company",
				"location":      "UK",
				"max_employees": 250,
			},
			SourceURL: innovateUKSource,
		},
		{
			GrantID:     "IUK_CRD_2025_014",
			Title:       "Collaborative R&D: Net Zero Manufacturing",
			Description: "Collaborative research and development funding for decarbonising manufacturing supply chains",
			Provider:    "Innovate UK",
			GrantType:   "CR&D",
			Currency:    "GBP",
			AmountMin:   100_000,
			AmountMax:   1_000_000,
			Deadline:    "2026-03-31",
			Sectors:     []string{"Advanced Manufacturing", "Clean Energy"},
			Eligibility: map[string]any{"location": "UK", "consortium": "at least one SME"},
			SourceURL:   innovateUKSource,
		},
		{
			GrantID:     "IUK_KTP_2025_007",
			Title:       "Knowledge Transfer Partnership: Digital Health",
			Description: "Partnerships between businesses and academia to embed digital health expertise",
			Provider:    "Innovate UK",
			GrantType:   "Knowledge Transfer Partnership",
			Currency:    "GBP",
			AmountMin:   80_000,
			AmountMax:   300_000,
			Sectors:     []string{"Health & Life Sciences", "Digital"},
			Eligibility: map[string]any{"location": "UK"},
			SourceURL:   innovateUKSource,
		},
	}
}

// Shared payload helpers for analyze handlers.

func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	return map[string]any{}
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, fmt.Sprint(e))
		}
		return out
	}
	return nil
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
