package domains

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/agent"
	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

var nihrFundingStreams = []string{
	"Research for Patient Benefit",
	"Health Technology Assessment",
	"Programme Grants for Applied Research",
	"Efficacy and Mechanism Evaluation",
	"Health Services and Delivery Research",
	"Public Health Research",
	"Advanced Fellowships",
	"Career Development Fellowships",
}

// NewNIHR builds the National Institute for Health Research agent.
func NewNIHR(emb embedder.Embedder, col vectorstore.Collection, tune agent.Tuning, logger *zap.Logger) *agent.Base {
	a := agent.New(agent.Config{
		ID:             "uk_nihr",
		Name:           "NIHR Expert",
		Silo:           "uk",
		Domain:         "nihr",
		SemanticWeight: tune.SemanticWeight,
		KeywordWeight:  tune.KeywordWeight,
		OverFetch:      tune.OverFetch,
	}, emb, col, logger)

	a.SetDocumentBuilder(nihrDocument)
	return a
}

// nihrDocument embeds the research area and funding stream alongside the
// title and description, since health queries usually name one of the two.
func nihrDocument(g grants.Grant) string {
	parts := []string{g.Title, g.Description}
	if area, ok := g.Metadata["research_area"]; ok {
		parts = append(parts, fmt.Sprint(area))
	}
	if stream, ok := g.Metadata["funding_stream"]; ok {
		parts = append(parts, fmt.Sprint(stream))
	}
	return strings.Join(parts, " ")
}

// SampleNIHRGrants is the seed corpus indexed when no scrape source is
// configured.
func SampleNIHRGrants() []grants.Grant {
	return []grants.Grant{
		{
			GrantID:     "NIHR_RPB_2025_031",
			Title:       "Research for Patient Benefit: AI Diagnostics",
			Description: "Applied health research into AI-assisted clinical diagnostics with direct patient benefit",
			Provider:    "NIHR",
			Currency:    "GBP",
			AmountMin:   50_000,
			AmountMax:   500_000,
			Deadline:    "2025-09-17",
			Sectors:     []string{"Health & Life Sciences"},
			Metadata: map[string]any{
				"funding_stream": "Research for Patient Benefit",
				"research_area":  "clinical diagnostics",
			},
			SourceURL: "https://www.nihr.ac.uk/explore-nihr/funding-programmes/",
		},
		{
			GrantID:     "NIHR_HTA_2025_012",
			Title:       "Health Technology Assessment: Remote Monitoring",
			Description: "Evaluation of remote patient monitoring technologies in NHS primary care",
			Provider:    "NIHR",
			Currency:    "GBP",
			AmountMin:   100_000,
			AmountMax:   750_000,
			Deadline:    "2026-01-28",
			Metadata: map[string]any{
				"funding_stream": "Health Technology Assessment",
				"research_area":  "remote monitoring",
			},
			SourceURL: "https://www.nihr.ac.uk/explore-nihr/funding-programmes/",
		},
		{
			GrantID:     "NIHR_AF_2025_004",
			Title:       "Advanced Fellowship: Mental Health Research",
			Description: "Fellowship funding for post-doctoral researchers in mental health services research",
			Provider:    "NIHR",
			Currency:    "GBP",
			AmountMin:   300_000,
			AmountMax:   600_000,
			Metadata: map[string]any{
				"funding_stream": "Advanced Fellowships",
				"research_area":  "mental health",
			},
			SourceURL: "https://www.nihr.ac.uk/explore-nihr/funding-programmes/",
		},
	}
}
