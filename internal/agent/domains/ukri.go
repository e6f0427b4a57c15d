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

// UK Research and Innovation councils.
var ukriCouncils = []string{
	"EPSRC", // Engineering and Physical Sciences
	"ESRC",  // Economic and Social Research
	"MRC",   // Medical Research
	"NERC",  // Natural Environment Research
	"STFC",  // Science and Technology Facilities
	"AHRC",  // Arts and Humanities Research
	"BBSRC", // Biotechnology and Biological Sciences
}

// NewUKRI builds the UK Research and Innovation agent.
func NewUKRI(emb embedder.Embedder, col vectorstore.Collection, tune agent.Tuning, logger *zap.Logger) *agent.Base {
	a := agent.New(agent.Config{
		ID:             "uk_ukri",
		Name:           "UKRI Expert",
		Silo:           "uk",
		Domain:         "ukri",
		SemanticWeight: tune.SemanticWeight,
		KeywordWeight:  tune.KeywordWeight,
		OverFetch:      tune.OverFetch,
	}, emb, col, logger)

	a.SetDocumentBuilder(ukriDocument)
	return a
}

func ukriDocument(g grants.Grant) string {
	parts := []string{g.Title, g.Description}
	if council, ok := g.Metadata["council"]; ok {
		parts = append(parts, fmt.Sprint(council))
	}
	return strings.Join(parts, " ")
}

// SampleUKRIGrants is the seed corpus indexed when no scrape source is
// configured.
func SampleUKRIGrants() []grants.Grant {
	return []grants.Grant{
		{
			GrantID:     "UKRI_EPSRC_2025_118",
			Title:       "EPSRC Quantum Technologies Programme",
			Description: "Fundamental research grants for quantum computing, sensing and communications",
			Provider:    "UKRI",
			Currency:    "GBP",
			AmountMin:   100_000,
			AmountMax:   1_000_000,
			Deadline:    "2025-11-05",
			Metadata:    map[string]any{"council": "EPSRC"},
			SourceURL:   "https://www.ukri.org/opportunity/",
		},
		{
			GrantID:     "UKRI_NERC_2025_042",
			Title:       "NERC Climate Resilience Research",
			Description: "Natural environment research into climate adaptation and marine ecosystems",
			Provider:    "UKRI",
			Currency:    "GBP",
			AmountMin:   200_000,
			AmountMax:   800_000,
			Deadline:    "2026-02-11",
			Metadata:    map[string]any{"council": "NERC"},
			SourceURL:   "https://www.ukri.org/opportunity/",
		},
		{
			GrantID:     "UKRI_ESRC_2025_009",
			Title:       "ESRC Secondary Data Analysis Initiative",
			Description: "Economic and social research using existing large-scale datasets",
			Provider:    "UKRI",
			Currency:    "GBP",
			AmountMin:   100_000,
			AmountMax:   300_000,
			Metadata:    map[string]any{"council": "ESRC"},
			SourceURL:   "https://www.ukri.org/opportunity/",
		},
	}
}
