package domains

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grantmesh/grantmesh/internal/agent"
	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

func TestInnovateUKAnalyzeEligibleSME(t *testing.T) {
	a := NewInnovateUK(embedder.NewHashingEmbedder(32), vectorstore.NewMemory("uk_innovateuk"), agent.Tuning{}, zaptest.NewLogger(t))
	a.Activate()

	env := protocol.NewAnalyzeRequest("orchestrator", a.ID(), "AI grants", protocol.Filters{})
	req := env.Context.(*protocol.AnalyzeRequest)
	req.Subject = map[string]any{
		"company_info": map[string]any{
			"location":       "UK",
			"employees":      15,
			"annual_revenue": 1_000_000,
		},
		"sectors": []string{"Artificial Intelligence", "Digital"},
	}

	reply := a.Dispatch(context.Background(), env)
	require.Equal(t, protocol.KindResponse, reply.Kind)

	resp := reply.Context.(*protocol.AnalyzeResponse)
	assert.Equal(t, "uk_innovateuk", resp.AgentID)
	assert.Equal(t, "high", resp.Confidence)
	require.NotEmpty(t, resp.Insights)
	assert.Contains(t, resp.Insights[0], "Good fit")
	assert.Equal(t, true, resp.Details["is_uk_registered"])
	assert.Equal(t, true, resp.Details["is_sme"])
	assert.Contains(t, resp.Details["suitable_sectors"], "Digital")
}

func TestInnovateUKAnalyzeNonUK(t *testing.T) {
	a := NewInnovateUK(embedder.NewHashingEmbedder(32), vectorstore.NewMemory("uk_innovateuk"), agent.Tuning{}, zaptest.NewLogger(t))
	a.Activate()

	env := protocol.NewAnalyzeRequest("orchestrator", a.ID(), "grants", protocol.Filters{})
	env.Context.(*protocol.AnalyzeRequest).Subject = map[string]any{
		"company_info": map[string]any{"location": "Germany", "employees": 20},
	}

	reply := a.Dispatch(context.Background(), env)
	resp := reply.Context.(*protocol.AnalyzeResponse)
	assert.Contains(t, resp.Insights[0], "must be UK-registered")
}

func TestInnovateUKFundingRangeScalesWithSize(t *testing.T) {
	min, max, scheme := suggestedRange(map[string]any{"employees": 5})
	assert.Equal(t, 25_000, min)
	assert.Equal(t, 250_000, max)
	assert.Contains(t, scheme, "Innovation Voucher")

	min, max, _ = suggestedRange(map[string]any{"employees": 120})
	assert.Equal(t, 250_000, min)
	assert.Equal(t, 2_000_000, max)
}

func TestHorizonAnalyzeTRLRouting(t *testing.T) {
	a := NewHorizonEurope(embedder.NewHashingEmbedder(32), vectorstore.NewMemory("eu_horizoneurope"), agent.Tuning{}, zaptest.NewLogger(t))
	a.Activate()

	env := protocol.NewAnalyzeRequest("orchestrator", a.ID(), "deep tech funding", protocol.Filters{})
	env.Context.(*protocol.AnalyzeRequest).Subject = map[string]any{
		"organization_info": map[string]any{
			"country": "France",
			"type":    "SME",
			"trl":     8,
		},
	}

	reply := a.Dispatch(context.Background(), env)
	require.Equal(t, protocol.KindResponse, reply.Kind)

	resp := reply.Context.(*protocol.AnalyzeResponse)
	assert.Contains(t, resp.Insights[0], "EIC Accelerator")
	assert.Contains(t, resp.Insights[1], "Solo applications")
	assert.Equal(t, true, resp.Details["country_eligible"])
}

func TestHorizonAnalyzeIneligibleCountry(t *testing.T) {
	a := NewHorizonEurope(embedder.NewHashingEmbedder(32), vectorstore.NewMemory("eu_horizoneurope"), agent.Tuning{}, zaptest.NewLogger(t))
	a.Activate()

	env := protocol.NewAnalyzeRequest("orchestrator", a.ID(), "funding", protocol.Filters{})
	env.Context.(*protocol.AnalyzeRequest).Subject = map[string]any{
		"organization_info": map[string]any{"country": "Brazil", "type": "university", "trl": 3},
	}

	reply := a.Dispatch(context.Background(), env)
	resp := reply.Context.(*protocol.AnalyzeResponse)
	assert.Equal(t, "low", resp.Confidence)
	assert.Contains(t, resp.Insights[0], "associated country")
}

func TestSMEContextExpertHints(t *testing.T) {
	domains, insights := ExpertHints("clinical AI grants for NHS patient diagnostics")
	require.NotEmpty(t, domains)
	assert.Equal(t, "nihr", domains[0], "three keyword hits beat everything else")
	assert.Contains(t, insights[0], "NIHR")

	domains, insights = ExpertHints("underwater basket weaving")
	assert.Empty(t, domains)
	require.Len(t, insights, 1)
	assert.Contains(t, insights[0], "Consider all UK funding bodies")
}

func TestSMEContextAnalyzeEnvelope(t *testing.T) {
	a := NewSMEContext(zaptest.NewLogger(t))
	a.Activate()

	env := protocol.NewAnalyzeRequest("orchestrator", a.ID(), "smart grant for uk sme innovation", protocol.Filters{})
	reply := a.Dispatch(context.Background(), env)
	require.Equal(t, protocol.KindResponse, reply.Kind)

	resp := reply.Context.(*protocol.AnalyzeResponse)
	suggested := resp.Details["suggested_domains"].([]string)
	assert.Contains(t, suggested, "innovateuk")
}

func TestDomainAgentsSearchTheirSeedCorpus(t *testing.T) {
	ctx := context.Background()

	a := NewNIHR(embedder.NewHashingEmbedder(64), vectorstore.NewMemory("uk_nihr"), agent.Tuning{}, zaptest.NewLogger(t))
	n, err := a.IndexBatch(ctx, SampleNIHRGrants())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	a.Activate()

	results, err := a.Search(ctx, "AI clinical diagnostics patient benefit", nil, 2, protocol.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "NIHR_RPB_2025_031", results[0].GrantID)
	assert.Equal(t, "uk", results[0].Silo)
	assert.Equal(t, "nihr", results[0].Domain)
}
