package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/grantmesh/grantmesh/internal/embedder"
	"github.com/grantmesh/grantmesh/internal/grants"
	"github.com/grantmesh/grantmesh/internal/protocol"
	"github.com/grantmesh/grantmesh/internal/vectorstore"
)

// countingCollection wraps Memory and counts backend calls.
type countingCollection struct {
	*vectorstore.Memory
	upserts int
	queries int
}

func (c *countingCollection) Upsert(ctx context.Context, pts []vectorstore.Point) error {
	c.upserts++
	return c.Memory.Upsert(ctx, pts)
}

func (c *countingCollection) Query(ctx context.Context, vec []float32, limit int, where map[string]any) ([]vectorstore.Point, error) {
	c.queries++
	return c.Memory.Query(ctx, vec, limit, where)
}

func newTestAgent(t *testing.T) (*Base, *countingCollection) {
	t.Helper()
	col := &countingCollection{Memory: vectorstore.NewMemory("funding_test")}
	a := New(Config{
		ID:     "funding_test",
		Name:   "Test Funding Agent",
		Silo:   "funding",
		Domain: "test",
	}, embedder.NewHashingEmbedder(64), col, zaptest.NewLogger(t))
	a.Activate()
	return a, col
}

func seedGrants() []grants.Grant {
	return []grants.Grant{
		{
			GrantID:     "IUK_SMART_001",
			Title:       "Smart Grants for AI startups",
			Description: "Funding for disruptive artificial intelligence innovation in the UK",
			Deadline:    "2025-06-30",
		},
		{
			GrantID:     "IUK_NET_002",
			Title:       "Net Zero Manufacturing",
			Description: "Decarbonisation funding for manufacturing supply chains",
			Deadline:    "2025-03-31",
		},
		{
			GrantID:     "IUK_BIO_003",
			Title:       "Biomedical Catalyst",
			Description: "Grants for clinical diagnostics and medical devices",
		},
	}
}

func TestIndexBatchAndHybridSearch(t *testing.T) {
	a, col := newTestAgent(t)
	ctx := context.Background()

	n, err := a.IndexBatch(ctx, seedGrants())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, col.upserts, "one upsert per batch")

	results, err := a.Search(ctx, "AI startups funding", nil, 2, protocol.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "IUK_SMART_001", results[0].GrantID)
	assert.LessOrEqual(t, len(results), 2)

	top := results[0]
	assert.Greater(t, top.RelevanceScore, 0.0)
	assert.Greater(t, top.KeywordScore, 0.0)
	assert.InDelta(t, 0.7*top.SemanticScore+0.3*top.KeywordScore, top.RelevanceScore, 1e-9)
	assert.Equal(t, "funding_test", top.AgentSource)
	assert.Equal(t, "funding_test", top.AgentID, "stamped at index time")
}

func TestKeywordScoreCountsWholeTerms(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := a.IndexBatch(ctx, []grants.Grant{{
		GrantID:     "IUK_MAINT_004",
		Title:       "Routine maintenance",
		Description: "Routine maintenance of machinery",
	}})
	require.NoError(t, err)

	results, err := a.Search(ctx, "ai", nil, 5, protocol.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Zero(t, results[0].KeywordScore, `"ai" inside "maintenance" is not a term hit`)

	results, err = a.Search(ctx, "routine machinery upgrades", nil, 5, protocol.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 2.0/3.0, results[0].KeywordScore, 1e-9, "two of three query terms present")
}

func TestRetuneChangesBlend(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := a.IndexBatch(ctx, seedGrants())
	require.NoError(t, err)

	a.Retune(Tuning{SemanticWeight: 0.2, KeywordWeight: 0.8, OverFetch: 5})
	assert.Equal(t, 5, a.Tuning().OverFetch)

	results, err := a.Search(ctx, "AI startups funding", nil, 2, protocol.Filters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	top := results[0]
	assert.InDelta(t, 0.2*top.SemanticScore+0.8*top.KeywordScore, top.RelevanceScore, 1e-9)

	// A zero pair keeps the previous weights.
	a.Retune(Tuning{})
	tune := a.Tuning()
	assert.Equal(t, 0.2, tune.SemanticWeight)
	assert.Equal(t, 5, tune.OverFetch)
}

func TestSearchFiltersRestrictCorpus(t *testing.T) {
	a, _ := newTestAgent(t) // stamps silo "funding"
	ctx := context.Background()

	_, err := a.IndexBatch(ctx, seedGrants())
	require.NoError(t, err)

	results, err := a.Search(ctx, "funding", nil, 10, protocol.Filters{Silos: []string{"eu"}})
	require.NoError(t, err)
	assert.Empty(t, results, "foreign silo filter matches nothing here")

	results, err = a.Search(ctx, "funding", nil, 10, protocol.Filters{Silos: []string{"FUNDING"}})
	require.NoError(t, err)
	assert.Len(t, results, 3, "silo filter is case-insensitive")
}

func TestFetchPagesInIndexedOrder(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := a.IndexBatch(ctx, seedGrants())
	require.NoError(t, err)

	env := protocol.New(protocol.KindQuery, protocol.IntentFetch, "orchestrator", a.ID(),
		&protocol.FetchRequest{Limit: 1, Offset: 1})
	reply := a.Dispatch(ctx, env)
	require.Equal(t, protocol.KindResponse, reply.Kind)

	res := reply.Context.(*protocol.FetchResponse)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Grants, 1)
	assert.Equal(t, "IUK_NET_002", res.Grants[0].GrantID)
}

func TestIndexBatchEmptyIsNoOp(t *testing.T) {
	a, col := newTestAgent(t)

	n, err := a.IndexBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, col.upserts, "empty batch never touches the backend")
}

func TestIndexBatchPartialFailure(t *testing.T) {
	a, _ := newTestAgent(t)

	batch := []grants.Grant{
		{GrantID: "OK_1", Title: "Valid", Description: "Has everything"},
		{GrantID: "", Title: "No ID", Description: "Missing identifier"},
		{GrantID: "BAD_DATE", Title: "Bad date", Description: "x", Deadline: "31/03/2025"},
	}
	n, err := a.IndexBatch(context.Background(), batch)
	assert.Equal(t, 1, n, "valid grants still land")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing grant_id")
	assert.Contains(t, err.Error(), "ISO date")
}

func TestDispatchNoHandler(t *testing.T) {
	a, _ := newTestAgent(t)

	env := protocol.New(protocol.KindCommand, protocol.IntentUpdate, "orchestrator", a.ID(), &protocol.UpdateCommand{Action: "reload"})
	reply := a.Dispatch(context.Background(), env)

	assert.Equal(t, protocol.KindError, reply.Kind)
	ep := reply.Context.(*protocol.ErrorPayload)
	assert.Equal(t, protocol.CodeNoHandler, ep.Code)
	assert.Equal(t, env.CorrelationID, reply.CorrelationID)
	assert.Equal(t, a.ID(), reply.Sender)
}

func TestDispatchInvalidMessage(t *testing.T) {
	a, _ := newTestAgent(t)

	env := protocol.NewSearchQuery("", "anything", 5, protocol.Filters{})
	reply := a.Dispatch(context.Background(), env)

	assert.Equal(t, protocol.KindError, reply.Kind)
	assert.Equal(t, protocol.CodeInvalidMessage, reply.Context.(*protocol.ErrorPayload).Code)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	a, _ := newTestAgent(t)
	a.RegisterHandler(protocol.IntentUpdate, func(ctx context.Context, env *protocol.Envelope) (protocol.Payload, error) {
		panic("boom")
	})

	env := protocol.New(protocol.KindCommand, protocol.IntentUpdate, "orchestrator", a.ID(), &protocol.UpdateCommand{})
	reply := a.Dispatch(context.Background(), env)

	assert.Equal(t, protocol.KindError, reply.Kind)
	ep := reply.Context.(*protocol.ErrorPayload)
	assert.Equal(t, protocol.CodeProcessingError, ep.Code)
	assert.Contains(t, ep.Message, "boom")

	// Agent survives and keeps serving.
	status := a.Dispatch(context.Background(), protocol.NewStatusRequest("orchestrator", a.ID()))
	assert.Equal(t, protocol.KindResponse, status.Kind)
}

func TestDispatchWhileOffline(t *testing.T) {
	a, _ := newTestAgent(t)
	a.Shutdown()

	reply := a.Dispatch(context.Background(), protocol.NewStatusRequest("orchestrator", a.ID()))
	assert.Equal(t, protocol.KindError, reply.Kind)
	assert.Equal(t, protocol.CodeUpstreamUnavailable, reply.Context.(*protocol.ErrorPayload).Code)
}

func TestStatusCounters(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	_, err := a.IndexBatch(ctx, seedGrants())
	require.NoError(t, err)

	a.Dispatch(ctx, protocol.NewStatusRequest("orchestrator", a.ID()))
	a.Dispatch(ctx, protocol.New(protocol.KindCommand, protocol.IntentUpdate, "orchestrator", a.ID(), nil)) // NO_HANDLER

	st := a.Status()
	assert.Equal(t, int64(3), st.DocumentsIn)
	assert.Equal(t, int64(2), st.QueriesSeen)
	assert.Equal(t, int64(1), st.ErrorCount)
	assert.Equal(t, StateActive, st.State)
	assert.Contains(t, st.Capabilities, "search")
	assert.NotContains(t, st.Capabilities, "scrape")
}

type stubScraper struct {
	grants []grants.Grant
	err    error
}

func (s *stubScraper) Scrape(_ context.Context, _ string, _ int) ([]grants.Grant, error) {
	return s.grants, s.err
}

func TestScrapeHandler(t *testing.T) {
	a, _ := newTestAgent(t)
	a.SetScraper(&stubScraper{grants: seedGrants()[:2]})

	env := protocol.NewScrapeCommand("orchestrator", a.ID(), "https://example.org/grants", 1)
	reply := a.Dispatch(context.Background(), env)

	require.Equal(t, protocol.KindResponse, reply.Kind)
	res := reply.Context.(*protocol.ScrapeResult)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, 2, res.Indexed)
	assert.Contains(t, a.Status().Capabilities, "scrape")
}

func TestScrapeUpstreamFailure(t *testing.T) {
	a, _ := newTestAgent(t)
	a.SetScraper(&stubScraper{err: errors.New("connection refused")})

	reply := a.Dispatch(context.Background(), protocol.NewScrapeCommand("orchestrator", a.ID(), "https://example.org", 1))
	assert.Equal(t, protocol.KindError, reply.Kind)
	assert.Equal(t, protocol.CodeUpstreamUnavailable, reply.Context.(*protocol.ErrorPayload).Code)
}

func TestValidateHandler(t *testing.T) {
	a, _ := newTestAgent(t)

	env := protocol.New(protocol.KindQuery, protocol.IntentValidate, "orchestrator", a.ID(), &protocol.ValidateRequest{
		Grant: grants.Grant{GrantID: "X", Title: "t", Description: "d", AmountMin: 100, AmountMax: 50},
	})
	reply := a.Dispatch(context.Background(), env)

	require.Equal(t, protocol.KindResponse, reply.Kind)
	vr := reply.Context.(*protocol.ValidateResponse)
	assert.False(t, vr.Valid)
	assert.Contains(t, vr.Problems, "amount_min exceeds amount_max")
}

func TestHistoryRecordsConversation(t *testing.T) {
	a, _ := newTestAgent(t)

	env := protocol.NewStatusRequest("orchestrator", a.ID())
	a.Dispatch(context.Background(), env)

	conv := a.History().Conversation(env.CorrelationID)
	require.Len(t, conv, 2, "request and reply share the correlation id")
	assert.Equal(t, protocol.KindQuery, conv[0].Kind)
	assert.Equal(t, protocol.KindResponse, conv[1].Kind)
}
