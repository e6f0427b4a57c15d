package grants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenMetadataDropsNilAndSerializesNested(t *testing.T) {
	flat := FlattenMetadata(map[string]any{
		"title":    "Smart Grants Spring",
		"amount":   500000.0,
		"active":   true,
		"nothing":  nil,
		"sectors":  []any{"AI", "Digital"},
		"criteria": map[string]any{"location": "UK"},
	})

	assert.Equal(t, "Smart Grants Spring", flat["title"])
	assert.Equal(t, 500000.0, flat["amount"])
	assert.Equal(t, true, flat["active"])
	assert.NotContains(t, flat, "nothing")
	assert.Equal(t, `["AI","Digital"]`, flat["sectors"])
	assert.Equal(t, `{"location":"UK"}`, flat["criteria"])
}

func TestMetadataRoundTripPreservesNestedValues(t *testing.T) {
	in := map[string]any{
		"sectors":     []any{"AI", "Clinical"},
		"eligibility": map[string]any{"max_employees": 250.0, "location": "UK"},
		"title":       "Research for Patient Benefit",
	}

	out := ExpandMetadata(FlattenMetadata(in))
	assert.Equal(t, in, out)
}

func TestExpandMetadataKeepsUnparseableStrings(t *testing.T) {
	out := ExpandMetadata(map[string]any{
		"note":   "[not json",
		"bucket": "{broken",
		"plain":  "fine",
	})
	assert.Equal(t, "[not json", out["note"])
	assert.Equal(t, "{broken", out["bucket"])
	assert.Equal(t, "fine", out["plain"])
}

func TestGrantMetadataRoundTrip(t *testing.T) {
	g := Grant{
		GrantID:     "IUK_SMART_2025_001",
		Title:       "Smart Grants Spring",
		Description: "Funding for disruptive innovation",
		Provider:    "Innovate UK",
		Currency:    "GBP",
		AmountMin:   25000,
		AmountMax:   2000000,
		Deadline:    "2025-03-31",
		Sectors:     []string{"AI", "Digital"},
		Eligibility: map[string]any{"location": "UK", "max_employees": 250.0},
	}
	g.RelevanceScore = 0.9 // transient, must not survive storage

	meta := g.ToMetadata()
	require.NotNil(t, meta)
	assert.IsType(t, "", meta["sectors"], "nested list must be serialized")
	assert.NotContains(t, meta, "relevance_score")

	back, err := FromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, g.GrantID, back.GrantID)
	assert.Equal(t, g.Sectors, back.Sectors)
	assert.Equal(t, g.Eligibility, back.Eligibility)
	assert.Equal(t, g.AmountMax, back.AmountMax)
	assert.Zero(t, back.RelevanceScore)
}

func TestSortDeadlineSentinel(t *testing.T) {
	g := Grant{}
	assert.Equal(t, DeadlineSentinel, g.SortDeadline())
	g.Deadline = "2025-05-31"
	assert.Equal(t, "2025-05-31", g.SortDeadline())
}
