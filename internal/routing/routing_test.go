package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grantmesh/grantmesh/internal/protocol"
)

type ep struct{ id, silo, domain string }

func (e ep) ID() string     { return e.id }
func (e ep) Silo() string   { return e.silo }
func (e ep) Domain() string { return e.domain }

var mesh = []Endpoint{
	ep{"uk_innovateuk", "uk", "innovateuk"},
	ep{"uk_nihr", "uk", "nihr"},
	ep{"eu_horizoneurope", "eu", "horizoneurope"},
}

func ids(eps []Endpoint) []string {
	out := make([]string, len(eps))
	for i, e := range eps {
		out[i] = e.ID()
	}
	return out
}

func TestSiloRouting(t *testing.T) {
	s := NewSilo()
	assert.Equal(t, "silo", s.Name())

	t.Run("no filters selects everyone", func(t *testing.T) {
		assert.Len(t, s.Route("q", protocol.Filters{}, mesh), 3)
	})

	t.Run("silo filter", func(t *testing.T) {
		got := s.Route("q", protocol.Filters{Silos: []string{"UK"}}, mesh)
		assert.ElementsMatch(t, []string{"uk_innovateuk", "uk_nihr"}, ids(got))
	})

	t.Run("silo and domain filters conjoin", func(t *testing.T) {
		got := s.Route("q", protocol.Filters{Silos: []string{"uk"}, Domains: []string{"nihr"}}, mesh)
		assert.Equal(t, []string{"uk_nihr"}, ids(got))
	})

	t.Run("unmatched filter falls back to all", func(t *testing.T) {
		got := s.Route("q", protocol.Filters{Silos: []string{"mars"}}, mesh)
		assert.Len(t, got, 3, "routing never returns an empty selection while agents exist")
	})
}

func TestKeywordRouting(t *testing.T) {
	k := NewKeyword(nil)
	assert.Equal(t, "keyword", k.Name())

	t.Run("trigger selects the domain", func(t *testing.T) {
		got := k.Route("horizon opportunities", protocol.Filters{}, mesh)
		assert.Equal(t, []string{"eu_horizoneurope"}, ids(got))
	})

	t.Run("multiple triggers select multiple domains", func(t *testing.T) {
		got := k.Route("clinical trials and smart grant funding", protocol.Filters{}, mesh)
		assert.ElementsMatch(t, []string{"uk_innovateuk", "uk_nihr"}, ids(got))
	})

	t.Run("no trigger defers to filters", func(t *testing.T) {
		got := k.Route("generic funding question", protocol.Filters{Silos: []string{"eu"}}, mesh)
		assert.Equal(t, []string{"eu_horizoneurope"}, ids(got))
	})

	t.Run("no trigger and no filters selects everyone", func(t *testing.T) {
		assert.Len(t, k.Route("generic funding question", protocol.Filters{}, mesh), 3)
	})

	t.Run("custom triggers", func(t *testing.T) {
		custom := NewKeyword(map[string][]string{"nihr": {"hospital"}})
		got := custom.Route("hospital equipment", protocol.Filters{}, mesh)
		assert.Equal(t, []string{"uk_nihr"}, ids(got))
	})

	t.Run("trigger for an unregistered domain falls back to all", func(t *testing.T) {
		custom := NewKeyword(map[string][]string{"nsf": {"nsf"}})
		got := custom.Route("nsf grants", protocol.Filters{}, mesh)
		assert.Len(t, got, 3)
	})
}

func TestBroadcastRouting(t *testing.T) {
	b := NewBroadcast()
	assert.Equal(t, "broadcast", b.Name())
	got := b.Route("anything", protocol.Filters{Silos: []string{"uk"}}, mesh)
	assert.Len(t, got, 3, "broadcast ignores filters")
}
