package grants

import (
	"encoding/json"
	"strings"
	"time"
)

// DeadlineSentinel sorts grants without a deadline after everything else.
const DeadlineSentinel = "9999-12-31"

// Grant is a single funding opportunity owned by exactly one agent.
// Deadline is an ISO date (YYYY-MM-DD); an empty deadline sorts last.
type Grant struct {
	GrantID     string  `json:"grant_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Provider    string  `json:"provider,omitempty"`
	Silo        string  `json:"silo,omitempty"`
	Domain      string  `json:"domain,omitempty"`
	GrantType   string  `json:"grant_type,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	AmountMin   float64 `json:"amount_min,omitempty"`
	AmountMax   float64 `json:"amount_max,omitempty"`
	Deadline    string  `json:"deadline,omitempty"`

	Sectors           []string       `json:"sectors,omitempty"`
	Eligibility       map[string]any `json:"eligibility,omitempty"`
	Scope             string         `json:"scope,omitempty"`
	SourceURL         string         `json:"source_url,omitempty"`
	SupplementaryURLs []string       `json:"supplementary_urls,omitempty"`
	DocumentURLs      []string       `json:"document_urls,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`

	// Attached at index time by the owning agent.
	AgentID   string `json:"agent_id,omitempty"`
	IndexedAt string `json:"indexed_at,omitempty"`

	// Attached by search and re-ranking; never stored in the index.
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	SemanticScore  float64 `json:"semantic_score,omitempty"`
	KeywordScore   float64 `json:"keyword_score,omitempty"`
	AgentSource    string  `json:"agent_source,omitempty"`
}

// SortDeadline returns the deadline used for ordering, substituting the
// sentinel for grants without one.
func (g *Grant) SortDeadline() string {
	if g.Deadline == "" {
		return DeadlineSentinel
	}
	return g.Deadline
}

// SearchText is the lowercased text used for keyword-overlap scoring.
func (g *Grant) SearchText() string {
	return strings.ToLower(g.Title + " " + g.Description)
}

// ToMetadata converts the grant into the flat, primitive-only metadata map
// the vector index accepts. Nested fields are serialized to JSON text; score
// fields are transient and dropped.
func (g *Grant) ToMetadata() map[string]any {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	delete(m, "relevance_score")
	delete(m, "semantic_score")
	delete(m, "keyword_score")
	delete(m, "agent_source")
	return FlattenMetadata(m)
}

// FromMetadata reconstructs a grant from a stored metadata map, expanding
// any JSON-serialized nested values first.
func FromMetadata(m map[string]any) (Grant, error) {
	expanded := ExpandMetadata(m)
	raw, err := json.Marshal(expanded)
	if err != nil {
		return Grant{}, err
	}
	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Stamp attaches the owning agent's identity and the indexing timestamp.
func (g *Grant) Stamp(agentID, silo, domain string, at time.Time) {
	g.AgentID = agentID
	g.Silo = silo
	g.Domain = domain
	g.IndexedAt = at.UTC().Format(time.RFC3339)
}
