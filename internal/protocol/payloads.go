package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/grantmesh/grantmesh/internal/grants"
)

// Payload is the typed context carried inside an envelope. The concrete
// variant is selected by the envelope's (kind, intent) pair on the wire.
type Payload interface {
	payload()
}

// Filters narrows a search to specific silos or domains. Empty slices mean
// no restriction.
type Filters struct {
	Silos   []string `json:"silos,omitempty"`
	Domains []string `json:"domains,omitempty"`
}

// SearchQuery asks an agent for grants matching free text.
type SearchQuery struct {
	Query      string  `json:"query"`
	MaxResults int     `json:"max_results"`
	Filters    Filters `json:"filters"`
}

// SearchResponse carries an agent's ranked matches.
type SearchResponse struct {
	Results []grants.Grant `json:"results"`
	Total   int            `json:"total"`
	AgentID string         `json:"agent_id"`
	Domain  string         `json:"domain,omitempty"`
}

// StatusRequest asks an agent for its health and counters.
type StatusRequest struct{}

// StatusResponse reports an agent's identity, lifecycle state and counters.
type StatusResponse struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Silo         string   `json:"silo"`
	Domain       string   `json:"domain"`
	State        string   `json:"state"`
	DocumentsIn  int64    `json:"documents_indexed"`
	QueriesSeen  int64    `json:"queries_processed"`
	ErrorCount   int64    `json:"error_count"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// FetchRequest asks an agent to enumerate its indexed grants.
type FetchRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// FetchResponse returns a page of an agent's corpus.
type FetchResponse struct {
	Grants  []grants.Grant `json:"grants"`
	Total   int            `json:"total"`
	AgentID string         `json:"agent_id"`
}

// AnalyzeRequest asks a domain agent for an eligibility or fit assessment.
// Subject carries the applicant profile the rules inspect.
type AnalyzeRequest struct {
	Query   string         `json:"query"`
	Filters Filters        `json:"filters"`
	Subject map[string]any `json:"subject,omitempty"`
}

// AnalyzeResponse carries the assessment produced by a domain agent.
type AnalyzeResponse struct {
	AgentID    string         `json:"agent_id"`
	Insights   []string       `json:"insights"`
	Confidence string         `json:"confidence,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// ValidateRequest asks an agent to check a grant record before indexing.
type ValidateRequest struct {
	Grant grants.Grant `json:"grant"`
}

// ValidateResponse reports validation problems, if any.
type ValidateResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
	AgentID  string   `json:"agent_id"`
}

// ScrapeCommand instructs an agent to (re)ingest a source URL.
type ScrapeCommand struct {
	URL      string `json:"url"`
	MaxDepth int    `json:"max_depth"`
}

// ScrapeResult reports the outcome of a scrape command.
type ScrapeResult struct {
	AgentID  string `json:"agent_id"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Indexed  int    `json:"indexed"`
	Duration string `json:"duration,omitempty"`
}

// UpdateCommand carries an administrative instruction to an agent.
type UpdateCommand struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// ErrorPayload is the context of an ERROR envelope. OriginalContext holds
// the request payload that triggered the failure so callers can diagnose
// without correlating logs.
type ErrorPayload struct {
	Message         string  `json:"error_message"`
	Code            string  `json:"error_code"`
	OriginalContext Payload `json:"original_context,omitempty"`
}

func (*SearchQuery) payload()      {}
func (*SearchResponse) payload()   {}
func (*StatusRequest) payload()    {}
func (*StatusResponse) payload()   {}
func (*FetchRequest) payload()     {}
func (*FetchResponse) payload()    {}
func (*AnalyzeRequest) payload()   {}
func (*AnalyzeResponse) payload()  {}
func (*ValidateRequest) payload()  {}
func (*ValidateResponse) payload() {}
func (*ScrapeCommand) payload()    {}
func (*ScrapeResult) payload()     {}
func (*UpdateCommand) payload()    {}
func (*ErrorPayload) payload()     {}

// decodePayload picks the payload variant for a (kind, intent) pair and
// decodes raw into it. A missing context yields a nil payload.
func decodePayload(kind Kind, intent Intent, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if kind == KindError {
		return decodeErrorPayload(intent, raw)
	}
	target, err := emptyPayload(kind, intent)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decode %s/%s context: %w", kind, intent, err)
	}
	return target, nil
}

func emptyPayload(kind Kind, intent Intent) (Payload, error) {
	switch kind {
	case KindQuery, KindCommand, KindNotification:
		return emptyRequestPayload(intent)
	case KindResponse:
		switch intent {
		case IntentSearch:
			return &SearchResponse{}, nil
		case IntentStatus:
			return &StatusResponse{}, nil
		case IntentFetch:
			return &FetchResponse{}, nil
		case IntentAnalyze:
			return &AnalyzeResponse{}, nil
		case IntentValidate:
			return &ValidateResponse{}, nil
		case IntentScrape:
			return &ScrapeResult{}, nil
		}
	}
	return nil, fmt.Errorf("no payload variant for %s/%s", kind, intent)
}

func emptyRequestPayload(intent Intent) (Payload, error) {
	switch intent {
	case IntentSearch:
		return &SearchQuery{}, nil
	case IntentStatus:
		return &StatusRequest{}, nil
	case IntentFetch:
		return &FetchRequest{}, nil
	case IntentAnalyze:
		return &AnalyzeRequest{}, nil
	case IntentValidate:
		return &ValidateRequest{}, nil
	case IntentScrape:
		return &ScrapeCommand{}, nil
	case IntentUpdate:
		return &UpdateCommand{}, nil
	}
	return nil, fmt.Errorf("no request payload variant for intent %q", intent)
}

// decodeErrorPayload decodes an ERROR context; the embedded original context
// is always the request payload of the envelope's intent.
func decodeErrorPayload(intent Intent, raw json.RawMessage) (Payload, error) {
	var wire struct {
		Message         string          `json:"error_message"`
		Code            string          `json:"error_code"`
		OriginalContext json.RawMessage `json:"original_context"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode error context: %w", err)
	}
	out := &ErrorPayload{Message: wire.Message, Code: wire.Code}
	if len(wire.OriginalContext) > 0 && string(wire.OriginalContext) != "null" {
		orig, err := emptyRequestPayload(intent)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(wire.OriginalContext, orig); err != nil {
			return nil, fmt.Errorf("decode original context: %w", err)
		}
		out.OriginalContext = orig
	}
	return out, nil
}
