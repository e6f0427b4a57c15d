package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version stamped on every envelope built by this
// process. Replies copy the version of the triggering envelope verbatim.
const Version = "1.0"

// DefaultTTL bounds how long an envelope may sit in a queue before a
// receiver must reject it.
const DefaultTTL = 300 // seconds

// Kind classifies an envelope.
type Kind string

const (
	KindQuery        Kind = "query"
	KindResponse     Kind = "response"
	KindCommand      Kind = "command"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
)

// Intent identifies the operation an envelope requests or answers.
type Intent string

const (
	IntentSearch   Intent = "search"
	IntentAnalyze  Intent = "analyze"
	IntentValidate Intent = "validate"
	IntentFetch    Intent = "fetch"
	IntentUpdate   Intent = "update"
	IntentStatus   Intent = "status"
	IntentScrape   Intent = "scrape"
)

// Error codes carried in ERROR envelope payloads.
const (
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeNoHandler           = "NO_HANDLER"
	CodeProcessingError     = "PROCESSING_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

var (
	ErrMissingSender = errors.New("missing sender")
	ErrMissingKind   = errors.New("missing kind")
	ErrMissingIntent = errors.New("missing intent")
)

// Envelope is the immutable message record for all inter-agent traffic.
// Replies are constructed via Reply/Fail, never by mutating the original.
type Envelope struct {
	Version       string         `json:"version"`
	Kind          Kind           `json:"kind"`
	Sender        string         `json:"sender"`
	Receiver      string         `json:"receiver,omitempty"`
	Intent        Intent         `json:"intent"`
	Context       Payload        `json:"-"`
	Embedding     []float32      `json:"embedding,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	CreatedAt     time.Time      `json:"created_at"`
	TTLSeconds    int            `json:"ttl_seconds"`
	Priority      int            `json:"priority"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// New builds an envelope with generated correlation id and defaults applied.
func New(kind Kind, intent Intent, sender, receiver string, ctx Payload) *Envelope {
	return &Envelope{
		Version:       Version,
		Kind:          kind,
		Sender:        sender,
		Receiver:      receiver,
		Intent:        intent,
		Context:       ctx,
		CorrelationID: uuid.New().String(),
		CreatedAt:     time.Now().UTC(),
		TTLSeconds:    DefaultTTL,
		Priority:      1,
	}
}

// NewSearchQuery builds a SEARCH query. Receiver is left empty so a routing
// strategy can decide the destination.
func NewSearchQuery(sender, query string, maxResults int, filters Filters) *Envelope {
	if maxResults <= 0 {
		maxResults = 10
	}
	return New(KindQuery, IntentSearch, sender, "", &SearchQuery{
		Query:      query,
		MaxResults: maxResults,
		Filters:    filters,
	})
}

// NewStatusRequest builds a STATUS query addressed to a specific agent.
func NewStatusRequest(sender, receiver string) *Envelope {
	return New(KindQuery, IntentStatus, sender, receiver, &StatusRequest{})
}

// NewAnalyzeRequest builds an ANALYZE query addressed to a specific agent.
func NewAnalyzeRequest(sender, receiver, query string, filters Filters) *Envelope {
	return New(KindQuery, IntentAnalyze, sender, receiver, &AnalyzeRequest{
		Query:   query,
		Filters: filters,
	})
}

// NewScrapeCommand builds a SCRAPE command. Scrapes are slightly urgent so
// that freshly requested sources jump ahead of background traffic.
func NewScrapeCommand(sender, receiver, url string, maxDepth int) *Envelope {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	e := New(KindCommand, IntentScrape, sender, receiver, &ScrapeCommand{
		URL:      url,
		MaxDepth: maxDepth,
	})
	e.Priority = 2
	return e
}

// Validate rejects envelopes that are structurally unusable or expired.
func (e *Envelope) Validate(now time.Time) error {
	if e.Sender == "" {
		return ErrMissingSender
	}
	if e.Kind == "" {
		return ErrMissingKind
	}
	if e.Intent == "" {
		return ErrMissingIntent
	}
	if e.TTLSeconds > 0 && !e.CreatedAt.IsZero() {
		age := now.Sub(e.CreatedAt)
		if age > time.Duration(e.TTLSeconds)*time.Second {
			return fmt.Errorf("message expired (age: %s, ttl: %ds)", age.Truncate(time.Millisecond), e.TTLSeconds)
		}
	}
	return nil
}

// Reply builds a RESPONSE with swapped endpoints, the same correlation id
// and intent, and the version and priority copied from the request.
func (e *Envelope) Reply(ctx Payload) *Envelope {
	return &Envelope{
		Version:       e.Version,
		Kind:          KindResponse,
		Sender:        e.Receiver,
		Receiver:      e.Sender,
		Intent:        e.Intent,
		Context:       ctx,
		CorrelationID: e.CorrelationID,
		CreatedAt:     time.Now().UTC(),
		TTLSeconds:    DefaultTTL,
		Priority:      e.Priority,
	}
}

// Fail builds an ERROR reply preserving the original context for diagnosis.
func (e *Envelope) Fail(message, code string) *Envelope {
	return &Envelope{
		Version:       e.Version,
		Kind:          KindError,
		Sender:        e.Receiver,
		Receiver:      e.Sender,
		Intent:        e.Intent,
		Context:       &ErrorPayload{Message: message, Code: code, OriginalContext: e.Context},
		CorrelationID: e.CorrelationID,
		CreatedAt:     time.Now().UTC(),
		TTLSeconds:    DefaultTTL,
		Priority:      e.Priority,
	}
}

// envelopeWire is the JSON form; context is deferred so it can be decoded
// into the payload variant selected by (kind, intent).
type envelopeWire struct {
	Version       string          `json:"version"`
	Kind          Kind            `json:"kind"`
	Sender        string          `json:"sender"`
	Receiver      string          `json:"receiver,omitempty"`
	Intent        Intent          `json:"intent"`
	Context       json.RawMessage `json:"context,omitempty"`
	Embedding     []float32       `json:"embedding,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	CreatedAt     time.Time       `json:"created_at"`
	TTLSeconds    int             `json:"ttl_seconds"`
	Priority      int             `json:"priority"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	var ctx json.RawMessage
	if e.Context != nil {
		raw, err := json.Marshal(e.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal context: %w", err)
		}
		ctx = raw
	}
	return json.Marshal(envelopeWire{
		Version:       e.Version,
		Kind:          e.Kind,
		Sender:        e.Sender,
		Receiver:      e.Receiver,
		Intent:        e.Intent,
		Context:       ctx,
		Embedding:     e.Embedding,
		CorrelationID: e.CorrelationID,
		CreatedAt:     e.CreatedAt,
		TTLSeconds:    e.TTLSeconds,
		Priority:      e.Priority,
		Metadata:      e.Metadata,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w envelopeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ctx, err := decodePayload(w.Kind, w.Intent, w.Context)
	if err != nil {
		return err
	}
	*e = Envelope{
		Version:       w.Version,
		Kind:          w.Kind,
		Sender:        w.Sender,
		Receiver:      w.Receiver,
		Intent:        w.Intent,
		Context:       ctx,
		Embedding:     w.Embedding,
		CorrelationID: w.CorrelationID,
		CreatedAt:     w.CreatedAt,
		TTLSeconds:    w.TTLSeconds,
		Priority:      w.Priority,
		Metadata:      w.Metadata,
	}
	return nil
}
