package circuitbreaker

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper runs an http.Client behind a circuit breaker. The embedding
// service and the vector store both sit behind one of these so a dead
// upstream fails fast instead of stalling every search.
type HTTPWrapper struct {
	client  *http.Client
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewHTTPWrapper builds a wrapper whose breaker thresholds follow the
// service it guards: the embedder tolerates longer outages, the vector
// store trips fast.
func NewHTTPWrapper(client *http.Client, name, service string, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var cfg CircuitBreakerConfig
	switch service {
	case "embedder":
		cfg = GetEmbedderConfig()
	case "vectorstore":
		cfg = GetVectorConfig()
	default:
		cfg = GetHTTPConfig()
	}

	cb := NewCircuitBreaker(name, cfg.ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &HTTPWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// Do executes a request through the breaker. Transport errors and 5xx
// responses count as failures; 4xx responses do not, since a bad request
// says nothing about upstream health. A 5xx response is still handed back
// to the caller so it can read the body.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var callErr error
		resp, callErr = hw.client.Do(req)
		if callErr != nil {
			return callErr
		}
		if resp.StatusCode >= 500 {
			return &upstreamStatusError{code: resp.StatusCode}
		}
		return nil
	})

	GlobalMetricsCollector.RecordRequest(hw.name, hw.service, hw.cb.State(), err == nil)

	if _, ok := err.(*upstreamStatusError); ok {
		return resp, nil
	}
	return resp, err
}

// upstreamStatusError marks 5xx answers for breaker accounting only.
type upstreamStatusError struct{ code int }

func (e *upstreamStatusError) Error() string { return http.StatusText(e.code) }
