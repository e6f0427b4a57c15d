package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/grantmesh/grantmesh/internal/circuitbreaker"
	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/tracing"
)

// QdrantConfig holds connection settings for a Qdrant server shared by all
// collections in the process.
type QdrantConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Timeout    time.Duration `mapstructure:"timeout"`
	VectorSize int           `mapstructure:"vector_size"`
	// UpsertRPS throttles bulk indexing so scrape bursts do not starve
	// query traffic on the same server. 0 disables throttling.
	UpsertRPS float64 `mapstructure:"upsert_rps"`
}

// Qdrant is a minimal Qdrant HTTP client bound to a single collection.
type Qdrant struct {
	cfg     QdrantConfig
	name    string
	base    string
	httpw   *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewQdrant builds a client for one collection and creates the collection on
// the server if it does not exist yet.
func NewQdrant(ctx context.Context, cfg QdrantConfig, name string, logger *zap.Logger) (*Qdrant, error) {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.VectorSize == 0 {
		cfg.VectorSize = 384
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpw := circuitbreaker.NewHTTPWrapper(
		&http.Client{Timeout: cfg.Timeout},
		"qdrant", "vectorstore", logger,
	)
	var limiter *rate.Limiter
	if cfg.UpsertRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.UpsertRPS), 1)
	}

	q := &Qdrant{
		cfg:     cfg,
		name:    name,
		base:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpw:   httpw,
		limiter: limiter,
		log:     logger,
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Qdrant) Name() string { return q.name }

// ensureCollection creates the collection if missing (PUT is idempotent on
// existing collections only when the schema matches, so check first).
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", q.base, q.name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := q.httpw.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.cfg.VectorSize,
			"distance": "Cosine",
		},
	}
	buf, _ := json.Marshal(body)
	req, err = http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err = q.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant create collection %s status %d", q.name, resp.StatusCode)
	}
	q.log.Info("Created vector collection",
		zap.String("collection", q.name),
		zap.Int("vector_size", q.cfg.VectorSize))
	return nil
}

type qdrantQueryRequest struct {
	Query       []float32      `json:"query"`
	Limit       int            `json:"limit"`
	WithPayload bool           `json:"with_payload"`
	Filter      map[string]any `json:"filter,omitempty"`
}

type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for the /points/query endpoint which has nested structure
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query runs similarity search. Qdrant reports cosine similarity; this is
// converted to a distance (1 - score, floored at 0) so callers see the
// smaller-is-closer contract regardless of backend.
func (q *Qdrant) Query(ctx context.Context, vector []float32, limit int, where map[string]any) ([]Point, error) {
	start := time.Now()

	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", q.base, q.name)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", urlQuery)
	defer span.End()

	reqBody := qdrantQueryRequest{Query: vector, Limit: limit, WithPayload: true, Filter: buildFilter(where)}
	buf, _ := json.Marshal(reqBody)

	call := func(url string, body []byte) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)
		return q.httpw.Do(req)
	}

	resp, err := call(urlQuery, buf)
	if err != nil {
		metrics.VectorQueries.WithLabelValues(q.name, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	var points []qdrantPoint
	if resp.StatusCode != http.StatusOK {
		// Fallback to legacy /points/search for older servers
		urlSearch := fmt.Sprintf("%s/collections/%s/points/search", q.base, q.name)
		legacy := map[string]any{"vector": vector, "limit": limit, "with_payload": true}
		if f := buildFilter(where); f != nil {
			legacy["filter"] = f
		}
		buf2, _ := json.Marshal(legacy)
		resp2, err2 := call(urlSearch, buf2)
		if err2 != nil {
			metrics.VectorQueries.WithLabelValues(q.name, "error").Inc()
			return nil, fmt.Errorf("qdrant query/search failed: %w", err2)
		}
		defer resp2.Body.Close()
		if resp2.StatusCode != http.StatusOK {
			metrics.VectorQueries.WithLabelValues(q.name, "error").Inc()
			return nil, fmt.Errorf("qdrant status %d", resp2.StatusCode)
		}
		var sr qdrantSearchResponse
		if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
			metrics.VectorQueries.WithLabelValues(q.name, "error").Inc()
			return nil, err
		}
		points = sr.Result
	} else {
		var qr qdrantQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			metrics.VectorQueries.WithLabelValues(q.name, "error").Inc()
			return nil, err
		}
		points = qr.Result.Points
	}

	metrics.VectorQueries.WithLabelValues(q.name, "ok").Inc()
	metrics.VectorQueryDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())

	out := make([]Point, 0, len(points))
	for _, p := range points {
		dist := 1 - p.Score
		if dist < 0 {
			dist = 0
		}
		out = append(out, Point{
			ID:       fmt.Sprintf("%v", p.ID),
			Payload:  p.Payload,
			Distance: dist,
		})
	}
	return out, nil
}

// Upsert inserts or replaces points, throttled by the configured rate limit.
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	url := fmt.Sprintf("%s/collections/%s/points", q.base, q.name)
	ctx, span := tracing.StartHTTPSpan(ctx, "PUT", url)
	defer span.End()

	items := make([]map[string]any, len(points))
	for i, p := range points {
		items[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		}
	}
	buf, _ := json.Marshal(map[string]any{"points": items})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := q.httpw.Do(req)
	if err != nil {
		metrics.VectorUpserts.WithLabelValues(q.name, "error").Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.VectorUpserts.WithLabelValues(q.name, "error").Inc()
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	metrics.VectorUpserts.WithLabelValues(q.name, "ok").Inc()
	return nil
}

// Get fetches points by ID.
func (q *Qdrant) Get(ctx context.Context, ids []string) ([]Point, error) {
	url := fmt.Sprintf("%s/collections/%s/points", q.base, q.name)
	buf, _ := json.Marshal(map[string]any{"ids": ids, "with_payload": true})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := q.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant get points status %d", resp.StatusCode)
	}

	var r struct {
		Result []struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	out := make([]Point, 0, len(r.Result))
	for _, p := range r.Result {
		out = append(out, Point{ID: fmt.Sprintf("%v", p.ID), Payload: p.Payload})
	}
	return out, nil
}

// Scroll pages through the collection with /points/scroll, following the
// next_page_offset cursor until limit points are read or the cursor ends.
func (q *Qdrant) Scroll(ctx context.Context, limit int) ([]Point, error) {
	url := fmt.Sprintf("%s/collections/%s/points/scroll", q.base, q.name)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	var out []Point
	var cursor any
	for limit <= 0 || len(out) < limit {
		page := 256
		if limit > 0 && limit-len(out) < page {
			page = limit - len(out)
		}
		body := map[string]any{"limit": page, "with_payload": true}
		if cursor != nil {
			body["offset"] = cursor
		}
		buf, _ := json.Marshal(body)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, req)

		resp, err := q.httpw.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("qdrant scroll status %d", resp.StatusCode)
		}
		var r struct {
			Result struct {
				Points []struct {
					ID      any            `json:"id"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err = json.NewDecoder(resp.Body).Decode(&r)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		for _, p := range r.Result.Points {
			out = append(out, Point{ID: fmt.Sprintf("%v", p.ID), Payload: p.Payload})
		}
		if r.Result.NextPageOffset == nil || len(r.Result.Points) == 0 {
			break
		}
		cursor = r.Result.NextPageOffset
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count reports the number of points in the collection.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	url := fmt.Sprintf("%s/collections/%s/points/count", q.base, q.name)
	buf, _ := json.Marshal(map[string]any{"exact": true})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.httpw.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("qdrant count status %d", resp.StatusCode)
	}

	var r struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, err
	}
	return r.Result.Count, nil
}

// buildFilter converts where clauses to a Qdrant must/match filter. A
// []string clause becomes a match-any condition.
func buildFilter(where map[string]any) map[string]any {
	if len(where) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(where))
	for k, v := range where {
		var match map[string]any
		if vs, ok := v.([]string); ok {
			match = map[string]any{"any": vs}
		} else {
			match = map[string]any{"value": v}
		}
		must = append(must, map[string]any{"key": k, "match": match})
	}
	return map[string]any{"must": must}
}
