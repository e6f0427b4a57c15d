package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/grantmesh/grantmesh/internal/circuitbreaker"
	"github.com/grantmesh/grantmesh/internal/metrics"
	"github.com/grantmesh/grantmesh/internal/tracing"
)

// Config controls the HTTP embedding client behavior
type Config struct {
	// BaseURL points to the embedding service providing /embeddings
	BaseURL string
	// Model is the embedding model this client encodes with
	Model string
	// Timeout for outbound HTTP calls
	Timeout time.Duration
	// BatchSize caps how many texts go upstream per request; larger
	// batches are split. Defaults to 32.
	BatchSize int
	// EnableRedis enables Redis-backed cache (optional)
	EnableRedis bool
	// RedisAddr in host:port form when EnableRedis is true
	RedisAddr string
	// CacheTTL sets TTL for cached vectors
	CacheTTL time.Duration
	// MaxLRU controls in-process LRU size
	MaxLRU int
}

// Client encodes text through a remote embedding service, with a two-tier
// cache (in-process LRU, then optional Redis) in front of it.
type Client struct {
	cfg    Config
	http   *circuitbreaker.HTTPWrapper
	cache  VectorCache
	lru    *LocalLRU
	logger *zap.Logger
}

// NewClient builds an HTTP embedding client. The Redis tier is attached
// best-effort; a failed connection downgrades to LRU-only caching.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var cache VectorCache
	if cfg.EnableRedis && cfg.RedisAddr != "" {
		rc, err := NewRedisCache(cfg.RedisAddr)
		if err != nil {
			logger.Warn("Redis embedding cache unavailable, using LRU only",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			cache = rc
		}
	}

	hw := circuitbreaker.NewHTTPWrapper(
		&http.Client{Timeout: cfg.Timeout},
		"embedding-service", "embedder", logger,
	)
	return &Client{cfg: cfg, http: hw, cache: cache, lru: NewLocalLRU(cfg.MaxLRU), logger: logger}
}

func (c *Client) Model() string { return c.cfg.Model }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Encode returns the vector for a single text.
func (c *Client) Encode(ctx context.Context, text string) ([]float32, error) {
	key := MakeKey(c.cfg.Model, text)

	// LRU first
	if v, ok := c.lru.Get(ctx, key); ok {
		metrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
		return v, nil
	}
	// Redis next
	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, key); ok {
			c.lru.Set(ctx, key, v, 30*time.Minute)
			metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
			return v, nil
		}
	}

	vecs, err := c.callService(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	out := vecs[0]

	c.lru.Set(ctx, key, out, 30*time.Minute)
	if c.cache != nil {
		c.cache.Set(ctx, key, out, c.cfg.CacheTTL)
	}
	return out, nil
}

// EncodeBatch returns one vector per text in input order. Cached texts are
// served locally; the remainder goes upstream in BatchSize chunks.
func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedTexts := []string{}
	uncachedIndices := []int{}

	for i, text := range texts {
		key := MakeKey(c.cfg.Model, text)

		if v, ok := c.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.EmbeddingCacheHits.WithLabelValues("lru").Inc()
			continue
		}
		if c.cache != nil {
			if v, ok := c.cache.Get(ctx, key); ok {
				results[i] = v
				c.lru.Set(ctx, key, v, 30*time.Minute)
				metrics.EmbeddingCacheHits.WithLabelValues("redis").Inc()
				continue
			}
		}

		uncachedTexts = append(uncachedTexts, text)
		uncachedIndices = append(uncachedIndices, i)
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	for start := 0; start < len(uncachedTexts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(uncachedTexts) {
			end = len(uncachedTexts)
		}

		vecs, err := c.callService(ctx, uncachedTexts[start:end])
		if err != nil {
			return nil, err
		}

		for i, out := range vecs {
			idx := uncachedIndices[start+i]
			results[idx] = out

			key := MakeKey(c.cfg.Model, uncachedTexts[start+i])
			c.lru.Set(ctx, key, out, 30*time.Minute)
			if c.cache != nil {
				c.cache.Set(ctx, key, out, c.cfg.CacheTTL)
			}
		}
	}

	return results, nil
}

// callService posts texts to the embedding service and converts the reply to
// float32 vectors, one per input text.
func (c *Client) callService(ctx context.Context, texts []string) ([][]float32, error) {
	metrics.EmbeddingBatchSize.Observe(float64(len(texts)))

	url := fmt.Sprintf("%s/embeddings/", c.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", url)
	defer span.End()

	payload := embedRequest{Texts: texts, Model: c.cfg.Model}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues(c.cfg.Model, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequests.WithLabelValues(c.cfg.Model, "error").Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.EmbeddingRequests.WithLabelValues(c.cfg.Model, "error").Inc()
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.EmbeddingRequests.WithLabelValues(c.cfg.Model, "error").Inc()
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, embedding := range er.Embeddings {
		vec := make([]float32, len(embedding))
		for j, f := range embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	metrics.EmbeddingRequests.WithLabelValues(c.cfg.Model, "ok").Inc()
	return out, nil
}
