package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashingEmbedder is a deterministic, dependency-free embedder using feature
// hashing over lowercased tokens. Texts sharing vocabulary land near each
// other in the vector space. Used in local mode and tests, where running the
// embedding service is not worth the setup.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder builds a hashing embedder with the given dimensionality.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashingEmbedder{dim: dim}
}

func (h *HashingEmbedder) Model() string { return "hashing-local" }

func (h *HashingEmbedder) Encode(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		sum := f.Sum32()
		idx := int(sum % uint32(h.dim))
		// Second hash bit decides sign, which keeps unrelated tokens from
		// always accumulating positively.
		if (sum>>16)&1 == 1 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashingEmbedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalize(vec []float32) {
	var n float64
	for _, v := range vec {
		n += float64(v) * float64(v)
	}
	if n == 0 {
		return
	}
	inv := 1 / math.Sqrt(n)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
