package embedder

import (
	"context"
	"math"
)

// Embedder turns text into dense vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Encode returns the vector for a single text.
	Encode(ctx context.Context, text string) ([]float32, error)
	// EncodeBatch returns one vector per input text, in input order, using a
	// single upstream round trip for everything not already cached.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model reports the model name this embedder encodes with.
	Model() string
}

// Cosine returns the cosine similarity of two vectors, or 0 when either has
// zero magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
