package vectorstore

import (
	"context"
	"fmt"
)

// Point is one stored vector with its payload. Distance is populated by
// Query: non-negative, smaller means closer.
type Point struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Distance float64        `json:"distance,omitempty"`
}

// Collection is a named vector index. One collection belongs to exactly one
// agent; the name encodes ownership as {silo}_{domain}.
type Collection interface {
	// Name returns the collection name.
	Name() string
	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, points []Point) error
	// Query returns up to limit points nearest to vector, optionally
	// restricted to points whose payload matches every key in where.
	// Results are ordered by ascending distance.
	Query(ctx context.Context, vector []float32, limit int, where map[string]any) ([]Point, error)
	// Get fetches points by ID; missing IDs are silently skipped.
	Get(ctx context.Context, ids []string) ([]Point, error)
	// Scroll reads up to limit points with payloads in stable indexed
	// order, without similarity scoring. limit <= 0 reads everything.
	Scroll(ctx context.Context, limit int) ([]Point, error)
	// Count reports how many points the collection holds.
	Count(ctx context.Context) (int, error)
}

// CollectionName derives the index name owned by an agent.
func CollectionName(silo, domain string) string {
	return fmt.Sprintf("%s_%s", silo, domain)
}

// matches reports whether a payload satisfies every clause in where. A
// []string clause matches when the payload value equals any element.
func matches(payload, where map[string]any) bool {
	for k, want := range where {
		got, ok := payload[k]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []string:
			hit := false
			for _, v := range w {
				if fmt.Sprint(got) == v {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}
