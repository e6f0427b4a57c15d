package grants

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlattenMetadata prepares a metadata map for a vector backend that only
// accepts primitive values. Nil values are dropped, primitives pass through,
// and lists/maps are serialized to JSON text under the same key. Anything
// else is stringified.
func FlattenMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		switch v := value.(type) {
		case nil:
			continue
		case string, bool,
			int, int32, int64,
			float32, float64:
			out[key] = v
		case []any, map[string]any, []string:
			raw, err := json.Marshal(v)
			if err != nil {
				out[key] = fmt.Sprint(v)
				continue
			}
			out[key] = string(raw)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}

// ExpandMetadata reverses FlattenMetadata: string values that look like
// JSON containers (leading '[' or '{') are parsed back into their structured
// form, falling back to the raw string when parsing fails.
func ExpandMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		s, ok := value.(string)
		if !ok || !looksLikeJSON(s) {
			out[key] = value
			continue
		}
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			out[key] = s
			continue
		}
		out[key] = parsed
	}
	return out
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{")
}
