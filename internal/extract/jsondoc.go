package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// JSON renders a JSON document as readable key/value prose, flattening nested
// structures into dotted paths so field names stay searchable.
type JSON struct{}

func (JSON) Extract(_ context.Context, data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}

	var b strings.Builder
	renderJSON(&b, "", doc)
	return b.String(), nil
}

func renderJSON(b *strings.Builder, path string, v any) {
	switch val := v.(type) {
	case map[string]any:
		// Deterministic output regardless of map iteration order.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			renderJSON(b, joinPath(path, k), val[k])
		}
	case []any:
		for i, item := range val {
			renderJSON(b, fmt.Sprintf("%s[%d]", path, i), item)
		}
	case nil:
		fmt.Fprintf(b, "%s is null.\n", pathOrValue(path))
	default:
		fmt.Fprintf(b, "%s is %v.\n", pathOrValue(path), val)
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func pathOrValue(path string) string {
	if path == "" {
		return "value"
	}
	return path
}
