package chromem

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Bookkeeping keys stored beside user metadata. Both carry the internal
// prefix so memory.PublicMetadata removes them.
const (
	seqKey  = "_seq"  // insertion sequence, used to break score ties
	jsonKey = "_json" // comma separated keys whose values are JSON encoded
)

// encodeMetadata flattens metadata to chromem's string map. Strings are kept
// verbatim; other values are JSON encoded and listed under jsonKey so they
// decode back to their original type.
func encodeMetadata(md map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(md)+2)
	var jsonKeys []string
	for k, v := range md {
		if strings.Contains(k, ",") {
			return nil, fmt.Errorf("metadata key %q must not contain ','", k)
		}
		if str, ok := v.(string); ok {
			out[k] = str
			continue
		}
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = encoded
		jsonKeys = append(jsonKeys, k)
	}
	if len(jsonKeys) > 0 {
		sort.Strings(jsonKeys)
		out[jsonKey] = strings.Join(jsonKeys, ",")
	}
	return out, nil
}

// decodeMetadata reverses encodeMetadata. Bookkeeping keys are kept so the
// caller can read them; memory.PublicMetadata strips them later.
func decodeMetadata(stored map[string]string) (map[string]any, error) {
	jsonKeys := map[string]bool{}
	if list := stored[jsonKey]; list != "" {
		for _, k := range strings.Split(list, ",") {
			jsonKeys[k] = true
		}
	}

	out := make(map[string]any, len(stored))
	for k, v := range stored {
		if !jsonKeys[k] {
			out[k] = v
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = decoded
	}
	return out, nil
}

// encodeFilter converts an equality filter with the same encoding used on
// insert, so a filter value matches exactly what was stored.
func encodeFilter(filter map[string]any) (map[string]string, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	where := make(map[string]string, len(filter))
	for k, v := range filter {
		if str, ok := v.(string); ok {
			where[k] = str
			continue
		}
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", k, err)
		}
		where[k] = encoded
	}
	return where, nil
}

func encodeValue(v any) (string, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}
