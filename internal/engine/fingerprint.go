package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint returns a deterministic digest of a resource's fully resolved
// input attributes. Matching fingerprints between declaration and state make
// an apply a no-op for that resource; that comparison is the whole of the
// idempotence guarantee, so the digest must be stable across runs and
// insensitive to map iteration order.
func Fingerprint(inputs map[string]any) (string, error) {
	// encoding/json sorts object keys, giving a canonical form.
	b, err := json.Marshal(normalizeValue(inputs))
	if err != nil {
		return "", fmt.Errorf("fingerprinting inputs: %w", err)
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// normalizeValue rewrites decoder-specific container types into plain
// map[string]any / []any so serialization and comparison behave uniformly.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeValue(v)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeValue(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeValue(v)
		}
		return out
	default:
		return val
	}
}
