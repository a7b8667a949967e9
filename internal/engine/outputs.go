package engine

import (
	"errors"
	"sort"

	"github.com/terrapin-io/terrapin/internal/expr"
)

// ResolveOutputs evaluates every output expression against the final
// attribute table. The dependency graph guarantees every referenced resource
// settled before this point; an unresolved reference here is re-checked
// defensively and surfaces as an internal error, not a user diagnostic.
func ResolveOutputs(outputs map[string]string, table expr.Table) (map[string]any, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]any, len(outputs))
	for _, name := range names {
		val, err := expr.Resolve(outputs[name], table)
		if err != nil {
			var unknown *expr.UnknownReferenceError
			if errors.As(err, &unknown) {
				return nil, &UnresolvedReferenceError{Address: "output." + name, Ref: unknown.Ref.String()}
			}
			return nil, err
		}
		resolved[name] = val
	}
	return resolved, nil
}
