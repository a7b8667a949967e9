package engine

import (
	"errors"
	"fmt"

	"github.com/terrapin-io/terrapin/internal/expr"
	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/template"
)

// tableFromState seeds an attribute-resolution table with the recorded inputs
// and computed attributes of every resource in state. Computed attributes win
// over inputs on key collision.
func tableFromState(st *ir.State) expr.Table {
	table := make(expr.Table)
	for _, rec := range st.Resources {
		attrs := make(map[string]any)
		for k, v := range rec.Inputs {
			attrs[k] = normalizeValue(v)
		}
		for k, v := range rec.Outputs {
			attrs[k] = normalizeValue(v)
		}
		table.Put(rec.Type, rec.Name, attrs)
	}
	return table
}

// resolveInputs produces the fully resolved input attributes for one
// resource: references substituted from the table, then templated payload
// blocks rendered. An unresolved reference here means the graph walk is
// broken, so it surfaces as UnresolvedReferenceError rather than a user
// diagnostic.
func resolveInputs(res *ir.Resource, table expr.Table) (map[string]any, error) {
	resolved, err := expr.Resolve(normalizeValue(res.Properties), table)
	if err != nil {
		var unknown *expr.UnknownReferenceError
		if errors.As(err, &unknown) {
			return nil, &UnresolvedReferenceError{Address: res.Addr(), Ref: unknown.Ref.String()}
		}
		return nil, fmt.Errorf("resolving %s: %w", res.Addr(), err)
	}

	rendered, err := renderPayloads(resolved)
	if err != nil {
		return nil, fmt.Errorf("rendering payload for %s: %w", res.Addr(), err)
	}
	return rendered.(map[string]any), nil
}

// renderPayloads walks resolved inputs and replaces every
// {template: ..., vars: {...}} block with its rendered text.
func renderPayloads(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if body, vars, ok := expr.PayloadBlock(val); ok {
			bindings := make(map[string]string, len(vars))
			for k, v := range vars {
				bindings[k] = fmt.Sprintf("%v", v)
			}
			return template.Render(body, bindings)
		}
		out := make(map[string]any, len(val))
		for k, v := range val {
			rv, err := renderPayloads(v)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			rv, err := renderPayloads(v)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
