// Package expr scans and resolves ${type.name.attribute} references embedded
// in declaration property strings. Strings are parsed as HCL templates; the
// variable traversals they contain are the reference edges of the dependency
// graph, and resolution evaluates the same templates against a table of
// already-applied attributes.
package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Ref identifies one resource attribute referenced from a property value.
type Ref struct {
	Type string
	Name string
	Attr string
}

// Target returns the address of the referenced resource.
func (r Ref) Target() string {
	return r.Type + "." + r.Name
}

func (r Ref) String() string {
	return r.Type + "." + r.Name + "." + r.Attr
}

// MalformedExpressionError reports a property string whose placeholder syntax
// does not parse, or whose reference is not of the type.name.attribute form.
type MalformedExpressionError struct {
	Value  string
	Detail string
}

func (e *MalformedExpressionError) Error() string {
	return fmt.Sprintf("malformed expression %q: %s", e.Value, e.Detail)
}

// UnknownReferenceError reports a reference whose target attribute is absent
// from the resolution table.
type UnknownReferenceError struct {
	Ref Ref
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("reference %s is not resolved", e.Ref)
}

// A nested map holding exactly these two keys is a templated payload block.
// Its body is opaque text whose ${...} placeholders belong to the renderer,
// so only the variable bindings participate in reference scanning and
// substitution.
const (
	PayloadBodyKey = "template"
	PayloadVarsKey = "vars"
)

// PayloadBlock reports whether m is a templated payload block, returning its
// body and variable bindings.
func PayloadBlock(m map[string]any) (body string, vars map[string]any, ok bool) {
	if len(m) != 2 {
		return "", nil, false
	}
	rawBody, hasBody := m[PayloadBodyKey]
	rawVars, hasVars := m[PayloadVarsKey]
	if !hasBody || !hasVars {
		return "", nil, false
	}
	body, ok = rawBody.(string)
	if !ok {
		return "", nil, false
	}
	switch v := rawVars.(type) {
	case map[string]any:
		return body, v, true
	case map[any]any:
		return body, stringKeyed(v), true
	}
	return "", nil, false
}

func stringKeyed(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[fmt.Sprintf("%v", k)] = v
	}
	return out
}

// Scan returns every reference embedded in v, descending into nested maps and
// lists. The result is sorted and de-duplicated so callers produce stable
// dependency edges.
func Scan(v any) ([]Ref, error) {
	seen := make(map[string]Ref)
	if err := scanValue(v, seen); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	refs := make([]Ref, 0, len(keys))
	for _, k := range keys {
		refs = append(refs, seen[k])
	}
	return refs, nil
}

func scanValue(v any, seen map[string]Ref) error {
	switch val := v.(type) {
	case string:
		refs, err := scanString(val)
		if err != nil {
			return err
		}
		for _, r := range refs {
			seen[r.String()] = r
		}
	case map[string]any:
		if _, vars, ok := PayloadBlock(val); ok {
			return scanValue(vars, seen)
		}
		for _, v := range val {
			if err := scanValue(v, seen); err != nil {
				return err
			}
		}
	case map[any]any:
		return scanValue(stringKeyed(val), seen)
	case []any:
		for _, v := range val {
			if err := scanValue(v, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanString(s string) ([]Ref, error) {
	if !strings.Contains(s, "${") {
		return nil, nil
	}
	tmpl, diags := hclsyntax.ParseTemplate([]byte(s), "<value>", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &MalformedExpressionError{Value: s, Detail: diags.Error()}
	}
	var refs []Ref
	for _, tr := range tmpl.Variables() {
		ref, err := refFromTraversal(s, tr)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func refFromTraversal(src string, tr hcl.Traversal) (Ref, error) {
	if len(tr) != 3 {
		return Ref{}, &MalformedExpressionError{
			Value:  src,
			Detail: "references must have the form type.name.attribute",
		}
	}
	root, ok := tr[0].(hcl.TraverseRoot)
	if !ok {
		return Ref{}, &MalformedExpressionError{Value: src, Detail: "invalid reference root"}
	}
	name, ok := tr[1].(hcl.TraverseAttr)
	if !ok {
		return Ref{}, &MalformedExpressionError{Value: src, Detail: "invalid resource name segment"}
	}
	attr, ok := tr[2].(hcl.TraverseAttr)
	if !ok {
		return Ref{}, &MalformedExpressionError{Value: src, Detail: "invalid attribute segment"}
	}
	return Ref{Type: root.Name, Name: name.Name, Attr: attr.Name}, nil
}

// Table maps resource type -> name -> attribute -> resolved value. It is the
// attribute-resolution table built up during the graph walk.
type Table map[string]map[string]map[string]any

// Put records the resolved attributes of one resource, merging over any
// previously recorded values for the same resource.
func (t Table) Put(typ, name string, attrs map[string]any) {
	byName, ok := t[typ]
	if !ok {
		byName = make(map[string]map[string]any)
		t[typ] = byName
	}
	byAttr, ok := byName[name]
	if !ok {
		byAttr = make(map[string]any)
		byName[name] = byAttr
	}
	for k, v := range attrs {
		byAttr[k] = v
	}
}

// Has reports whether the table holds a value for the referenced attribute.
func (t Table) Has(ref Ref) bool {
	byName, ok := t[ref.Type]
	if !ok {
		return false
	}
	byAttr, ok := byName[ref.Name]
	if !ok {
		return false
	}
	_, ok = byAttr[ref.Attr]
	return ok
}

// Resolve substitutes every reference in v with its value from the table,
// descending into nested maps and lists. Strings without placeholders pass
// through untouched; a whole-string interpolation preserves the underlying
// value's type.
func Resolve(v any, table Table) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, table)
	case map[string]any:
		if body, vars, ok := PayloadBlock(val); ok {
			rv, err := Resolve(vars, table)
			if err != nil {
				return nil, err
			}
			return map[string]any{PayloadBodyKey: body, PayloadVarsKey: rv}, nil
		}
		out := make(map[string]any, len(val))
		for k, v := range val {
			rv, err := Resolve(v, table)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case map[any]any:
		return Resolve(stringKeyed(val), table)
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			rv, err := Resolve(v, table)
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

func resolveString(s string, table Table) (any, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	tmpl, diags := hclsyntax.ParseTemplate([]byte(s), "<value>", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &MalformedExpressionError{Value: s, Detail: diags.Error()}
	}
	for _, tr := range tmpl.Variables() {
		ref, err := refFromTraversal(s, tr)
		if err != nil {
			return nil, err
		}
		if !table.Has(ref) {
			return nil, &UnknownReferenceError{Ref: ref}
		}
	}
	val, diags := tmpl.Value(&hcl.EvalContext{Variables: table.variables()})
	if diags.HasErrors() {
		return nil, &MalformedExpressionError{Value: s, Detail: diags.Error()}
	}
	return fromCty(val), nil
}

// variables converts the table into the nested object values HCL evaluation
// expects: one top-level variable per resource type.
func (t Table) variables() map[string]cty.Value {
	vars := make(map[string]cty.Value, len(t))
	for typ, byName := range t {
		names := make(map[string]cty.Value, len(byName))
		for name, attrs := range byName {
			vals := make(map[string]cty.Value, len(attrs))
			for attr, v := range attrs {
				vals[attr] = toCty(v)
			}
			names[name] = cty.ObjectVal(vals)
		}
		vars[typ] = cty.ObjectVal(names)
	}
	return vars
}
