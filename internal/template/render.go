// Package template renders opaque text payloads, such as the instance startup
// script, against a set of named variables. Rendering is pure and strict:
// every referenced variable must be bound, and malformed placeholder syntax is
// rejected before any substitution happens.
package template

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// ParseError reports malformed placeholder syntax in a template body.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return "template parse error: " + e.Detail
}

// UnboundVariableError reports a template variable with no supplied value.
type UnboundVariableError struct {
	Variable string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("template references unbound variable %q", e.Variable)
}

// Render substitutes ${name} placeholders in body with the supplied variables
// and returns the rendered text. Deterministic for identical inputs; no
// partial results are produced on error. Callers must treat the result as an
// opaque blob and never log it, since variables may carry secrets.
func Render(body string, vars map[string]string) (string, error) {
	tmpl, diags := hclsyntax.ParseTemplate([]byte(body), "template", hcl.InitialPos)
	if diags.HasErrors() {
		return "", &ParseError{Detail: diags.Error()}
	}

	for _, tr := range tmpl.Variables() {
		if _, ok := vars[tr.RootName()]; !ok {
			return "", &UnboundVariableError{Variable: tr.RootName()}
		}
	}

	ctxVars := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		ctxVars[k] = cty.StringVal(v)
	}

	val, diags := tmpl.Value(&hcl.EvalContext{Variables: ctxVars})
	if diags.HasErrors() {
		return "", &ParseError{Detail: diags.Error()}
	}
	out, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", &ParseError{Detail: err.Error()}
	}
	return out.AsString(), nil
}
