package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const startupScript = `#!/usr/bin/env bash
set -euo pipefail

git clone ${repo_url} /opt/app
export API_KEY=${api_key}
/opt/app/serve --port 5050
`

func TestRender_SubstitutesAllVariables(t *testing.T) {
	out, err := Render(startupScript, map[string]string{
		"repo_url": "https://github.com/example/inference.git",
		"api_key":  "sk-secret-123",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "git clone https://github.com/example/inference.git /opt/app")
	assert.Contains(t, out, "export API_KEY=sk-secret-123")
	assert.NotContains(t, out, "${", "no placeholder may survive rendering")
}

func TestRender_Deterministic(t *testing.T) {
	vars := map[string]string{"repo_url": "https://example.com/r.git", "api_key": "k"}
	first, err := Render(startupScript, vars)
	require.NoError(t, err)
	second, err := Render(startupScript, vars)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_UnboundVariable(t *testing.T) {
	_, err := Render(startupScript, map[string]string{
		"repo_url": "https://example.com/r.git",
	})
	require.Error(t, err)

	var unbound *UnboundVariableError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "api_key", unbound.Variable)
}

func TestRender_MalformedPlaceholder(t *testing.T) {
	_, err := Render("export API_KEY=${api_key", map[string]string{"api_key": "k"})
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestRender_ExtraVariablesIgnored(t *testing.T) {
	out, err := Render("hello ${name}", map[string]string{"name": "world", "unused": "x"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRender_NoPlaceholders(t *testing.T) {
	body := "#!/bin/sh\necho static\n"
	out, err := Render(body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestRender_RepeatedVariable(t *testing.T) {
	out, err := Render("${v} and ${v}", map[string]string{"v": "x"})
	require.NoError(t, err)
	assert.Equal(t, "x and x", out)
	assert.Equal(t, 2, strings.Count(out, "x"))
}
