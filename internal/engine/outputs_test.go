package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/expr"
)

func TestResolveOutputs_InterpolatesComputedAttributes(t *testing.T) {
	table := make(expr.Table)
	table.Put("compute_address", "gpu", map[string]any{"id": "eipalloc-1", "address": "34.1.2.3"})

	outputs, err := ResolveOutputs(map[string]string{
		"app_url":    "http://${compute_address.gpu.address}:5050",
		"address_id": "${compute_address.gpu.id}",
	}, table)
	require.NoError(t, err)

	assert.Equal(t, "http://34.1.2.3:5050", outputs["app_url"])
	assert.Equal(t, "eipalloc-1", outputs["address_id"])
}

func TestResolveOutputs_Empty(t *testing.T) {
	outputs, err := ResolveOutputs(nil, make(expr.Table))
	require.NoError(t, err)
	assert.Nil(t, outputs)
}

func TestResolveOutputs_UnresolvedReference(t *testing.T) {
	table := make(expr.Table)
	table.Put("compute_network", "gpu", map[string]any{"id": "vpc-1"})

	_, err := ResolveOutputs(map[string]string{
		"app_url": "http://${compute_address.gpu.address}:5050",
	}, table)
	require.Error(t, err)

	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "output.app_url", unresolved.Address)
	assert.Contains(t, unresolved.Ref, "compute_address.gpu.address")
}

func TestResolveOutputs_LiteralPassThrough(t *testing.T) {
	outputs, err := ResolveOutputs(map[string]string{
		"region": "us-east-1",
	}, make(expr.Table))
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", outputs["region"])
}
