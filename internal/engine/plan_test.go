package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
)

func planChange(plan *ir.Plan, addr string) *ir.ResourceChange {
	for _, ch := range plan.Changes {
		if ch.Address == addr {
			return ch
		}
	}
	return nil
}

func TestCreatePlan_AllCreatesOnEmptyState(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	plan, err := eng.CreatePlan(context.Background(), gpuConfig(), &ir.State{Version: 1})
	require.NoError(t, err)

	assert.True(t, plan.HasChanges())
	assert.Equal(t, 5, plan.Summary.Create)
	assert.Equal(t, 0, plan.Summary.Update)
	assert.Equal(t, 0, plan.Summary.Delete)
	assert.Empty(t, fake.applied, "planning never reaches the provider")

	ch := planChange(plan, "compute_network.gpu")
	require.NotNil(t, ch)
	assert.Equal(t, ir.ActionCreate, ch.Action)
}

func TestCreatePlan_NoChangesAfterApply(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	_, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	plan, err := eng.CreatePlan(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	assert.False(t, plan.HasChanges())
	assert.Equal(t, 5, plan.Summary.NoOp)
}

func TestCreatePlan_UpdateOnDrift(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}
	cfg := gpuConfig()

	_, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)

	cfg.Resources[2].Properties["name"] = "gpu-ip-renamed"
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)

	ch := planChange(plan, "compute_address.gpu")
	require.NotNil(t, ch)
	assert.Equal(t, ir.ActionUpdate, ch.Action)

	diff, ok := ch.Diff["name"]
	require.True(t, ok)
	assert.Equal(t, "gpu-ip", diff.Before)
	assert.Equal(t, "gpu-ip-renamed", diff.After)
}

func TestCreatePlan_DeleteForRemovedResources(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}
	cfg := gpuConfig()

	_, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)

	// Drop the instance from the declaration.
	cfg.Resources = cfg.Resources[:4]
	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)

	assert.Equal(t, 1, plan.Summary.Delete)
	ch := planChange(plan, "compute_instance.gpu")
	require.NotNil(t, ch)
	assert.Equal(t, ir.ActionDelete, ch.Action)
	assert.Empty(t, fake.deleted, "planning never reaches the provider")
}

func TestCreatePlan_SensitiveDiffRedacted(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type: ir.TypeInstance, Name: "gpu", Provider: "test",
				Sensitive: []string{"startup_script"},
				Properties: map[string]any{
					"name":           "gpu-vm",
					"startup_script": "export API_KEY=sk-secret-123",
				},
			},
		},
	}

	plan, err := eng.CreatePlan(context.Background(), cfg, &ir.State{Version: 1})
	require.NoError(t, err)

	ch := planChange(plan, "compute_instance.gpu")
	require.NotNil(t, ch)
	diff := ch.Diff["startup_script"]
	require.NotNil(t, diff)
	assert.True(t, diff.Sensitive)
	assert.Equal(t, ir.RedactedValue, diff.After)
}

func TestCreatePlan_CancelledContext(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.CreatePlan(ctx, gpuConfig(), &ir.State{Version: 1})
	assert.ErrorIs(t, err, context.Canceled)
}
