package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
)

// fakeProvider records every engine call and serves canned computed
// attributes. failOn maps addresses to the error their apply should return.
type fakeProvider struct {
	applied []string
	deleted []string
	inputs  map[string]map[string]any
	failOn  map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		inputs: make(map[string]map[string]any),
		failOn: make(map[string]error),
	}
}

func (f *fakeProvider) Configure(ctx context.Context, settings map[string]string) error {
	return nil
}

func (f *fakeProvider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	addr := req.Type + "." + req.Name
	f.applied = append(f.applied, addr)

	if err, ok := f.failOn[addr]; ok {
		return nil, err
	}

	var inputs map[string]any
	if err := json.Unmarshal(req.InputsJSON, &inputs); err != nil {
		return nil, err
	}
	f.inputs[addr] = inputs

	outputs := map[string]any{"id": "fake-" + addr}
	switch req.Type {
	case ir.TypeAddress:
		outputs["address"] = "34.1.2.3"
	case ir.TypeInstance:
		outputs["private_ip"] = "10.0.0.2"
		outputs["public_ip"] = "34.1.2.3"
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return nil, err
	}
	return &provider.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (f *fakeProvider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	addr := req.Type + "." + req.Name
	f.deleted = append(f.deleted, addr)
	if err, ok := f.failOn[addr]; ok {
		return err
	}
	return nil
}

func newTestEngine(t *testing.T, fake *fakeProvider) *Engine {
	t.Helper()
	registry := provider.NewRegistry()
	registry.Register("test", func() provider.Interface { return fake })
	require.NoError(t, registry.Load(context.Background(), "test", nil))

	eng := NewEngine(registry)
	eng.Parallelism = 1
	return eng
}

func gpuConfig() *ir.Config {
	return &ir.Config{
		Resources: []*ir.Resource{
			{
				Type: ir.TypeNetwork, Name: "gpu", Provider: "test",
				Properties: map[string]any{"name": "gpu-net"},
			},
			{
				Type: ir.TypeSubnetwork, Name: "gpu", Provider: "test",
				Properties: map[string]any{
					"name":    "gpu-subnet",
					"network": "${compute_network.gpu.id}",
					"cidr":    "10.0.1.0/24",
				},
			},
			{
				Type: ir.TypeAddress, Name: "gpu", Provider: "test",
				Properties: map[string]any{"name": "gpu-ip"},
			},
			{
				Type: ir.TypeFirewall, Name: "app", Provider: "test",
				Properties: map[string]any{
					"name":    "allow-app",
					"network": "${compute_network.gpu.id}",
				},
			},
			{
				Type: ir.TypeInstance, Name: "gpu", Provider: "test",
				Properties: map[string]any{
					"name":       "gpu-vm",
					"subnetwork": "${compute_subnetwork.gpu.id}",
					"address":    "${compute_address.gpu.id}",
				},
			},
		},
		Outputs: map[string]string{
			"app_url": "http://${compute_address.gpu.address}:5050",
		},
	}
}

func TestApply_CreatesInDependencyOrder(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	result, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"compute_network.gpu",
		"compute_subnetwork.gpu",
		"compute_address.gpu",
		"compute_firewall.app",
		"compute_instance.gpu",
	}, fake.applied)
	assert.Equal(t, fake.applied, result.Applied)
	assert.Empty(t, result.Unapplied)
	assert.Len(t, state.Resources, 5)
}

func TestApply_ResolvesReferencesFromComputedAttributes(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	_, err := eng.Apply(context.Background(), gpuConfig(), &ir.State{Version: 1})
	require.NoError(t, err)

	assert.Equal(t, "fake-compute_network.gpu", fake.inputs["compute_subnetwork.gpu"]["network"])
	assert.Equal(t, "fake-compute_subnetwork.gpu", fake.inputs["compute_instance.gpu"]["subnetwork"])
	assert.Equal(t, "fake-compute_address.gpu", fake.inputs["compute_instance.gpu"]["address"])
}

func TestApply_SecondRunMakesZeroProviderCalls(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	_, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	fake.applied = nil
	result, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	assert.Empty(t, fake.applied, "unchanged declaration must not reach the provider")
	assert.Empty(t, fake.deleted)
	assert.Empty(t, result.Applied)
	assert.Len(t, result.Skipped, 5)
}

func TestApply_OutputResolution(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	result, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	assert.Equal(t, "http://34.1.2.3:5050", result.Outputs["app_url"])
	assert.Equal(t, result.Outputs, state.Outputs)
}

func TestApply_FailureHaltsDependentsOnly(t *testing.T) {
	fake := newFakeProvider()
	fake.failOn["compute_subnetwork.gpu"] = fmt.Errorf("quota exceeded")
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	result, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "compute_subnetwork.gpu", provErr.Address)
	assert.Contains(t, provErr.Error(), "quota exceeded")

	// The instance depends on the failed subnetwork; the firewall and address
	// do not and must still converge.
	assert.Equal(t, []string{"compute_subnetwork.gpu", "compute_instance.gpu"}, result.Unapplied)
	assert.Equal(t, []string{"compute_instance.gpu"}, provErr.Unapplied)
	assert.ElementsMatch(t,
		[]string{"compute_network.gpu", "compute_address.gpu", "compute_firewall.app"},
		result.Applied)

	// Partial progress is preserved for the resources that did succeed.
	assert.NotNil(t, state.ResourceByAddr("compute_network.gpu"))
	assert.Nil(t, state.ResourceByAddr("compute_subnetwork.gpu"))
	assert.Nil(t, state.ResourceByAddr("compute_instance.gpu"))
}

func TestApply_RetryAfterFailureSkipsSurvivors(t *testing.T) {
	fake := newFakeProvider()
	fake.failOn["compute_instance.gpu"] = fmt.Errorf("insufficient capacity")
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	_, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.Error(t, err)

	delete(fake.failOn, "compute_instance.gpu")
	fake.applied = nil
	result, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"compute_instance.gpu"}, fake.applied)
	assert.Equal(t, []string{"compute_instance.gpu"}, result.Applied)
	assert.Len(t, result.Skipped, 4)
}

func TestApply_CycleMakesZeroProviderCalls(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: ir.TypeNetwork, Name: "a", Provider: "test", DependsOn: []string{"compute_network.b"}},
			{Type: ir.TypeNetwork, Name: "b", Provider: "test", DependsOn: []string{"compute_network.a"}},
		},
	}

	_, err := eng.Apply(context.Background(), cfg, &ir.State{Version: 1})
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Empty(t, fake.applied)
}

func TestApply_UpdateOnChangedInputs(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}
	cfg := gpuConfig()

	_, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)

	fake.applied = nil
	cfg.Resources[1].Properties["cidr"] = "10.0.2.0/24"
	result, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)

	// Only the changed resource reaches the provider. Its dependents are
	// re-fingerprinted but their resolved inputs are unchanged.
	assert.Equal(t, []string{"compute_subnetwork.gpu"}, fake.applied)
	assert.Equal(t, []string{"compute_subnetwork.gpu"}, result.Applied)
	assert.Equal(t, "10.0.2.0/24", state.ResourceByAddr("compute_subnetwork.gpu").Inputs["cidr"])
}

func TestApply_DestroysRemovedResourcesInReverseOrder(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}
	cfg := gpuConfig()

	_, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)

	// Drop everything: destruction must be the exact reverse of creation.
	empty := &ir.Config{}
	result, err := eng.Apply(context.Background(), empty, state)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"compute_instance.gpu",
		"compute_firewall.app",
		"compute_address.gpu",
		"compute_subnetwork.gpu",
		"compute_network.gpu",
	}, fake.deleted)
	assert.Equal(t, fake.deleted, result.Destroyed)
	assert.Empty(t, state.Resources)
}

func TestApply_SensitiveInputsRedactedInState(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

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

	_, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)

	rec := state.ResourceByAddr("compute_instance.gpu")
	require.NotNil(t, rec)
	assert.Equal(t, ir.RedactedValue, rec.Inputs["startup_script"])

	// The fingerprint covers the unredacted value, so changing the secret
	// still forces a provider call.
	fake.applied = nil
	cfg.Resources[0].Properties["startup_script"] = "export API_KEY=sk-rotated-456"
	result, err := eng.Apply(context.Background(), cfg, state)
	require.NoError(t, err)
	assert.Equal(t, []string{"compute_instance.gpu"}, result.Applied)
}

func TestApply_TemplatePayloadRendered(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type: ir.TypeInstance, Name: "gpu", Provider: "test",
				Properties: map[string]any{
					"name": "gpu-vm",
					"startup_script": map[string]any{
						"template": "git clone ${repo_url}\nexport API_KEY=${api_key}\n",
						"vars": map[string]any{
							"repo_url": "https://github.com/example/inference.git",
							"api_key":  "sk-secret-123",
						},
					},
				},
			},
		},
	}

	_, err := eng.Apply(context.Background(), cfg, &ir.State{Version: 1})
	require.NoError(t, err)

	script, ok := fake.inputs["compute_instance.gpu"]["startup_script"].(string)
	require.True(t, ok, "payload block should collapse to rendered text")
	assert.Equal(t, "git clone https://github.com/example/inference.git\nexport API_KEY=sk-secret-123\n", script)
}

func TestApply_EmitsProgressEvents(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	var events []Event
	_, err := eng.ApplyWithCallback(context.Background(), gpuConfig(), state, func(ev Event) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	statuses := make(map[string]int)
	for _, ev := range events {
		statuses[ev.Status]++
	}
	assert.Equal(t, 5, statuses["started"])
	assert.Equal(t, 5, statuses["completed"])

	var second []Event
	_, err = eng.ApplyWithCallback(context.Background(), gpuConfig(), state, func(ev Event) {
		second = append(second, ev)
	})
	require.NoError(t, err)
	require.Len(t, second, 5)
	for _, ev := range second {
		assert.Equal(t, "skipped", ev.Status)
		assert.Equal(t, ir.ActionNoop, ev.Action)
	}
}

func TestApply_ParallelConvergesSameState(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	eng.Parallelism = 4
	state := &ir.State{Version: 1}

	result, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	assert.Len(t, result.Applied, 5)
	assert.Len(t, state.Resources, 5)
	assert.Equal(t, "http://34.1.2.3:5050", result.Outputs["app_url"])

	// Dependency edges still hold under the parallel walk.
	assert.Less(t, indexOf(fake.applied, "compute_network.gpu"), indexOf(fake.applied, "compute_subnetwork.gpu"))
	assert.Less(t, indexOf(fake.applied, "compute_subnetwork.gpu"), indexOf(fake.applied, "compute_instance.gpu"))
}

func TestApply_DeleteFailureReported(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)
	state := &ir.State{Version: 1}

	_, err := eng.Apply(context.Background(), gpuConfig(), state)
	require.NoError(t, err)

	fake.failOn["compute_network.gpu"] = fmt.Errorf("dependency violation")
	_, err = eng.Apply(context.Background(), &ir.Config{}, state)
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "compute_network.gpu", provErr.Address)
	// The record whose delete failed stays in state for the next attempt.
	assert.NotNil(t, state.ResourceByAddr("compute_network.gpu"))
}

func TestApply_UnknownProvider(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: ir.TypeNetwork, Name: "gpu", Provider: "missing"},
		},
	}
	_, err := eng.Apply(context.Background(), cfg, &ir.State{Version: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not loaded")
	assert.Empty(t, fake.applied)
}

func TestApply_TemplatePayloadResolvesVarReferences(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type: ir.TypeInstance, Name: "gpu", Provider: "test",
				Properties: map[string]any{
					"name": "gpu-vm",
					"startup_script": map[string]any{
						"template": "endpoint http://${endpoint}:5050\n",
						"vars": map[string]any{
							"endpoint": "${compute_address.gpu.address}",
						},
					},
				},
			},
			{
				Type: ir.TypeAddress, Name: "gpu", Provider: "test",
				Properties: map[string]any{"name": "gpu-ip"},
			},
		},
	}

	_, err := eng.Apply(context.Background(), cfg, &ir.State{Version: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{"compute_address.gpu", "compute_instance.gpu"}, fake.applied)
	script, ok := fake.inputs["compute_instance.gpu"]["startup_script"].(string)
	require.True(t, ok, "payload block should collapse to rendered text")
	assert.Equal(t, "endpoint http://34.1.2.3:5050\n", script)
}

func TestApply_UnresolvedReferenceAbortsRun(t *testing.T) {
	fake := newFakeProvider()
	eng := newTestEngine(t, fake)

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{
				Type: ir.TypeNetwork, Name: "gpu", Provider: "test",
				Properties: map[string]any{"name": "gpu-net"},
			},
			{
				Type: ir.TypeSubnetwork, Name: "gpu", Provider: "test",
				Properties: map[string]any{"network": "${compute_network.gpu.no_such_attr}"},
			},
		},
	}

	result, err := eng.Apply(context.Background(), cfg, &ir.State{Version: 1})
	require.Error(t, err)

	var unresolved *UnresolvedReferenceError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "compute_subnetwork.gpu", unresolved.Address)

	var provErr *ProviderError
	assert.False(t, errors.As(err, &provErr), "a planner defect must not surface as a provider failure")

	assert.Equal(t, []string{"compute_network.gpu"}, fake.applied)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{"compute_subnetwork.gpu"}, result.Unapplied)
}
