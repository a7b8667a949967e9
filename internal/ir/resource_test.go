package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResource_Addr(t *testing.T) {
	res := &Resource{Type: TypeInstance, Name: "gpu"}
	assert.Equal(t, "compute_instance.gpu", res.Addr())
}

func TestRedactInputs(t *testing.T) {
	res := &Resource{
		Type: TypeInstance, Name: "gpu",
		Sensitive: []string{"startup_script"},
	}
	inputs := map[string]any{
		"name":           "gpu-vm",
		"startup_script": "export API_KEY=sk-secret-123",
	}

	redacted := res.RedactInputs(inputs)
	assert.Equal(t, RedactedValue, redacted["startup_script"])
	assert.Equal(t, "gpu-vm", redacted["name"])

	// The source map is untouched.
	assert.Equal(t, "export API_KEY=sk-secret-123", inputs["startup_script"])
}

func TestRedactInputs_NoSensitiveProperties(t *testing.T) {
	res := &Resource{Type: TypeNetwork, Name: "gpu"}
	inputs := map[string]any{"name": "gpu-net"}
	assert.Equal(t, inputs, res.RedactInputs(inputs))
}

func TestState_UpsertAndRemove(t *testing.T) {
	s := &State{Version: 1}

	s.Upsert(&ResourceState{Type: TypeNetwork, Name: "gpu", InputsHash: "sha256:a"})
	s.Upsert(&ResourceState{Type: TypeAddress, Name: "gpu", InputsHash: "sha256:b"})
	assert.Len(t, s.Resources, 2)

	s.Upsert(&ResourceState{Type: TypeNetwork, Name: "gpu", InputsHash: "sha256:c"})
	assert.Len(t, s.Resources, 2)
	assert.Equal(t, "sha256:c", s.ResourceByAddr("compute_network.gpu").InputsHash)

	s.Remove("compute_network.gpu")
	assert.Nil(t, s.ResourceByAddr("compute_network.gpu"))
	assert.Len(t, s.Resources, 1)

	s.Remove("compute_network.missing")
	assert.Len(t, s.Resources, 1)
}
