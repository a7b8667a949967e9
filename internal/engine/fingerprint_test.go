package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	inputs := map[string]any{
		"name": "gpu-vm",
		"boot_disk": map[string]any{
			"image":   "ubuntu-2404-lts",
			"size_gb": 100,
		},
		"network_tags": []any{"gpu-app", "ssh"},
	}

	first, err := Fingerprint(inputs)
	require.NoError(t, err)
	second, err := Fingerprint(inputs)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "sha256:"))
	assert.Len(t, first, len("sha256:")+64)
}

func TestFingerprint_InsensitiveToMapConstruction(t *testing.T) {
	a := map[string]any{"cidr": "10.0.1.0/24", "name": "gpu", "region": "us-east-1"}
	b := map[string]any{"region": "us-east-1", "name": "gpu", "cidr": "10.0.1.0/24"}

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_ChangesWithValues(t *testing.T) {
	base := map[string]any{"name": "gpu", "cidr": "10.0.1.0/24"}
	changed := map[string]any{"name": "gpu", "cidr": "10.0.2.0/24"}
	extra := map[string]any{"name": "gpu", "cidr": "10.0.1.0/24", "region": "us-east-1"}

	fpBase, err := Fingerprint(base)
	require.NoError(t, err)
	fpChanged, err := Fingerprint(changed)
	require.NoError(t, err)
	fpExtra, err := Fingerprint(extra)
	require.NoError(t, err)

	assert.NotEqual(t, fpBase, fpChanged)
	assert.NotEqual(t, fpBase, fpExtra)
}

func TestFingerprint_NormalizesDecoderMapTypes(t *testing.T) {
	// PKL decoding can surface nested objects as map[any]any.
	a := map[string]any{
		"allow": []any{
			map[any]any{"protocol": "tcp", "ports": []any{"5050"}},
		},
	}
	b := map[string]any{
		"allow": []any{
			map[string]any{"protocol": "tcp", "ports": []any{"5050"}},
		},
	}

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprint_ListOrderMatters(t *testing.T) {
	a := map[string]any{"source_ranges": []any{"10.0.0.0/8", "192.168.0.0/16"}}
	b := map[string]any{"source_ranges": []any{"192.168.0.0/16", "10.0.0.0/8"}}

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpB)
}
