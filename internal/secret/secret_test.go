package secret

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString_RevealsOnlyExplicitly(t *testing.T) {
	s := New("sk-secret-123")
	assert.Equal(t, "sk-secret-123", s.Reveal())
	assert.False(t, s.IsZero())
}

func TestString_FormattingIsRedacted(t *testing.T) {
	s := New("sk-secret-123")

	assert.NotContains(t, s.String(), "sk-secret-123")
	assert.NotContains(t, fmt.Sprintf("%v", s), "sk-secret-123")
	assert.NotContains(t, fmt.Sprintf("%s", s), "sk-secret-123")
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-secret-123")
}

func TestString_JSONIsRedacted(t *testing.T) {
	payload := struct {
		Key String `json:"key"`
	}{Key: New("sk-secret-123")}

	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "sk-secret-123")
}

func TestString_Zero(t *testing.T) {
	var s String
	assert.True(t, s.IsZero())
	assert.Equal(t, "", s.Reveal())
	assert.False(t, New("x").IsZero())
}
