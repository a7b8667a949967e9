package aws

import (
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIpPermissions_OneRulePerPort(t *testing.T) {
	perms, err := ipPermissions(firewallInputs{
		Name: "allow-app",
		Allow: []firewallRule{
			{Protocol: "tcp", Ports: []any{"5050", float64(22)}},
		},
		SourceRanges: []string{"0.0.0.0/0", "10.0.1.0/24"},
	})
	require.NoError(t, err)
	require.Len(t, perms, 2)

	assert.Equal(t, "tcp", awssdk.ToString(perms[0].IpProtocol))
	assert.Equal(t, int32(5050), awssdk.ToInt32(perms[0].FromPort))
	assert.Equal(t, int32(5050), awssdk.ToInt32(perms[0].ToPort))
	assert.Equal(t, int32(22), awssdk.ToInt32(perms[1].FromPort))

	require.Len(t, perms[0].IpRanges, 2)
	assert.Equal(t, "0.0.0.0/0", awssdk.ToString(perms[0].IpRanges[0].CidrIp))
}

func TestIpPermissions_DefaultsToTCP(t *testing.T) {
	perms, err := ipPermissions(firewallInputs{
		Name:  "allow-app",
		Allow: []firewallRule{{Ports: []any{float64(5050)}}},
	})
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "tcp", awssdk.ToString(perms[0].IpProtocol))
}

func TestIpPermissions_RejectsBadPort(t *testing.T) {
	_, err := ipPermissions(firewallInputs{
		Name:  "allow-app",
		Allow: []firewallRule{{Protocol: "tcp", Ports: []any{"http"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")
}

func TestPortNumber(t *testing.T) {
	n, err := portNumber(float64(443))
	require.NoError(t, err)
	assert.Equal(t, int32(443), n)

	n, err = portNumber("8080")
	require.NoError(t, err)
	assert.Equal(t, int32(8080), n)

	_, err = portNumber(true)
	assert.Error(t, err)
}

func TestFirewallTags_CarryTargetTags(t *testing.T) {
	in := firewallInputs{
		Name:       "allow-app",
		TargetTags: []string{"gpu-demo-app", "gpu-demo-admin"},
	}

	tags := firewallTags(in)
	require.Len(t, tags, 3)
	assert.Equal(t, "Name", *tags[0].Key)
	assert.Equal(t, "allow-app", *tags[0].Value)
	// Bare tag keys, matching the tag filter instances use to resolve
	// their groups at launch.
	assert.Equal(t, "gpu-demo-app", *tags[1].Key)
	assert.Equal(t, "", *tags[1].Value)
	assert.Equal(t, "gpu-demo-admin", *tags[2].Key)
}
