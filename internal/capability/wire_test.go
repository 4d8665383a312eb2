package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/internal/version"
)

func TestEncodeDecodeCapability_RoundTrip(t *testing.T) {
	c := Capability{
		Name:       "img.proc",
		Version:    version.New(1, 5, 0),
		Parameters: NewParameters().Set("mode", "fast").Set("quality", "high"),
	}

	encoded, err := EncodeCapability(c)
	require.NoError(t, err)

	decoded, consumed, err := DecodeCapability(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), consumed)
	assert.Equal(t, c.Name, decoded.Name)
	assert.Equal(t, c.Version, decoded.Version)
	assert.Equal(t, c.Parameters, decoded.Parameters)
}

func TestEncodeCapability_RejectsEmptyName(t *testing.T) {
	_, err := EncodeCapability(Capability{})
	require.Error(t, err)
}

func TestEncodeDecodeAgentCapabilities_RoundTrip(t *testing.T) {
	caps := []Capability{
		{Name: "a", Version: version.New(1, 0, 0)},
		{Name: "b", Version: version.New(2, 1, 3), Parameters: NewParameters().Set("k", "v")},
	}

	blob, err := EncodeAgentCapabilities(caps)
	require.NoError(t, err)

	decoded, err := DecodeAgentCapabilities(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, caps[0].Name, decoded[0].Name)
	assert.Equal(t, caps[1].Parameters, decoded[1].Parameters)
}

func TestRegisterBinary_RoundTripsThroughRegistry(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := Capability{Name: "x.y", Version: version.New(1, 0, 0)}
	encoded, err := EncodeCapability(c)
	require.NoError(t, err)

	assert.True(t, reg.RegisterBinary("agentA", encoded))

	blob, err := reg.GetAgentCapabilitiesBinary("agentA")
	require.NoError(t, err)

	decoded, err := DecodeAgentCapabilities(blob)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "x.y", decoded[0].Name)
}
