package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/internal/capability/cache"
	"github.com/agentcore/agentcore/internal/version"
)

func imgProc(v version.Version, params Parameters) Capability {
	return Capability{Name: "img.proc", Version: v, Parameters: params}
}

func TestDiscover_EmptyRequiredReturnsEmpty(t *testing.T) {
	reg := NewRegistry(nil, nil)
	assert.Equal(t, []string{}, reg.Discover(nil, false))
	assert.Equal(t, []string{}, reg.Discover([]Capability{}, true))
}

func TestDiscover_ExactAndPartial(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.True(t, reg.Register("agentA", imgProc(version.New(1, 0, 0), nil)))
	require.True(t, reg.Register("agentB", imgProc(version.New(2, 0, 0), nil)))
	require.True(t, reg.Register("agentC", imgProc(version.New(1, 5, 0), NewParameters().Set("mode", "fast"))))

	exact := reg.Discover([]Capability{imgProc(version.New(1, 0, 0), nil)}, false)
	assert.ElementsMatch(t, []string{"agentA", "agentC"}, exact)

	partial := reg.Discover([]Capability{imgProc(version.New(1, 0, 0), nil)}, true)
	assert.ElementsMatch(t, []string{"agentA", "agentB", "agentC"}, partial)

	withParams := reg.Discover([]Capability{imgProc(version.New(1, 5, 0), NewParameters().Set("mode", "fast"))}, true)
	assert.ElementsMatch(t, []string{"agentC"}, withParams)
}

func TestRegister_RejectsEmptyInputs(t *testing.T) {
	reg := NewRegistry(nil, nil)
	assert.False(t, reg.Register("", imgProc(version.New(1, 0, 0), nil)))
	assert.False(t, reg.Register("agentA", Capability{}))
}

func TestRegister_DuplicateReturnsFalse(t *testing.T) {
	reg := NewRegistry(nil, nil)
	cap := imgProc(version.New(1, 0, 0), nil)
	assert.True(t, reg.Register("agentA", cap))
	assert.False(t, reg.Register("agentA", cap))
	assert.Len(t, reg.GetAgentCapabilities("agentA"), 1)
}

func TestUnregister_PrunesIndexAndAgent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	cap := imgProc(version.New(1, 0, 0), nil)
	require.True(t, reg.Register("agentA", cap))

	assert.True(t, reg.Unregister("agentA", cap))
	assert.False(t, reg.Unregister("agentA", cap))
	assert.Empty(t, reg.GetAgentCapabilities("agentA"))

	assert.Empty(t, reg.Discover([]Capability{cap}, true))
}

func TestRemoveAgent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.True(t, reg.Register("agentA", imgProc(version.New(1, 0, 0), nil)))
	require.True(t, reg.Register("agentA", Capability{Name: "other", Version: version.New(1, 0, 0)}))

	assert.Equal(t, 2, reg.RemoveAgent("agentA"))
	assert.Equal(t, 0, reg.RemoveAgent("agentA"))
}

func TestCacheInvalidatedOnRegister(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 10, TTL: 5 * time.Minute})
	reg := NewRegistry(c, nil)

	require.True(t, reg.Register("agentA", imgProc(version.New(1, 0, 0), nil)))
	first := reg.Discover([]Capability{imgProc(version.New(1, 0, 0), nil)}, false)
	assert.ElementsMatch(t, []string{"agentA"}, first)
	assert.Equal(t, 1, c.Len())

	require.True(t, reg.Register("agentB", imgProc(version.New(1, 0, 0), nil)))
	assert.Equal(t, 0, c.Len(), "mutation must clear the cache")

	second := reg.Discover([]Capability{imgProc(version.New(1, 0, 0), nil)}, false)
	assert.ElementsMatch(t, []string{"agentA", "agentB"}, second)
}

func TestDiscover_PartialQueriesBypassCache(t *testing.T) {
	c := cache.New(cache.Config{MaxEntries: 10, TTL: 5 * time.Minute})
	reg := NewRegistry(c, nil)
	require.True(t, reg.Register("agentA", imgProc(version.New(1, 0, 0), nil)))

	reg.Discover([]Capability{imgProc(version.New(1, 0, 0), nil)}, true)
	assert.Equal(t, 0, c.Len())
}

func TestFingerprint_OrderSensitive(t *testing.T) {
	a := []Capability{imgProc(version.New(1, 0, 0), nil), {Name: "other", Version: version.New(1, 0, 0)}}
	b := []Capability{{Name: "other", Version: version.New(1, 0, 0)}, imgProc(version.New(1, 0, 0), nil)}
	assert.NotEqual(t, fingerprintOf(a), fingerprintOf(b))
}
