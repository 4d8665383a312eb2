package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPut(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute, TrackStats: true})

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", []string{"a", "b"})
	val, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, val)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestExpiry(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: 20 * time.Millisecond})
	c.Put("k", []string{"a"})

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must not be observed after expiry")
}

func TestMaxEntriesOneStillWorks(t *testing.T) {
	c := New(Config{MaxEntries: 1, TTL: time.Minute})

	c.Put("a", []string{"1"})
	c.Put("b", []string{"2"})

	_, aPresent := c.Get("a")
	bVal, bPresent := c.Get("b")

	assert.False(t, aPresent, "a should have been evicted")
	require.True(t, bPresent)
	assert.Equal(t, []string{"2"}, bVal)
}

func TestEvictionWithStatsTrackingDoesNotDeadlock(t *testing.T) {
	c := New(Config{MaxEntries: 1, TTL: time.Minute, TrackStats: true})

	c.Put("a", []string{"1"})
	c.Put("b", []string{"2"})

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestClear(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	c.Put("a", []string{"1"})
	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRemove(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	c.Put("a", []string{"1"})

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestPutValuesAreCopiedNotAliased(t *testing.T) {
	c := New(Config{MaxEntries: 10, TTL: time.Minute})
	original := []string{"a", "b"}
	c.Put("k", original)
	original[0] = "mutated"

	val, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "a", val[0])
}
