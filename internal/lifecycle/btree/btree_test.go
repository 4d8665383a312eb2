package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertSearch(t *testing.T) {
	tr, err := Open(t.TempDir(), 2, 100)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%03d", i)
		require.NoError(t, tr.Insert(key, fmt.Sprintf("/path/%d", i)))
	}

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%03d", i)
		val, ok := tr.Search(key)
		require.True(t, ok, key)
		assert.Equal(t, fmt.Sprintf("/path/%d", i), val)
	}

	_, ok := tr.Search("missing-key")
	assert.False(t, ok)
	assert.Equal(t, 50, tr.Len())
}

func TestInsert_OverwritesExistingKey(t *testing.T) {
	tr, err := Open(t.TempDir(), 2, 100)
	require.NoError(t, err)

	require.NoError(t, tr.Insert("a", "first"))
	require.NoError(t, tr.Insert("a", "second"))

	val, ok := tr.Search("a")
	require.True(t, ok)
	assert.Equal(t, "second", val)
	assert.Equal(t, 1, tr.Len())
}

func TestOpen_ReloadsPersistedTree(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, 2, 100)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		require.NoError(t, tr.Insert(fmt.Sprintf("k%02d", i), fmt.Sprintf("v%02d", i)))
	}

	reopened, err := Open(dir, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, 30, reopened.Len())

	val, ok := reopened.Search("k15")
	require.True(t, ok)
	assert.Equal(t, "v15", val)
}

func TestBulkLoad(t *testing.T) {
	tr, err := Open(t.TempDir(), 4, 100)
	require.NoError(t, err)

	var entries []Entry
	for i := 0; i < 200; i++ {
		entries = append(entries, Entry{Key: fmt.Sprintf("bk-%04d", i), Value: fmt.Sprintf("val-%d", i)})
	}

	require.NoError(t, tr.BulkLoad(entries))
	assert.Equal(t, 200, tr.Len())

	for _, e := range entries {
		val, ok := tr.Search(e.Key)
		require.True(t, ok, e.Key)
		assert.Equal(t, e.Value, val)
	}
}

func TestBulkLoad_Empty(t *testing.T) {
	tr, err := Open(t.TempDir(), 4, 100)
	require.NoError(t, err)
	require.NoError(t, tr.BulkLoad(nil))
	assert.Equal(t, 0, tr.Len())
}
