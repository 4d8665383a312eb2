package chunkstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, false)
	require.NoError(t, err)

	data := []byte("hello chunk world")
	chunk, err := s.Put(128, data)
	require.NoError(t, err)
	assert.Equal(t, IDOf(data), chunk.ID)

	got, err := s.Get(chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
	assert.Equal(t, uint64(128), got.Offset)
}

func TestPutGetRoundTrip_Compressed(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, true)
	require.NoError(t, err)

	data := []byte("compressible compressible compressible compressible data")
	chunk, err := s.Put(0, data)
	require.NoError(t, err)

	got, err := s.Get(chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
}

func TestPut_Deduplicates(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, false)
	require.NoError(t, err)

	data := []byte("same content")
	first, err := s.Put(0, data)
	require.NoError(t, err)
	second, err := s.Put(64, data)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestVerify_DetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, false)
	require.NoError(t, err)

	data := []byte("integrity check me")
	chunk, err := s.Put(0, data)
	require.NoError(t, err)
	assert.True(t, s.Verify(chunk.ID))

	path := s.path(chunk.ID)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	assert.False(t, s.Verify(chunk.ID))
}

func TestGet_MissingChunkFails(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, false)
	require.NoError(t, err)

	_, err = s.Get(IDOf([]byte("never written")))
	require.Error(t, err)
}
