// Package chunkstore persists content-addressed state chunks to disk.
// Each chunk file is framed as a little-endian u32 metadata length, the
// metadata document, then the (possibly compressed) payload bytes.
package chunkstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/agentcore/agentcore/internal/resilience"
)

// Metadata travels alongside a chunk's payload in its on-disk file.
type Metadata struct {
	Offset   uint64 `json:"offset"`
	Checksum string `json:"checksum"`
}

// Chunk is one content-addressed unit of a chunked snapshot.
type Chunk struct {
	ID       string // hex SHA-256 of the uncompressed content
	Offset   uint64
	Data     []byte // possibly compressed on disk; always uncompressed here
	Checksum string // equals ID
}

// Store writes and reads chunk files under root/<chunk_id>.bin.
type Store struct {
	root     string
	compress bool
}

// New returns a Store rooted at dir. If compress is true, payloads are
// zstd-compressed before being written to disk.
func New(dir string, compress bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}
	return &Store{root: dir, compress: compress}, nil
}

// IDOf returns the content-addressed id (hex SHA-256) of data.
func IDOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes a chunk at offset, deduplicating by content address: if a file
// for this content's id already exists, it is left untouched.
func (s *Store) Put(offset uint64, data []byte) (Chunk, error) {
	id := IDOf(data)
	path := s.path(id)

	if _, err := os.Stat(path); err == nil {
		return Chunk{ID: id, Offset: offset, Data: data, Checksum: id}, nil
	}

	payload := data
	if s.compress {
		var err error
		payload, err = zstdCompress(data)
		if err != nil {
			return Chunk{}, fmt.Errorf("chunkstore: compress: %w", err)
		}
	}

	meta := Metadata{Offset: offset, Checksum: id}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: marshal metadata: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}
	defer os.Remove(tmp)

	if err := binary.Write(f, binary.LittleEndian, uint32(len(metaBytes))); err != nil {
		f.Close()
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}
	if _, err := f.Write(metaBytes); err != nil {
		f.Close()
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}

	return Chunk{ID: id, Offset: offset, Data: data, Checksum: id}, nil
}

// Get reads and decompresses the chunk with the given content id, verifying
// that its content hash still equals id.
func (s *Store) Get(id string) (Chunk, error) {
	path := s.path(id)
	f, err := os.Open(path)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrNotFound, err)
	}
	defer f.Close()

	var metaLen uint32
	if err := binary.Read(f, binary.LittleEndian, &metaLen); err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIntegrityFailure, err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(f, metaBytes); err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIntegrityFailure, err)
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIntegrityFailure, err)
	}

	rest, err := io.ReadAll(f)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunkstore: %w: %v", resilience.ErrIOFailure, err)
	}

	payload := rest
	if s.compress {
		payload, err = zstdDecompress(rest)
		if err != nil {
			return Chunk{}, fmt.Errorf("chunkstore: decompress: %w: %v", resilience.ErrIntegrityFailure, err)
		}
	}

	if IDOf(payload) != id {
		return Chunk{}, fmt.Errorf("chunkstore: %w: content hash mismatch for %s", resilience.ErrIntegrityFailure, id)
	}

	return Chunk{ID: id, Offset: meta.Offset, Data: payload, Checksum: meta.Checksum}, nil
}

// Verify reports whether the chunk file for id still hashes to id, without
// returning its content.
func (s *Store) Verify(id string) bool {
	_, err := s.Get(id)
	return err == nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+".bin")
}

func zstdCompress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
