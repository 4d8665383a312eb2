// Package btree is an on-disk B-tree mapping chunk ids to filesystem paths,
// used by the rollback store for O(log n) random access at scale. Nodes are
// persisted individually; an in-memory LRU bounds how many are resident.
package btree

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentcore/agentcore/internal/resilience"
)

// Entry is one key/value pair indexed by the tree.
type Entry struct {
	Key   string
	Value string
}

type node struct {
	id       string
	isLeaf   bool
	keys     []string
	values   []string
	children []string // child node ids, len == len(keys)+1 when non-leaf
}

func (n *node) computeID() string {
	var buf bytes.Buffer
	for _, k := range n.keys {
		buf.WriteString(k)
		buf.WriteByte(0)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Tree is a disk-backed B-tree of min degree Order (max 2*Order-1 keys per
// node). A zero Tree is not usable; construct with Open.
type Tree struct {
	dir   string
	order int
	cache *lru.Cache[string, *node]
	root  *node
	size  int
}

const rootFileName = "ROOT"

// Open loads (or initializes) a tree rooted at dir. order is the B-tree's
// min degree (spec requires >=64); nodeCacheSize bounds resident nodes.
func Open(dir string, order, nodeCacheSize int) (*Tree, error) {
	if order < 2 {
		order = 64
	}
	if nodeCacheSize <= 0 {
		nodeCacheSize = 1000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrIOFailure, err)
	}
	cache, err := lru.New[string, *node](nodeCacheSize)
	if err != nil {
		return nil, err
	}
	t := &Tree{dir: dir, order: order, cache: cache}

	rootID, err := os.ReadFile(filepath.Join(dir, rootFileName))
	if err != nil {
		if os.IsNotExist(err) {
			t.root = &node{isLeaf: true}
			return t, nil
		}
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrIOFailure, err)
	}

	root, err := t.loadNode(string(rootID))
	if err != nil {
		return nil, err
	}
	t.root = root
	t.size = t.countEntries(root)
	return t, nil
}

// Len returns the number of entries currently indexed.
func (t *Tree) Len() int { return t.size }

// Search returns the value for key, if present.
func (t *Tree) Search(key string) (string, bool) {
	return t.searchNode(t.root, key)
}

func (t *Tree) searchNode(n *node, key string) (string, bool) {
	i := sort.SearchStrings(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return n.values[i], true
	}
	if n.isLeaf {
		return "", false
	}
	child, err := t.loadNode(n.children[i])
	if err != nil {
		return "", false
	}
	return t.searchNode(child, key)
}

// Insert adds or overwrites key -> value, splitting full nodes proactively
// on the way down, and persists every touched node.
func (t *Tree) Insert(key, value string) error {
	if t.root == nil {
		t.root = &node{isLeaf: true}
	}
	maxKeys := 2*t.order - 1
	if len(t.root.keys) == maxKeys {
		newRoot := &node{isLeaf: false, children: []string{t.persistedID(t.root)}}
		if err := t.saveNode(t.root); err != nil {
			return err
		}
		if err := t.splitChild(newRoot, 0, t.root); err != nil {
			return err
		}
		t.root = newRoot
	}
	updated, isNew := t.insertNonFull(t.root, key, value)
	if isNew {
		t.size++
	}
	t.root = updated
	if err := t.saveNode(t.root); err != nil {
		return err
	}
	return t.saveRootPointer()
}

func (t *Tree) insertNonFull(n *node, key, value string) (*node, bool) {
	i := sort.SearchStrings(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		n.values[i] = value
		t.saveNode(n)
		return n, false
	}

	if n.isLeaf {
		n.keys = append(n.keys, "")
		n.values = append(n.values, "")
		copy(n.keys[i+1:], n.keys[i:])
		copy(n.values[i+1:], n.values[i:])
		n.keys[i] = key
		n.values[i] = value
		t.saveNode(n)
		return n, true
	}

	child, err := t.loadNode(n.children[i])
	if err != nil {
		return n, false
	}
	maxKeys := 2*t.order - 1
	if len(child.keys) == maxKeys {
		if err := t.splitChild(n, i, child); err != nil {
			return n, false
		}
		if key > n.keys[i] {
			i++
		} else if key == n.keys[i] {
			n.values[i] = value
			t.saveNode(n)
			return n, false
		}
		child, err = t.loadNode(n.children[i])
		if err != nil {
			return n, false
		}
	}
	_, isNew := t.insertNonFull(child, key, value)
	// The child was re-saved under an id derived from its new key set, so
	// the parent must point at that id before it is persisted.
	n.children[i] = t.persistedID(child)
	t.saveNode(n)
	return n, isNew
}

// splitChild splits full child (the i-th child of parent) about its median
// key, promoting that key into parent.
func (t *Tree) splitChild(parent *node, i int, child *node) error {
	mid := t.order - 1
	right := &node{isLeaf: child.isLeaf}
	right.keys = append(right.keys, child.keys[mid+1:]...)
	right.values = append(right.values, child.values[mid+1:]...)
	if !child.isLeaf {
		right.children = append(right.children, child.children[mid+1:]...)
	}

	promotedKey := child.keys[mid]
	promotedValue := child.values[mid]

	child.keys = child.keys[:mid]
	child.values = child.values[:mid]
	if !child.isLeaf {
		child.children = child.children[:mid+1]
	}

	if err := t.saveNode(child); err != nil {
		return err
	}
	if err := t.saveNode(right); err != nil {
		return err
	}

	parent.keys = append(parent.keys, "")
	parent.values = append(parent.values, "")
	copy(parent.keys[i+1:], parent.keys[i:])
	copy(parent.values[i+1:], parent.values[i:])
	parent.keys[i] = promotedKey
	parent.values[i] = promotedValue

	parent.children = append(parent.children, "")
	copy(parent.children[i+2:], parent.children[i+1:])
	parent.children[i] = t.persistedID(child)
	parent.children[i+1] = t.persistedID(right)

	return t.saveNode(parent)
}

// countEntries counts distinct keys: BulkLoad copies each separator key into
// the parent while the child keeps it, so a key may appear twice.
func (t *Tree) countEntries(n *node) int {
	seen := make(map[string]struct{})
	var walk func(*node)
	walk = func(n *node) {
		for _, k := range n.keys {
			seen[k] = struct{}{}
		}
		for _, id := range n.children {
			child, err := t.loadNode(id)
			if err != nil {
				continue
			}
			walk(child)
		}
	}
	walk(n)
	return len(seen)
}

// BulkLoad discards the current tree and rebuilds a balanced one bottom-up
// from entries, which need not be pre-sorted. Used for periodic
// optimization and for initial construction from a full key set.
func (t *Tree) BulkLoad(entries []Entry) error {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	if len(sorted) == 0 {
		t.root = &node{isLeaf: true}
		t.size = 0
		if err := t.saveNode(t.root); err != nil {
			return err
		}
		return t.saveRootPointer()
	}

	leafSize := 2*t.order - 1
	var level []*node
	for i := 0; i < len(sorted); i += leafSize {
		end := i + leafSize
		if end > len(sorted) {
			end = len(sorted)
		}
		n := &node{isLeaf: true}
		for _, e := range sorted[i:end] {
			n.keys = append(n.keys, e.Key)
			n.values = append(n.values, e.Value)
		}
		if err := t.saveNode(n); err != nil {
			return err
		}
		level = append(level, n)
	}

	for len(level) > 1 {
		childSpan := 2 * t.order
		var next []*node
		for i := 0; i < len(level); i += childSpan {
			end := i + childSpan
			if end > len(level) {
				end = len(level)
			}
			group := level[i:end]
			parent := &node{isLeaf: false}
			for gi, child := range group {
				parent.children = append(parent.children, t.persistedID(child))
				if gi > 0 {
					parent.keys = append(parent.keys, child.keys[0])
					parent.values = append(parent.values, child.values[0])
				}
			}
			if err := t.saveNode(parent); err != nil {
				return err
			}
			next = append(next, parent)
		}
		level = next
	}

	t.root = level[0]
	t.size = len(sorted)
	return t.saveRootPointer()
}

func (t *Tree) persistedID(n *node) string {
	if n.id == "" {
		n.id = n.computeID()
	}
	return n.id
}

func (t *Tree) saveNode(n *node) error {
	n.id = n.computeID()
	t.cache.Add(n.id, n)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.NativeEndian, uint64(len(n.keys))); err != nil {
		return err
	}
	isLeaf := byte(0)
	if n.isLeaf {
		isLeaf = 1
	}
	buf.WriteByte(isLeaf)

	for i, k := range n.keys {
		if err := writeSized(&buf, []byte(k)); err != nil {
			return err
		}
		if err := writeSized(&buf, []byte(n.values[i])); err != nil {
			return err
		}
	}
	if !n.isLeaf {
		for _, childID := range n.children {
			if err := writeSized(&buf, []byte(childID)); err != nil {
				return err
			}
		}
	}

	path := filepath.Join(t.dir, n.id+".bin")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("btree: %w: %v", resilience.ErrIOFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("btree: %w: %v", resilience.ErrIOFailure, err)
	}
	return nil
}

func (t *Tree) loadNode(id string) (*node, error) {
	if cached, ok := t.cache.Get(id); ok {
		return cached, nil
	}

	path := filepath.Join(t.dir, id+".bin")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrNotFound, err)
	}
	r := bytes.NewReader(data)

	var keyCount uint64
	if err := binary.Read(r, binary.NativeEndian, &keyCount); err != nil {
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrIntegrityFailure, err)
	}
	isLeafByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrIntegrityFailure, err)
	}

	n := &node{id: id, isLeaf: isLeafByte == 1}
	for i := uint64(0); i < keyCount; i++ {
		key, err := readSized(r)
		if err != nil {
			return nil, err
		}
		val, err := readSized(r)
		if err != nil {
			return nil, err
		}
		n.keys = append(n.keys, string(key))
		n.values = append(n.values, string(val))
	}
	if !n.isLeaf {
		for i := uint64(0); i < keyCount+1; i++ {
			childID, err := readSized(r)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, string(childID))
		}
	}

	t.cache.Add(id, n)
	return n, nil
}

func (t *Tree) saveRootPointer() error {
	id := t.persistedID(t.root)
	path := filepath.Join(t.dir, rootFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(id), 0o644); err != nil {
		return fmt.Errorf("btree: %w: %v", resilience.ErrIOFailure, err)
	}
	return os.Rename(tmp, path)
}

func writeSized(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.NativeEndian, uint64(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readSized(r *bytes.Reader) ([]byte, error) {
	var length uint64
	if err := binary.Read(r, binary.NativeEndian, &length); err != nil {
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrIntegrityFailure, err)
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("btree: %w: %v", resilience.ErrIntegrityFailure, err)
	}
	return b, nil
}
