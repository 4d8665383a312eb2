// Package canon produces a deterministic serialization of arbitrary
// structured documents (maps, slices, scalars) so that checksums and
// structural diffs are stable across process restarts and map iteration
// order.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal serializes v to JSON with object keys sorted recursively in
// lexicographic order. v must be a value that round-trips through
// encoding/json (typically the result of json.Marshal + json.Unmarshal
// into map[string]interface{}, or a struct).
func Marshal(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, fmt.Errorf("canon: normalize: %w", err)
	}
	return marshalOrdered(normalized)
}

// Checksum returns the hex-encoded SHA-256 digest of the canonical
// serialization of v.
func Checksum(v interface{}) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ChecksumBytes returns the hex-encoded SHA-256 digest of raw bytes.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalize round-trips v through encoding/json so structs, maps, and
// slices all end up as interface{} trees built from map[string]interface{},
// []interface{}, and scalar types.
func normalize(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// marshalOrdered writes v as JSON with map keys sorted at every nesting
// level. encoding/json already sorts map[string]interface{} keys, but we
// write it explicitly so the contract does not depend on that stdlib detail
// and to support ordered top-level diff maps uniformly.
func marshalOrdered(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			childJSON, err := marshalOrdered(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, childJSON...)
		}
		buf = append(buf, '}')
		return buf, nil

	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			itemJSON, err := marshalOrdered(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, itemJSON...)
		}
		buf = append(buf, ']')
		return buf, nil

	default:
		return json.Marshal(val)
	}
}

// ToMap normalizes v into a map[string]interface{}, the shape the diff
// engine and chunked-state checks operate on. Returns an error if v is not
// a JSON object at the top level.
func ToMap(v interface{}) (map[string]interface{}, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	m, ok := normalized.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("canon: top-level value is not an object")
	}
	return m, nil
}
