package lifecycle

import "reflect"

const deletedMarker = "__deleted__"

// Diff computes a shallow structural diff of current against base: every
// top-level key absent from base or differing by value is included verbatim;
// every top-level key present in base but absent from current is recorded
// under the deletedMarker sub-map with value true. Diffing is not recursive
// beyond the top level.
func Diff(base, current map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})

	for k, v := range current {
		baseVal, existed := base[k]
		if !existed || !reflect.DeepEqual(baseVal, v) {
			diff[k] = v
		}
	}

	var deleted map[string]interface{}
	for k := range base {
		if _, present := current[k]; !present {
			if deleted == nil {
				deleted = make(map[string]interface{})
			}
			deleted[k] = true
		}
	}
	if deleted != nil {
		diff[deletedMarker] = deleted
	}

	return diff
}

// ApplyDiff reconstructs current from base and a diff produced by Diff.
// Applying a diff created against base to base reproduces current exactly.
func ApplyDiff(base, diff map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base)+len(diff))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range diff {
		if k == deletedMarker {
			continue
		}
		result[k] = v
	}

	if deleted, ok := diff[deletedMarker].(map[string]interface{}); ok {
		for k := range deleted {
			delete(result, k)
		}
	}

	return result
}
