// Package version implements semantic version comparison and the two
// compatibility predicates used throughout capability matching and
// negotiation.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a (major, minor, patch) triple, each a 16-bit unsigned
// integer, totally ordered lexicographically.
type Version struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	Patch uint16 `json:"patch"`
}

// New constructs a Version.
func New(major, minor, patch uint16) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Parse reads a "major.minor.patch" string, as found in configuration files
// and negotiation preference lists.
func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("version: %q is not major.minor.patch", s)
	}
	nums := make([]uint16, 3)
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Version{}, fmt.Errorf("version: %q: %w", s, err)
		}
		nums[i] = uint16(n)
	}
	return New(nums[0], nums[1], nums[2]), nil
}

// String renders the version as "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than
// other, comparing major, then minor, then patch.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return cmp(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmp(v.Minor, other.Minor)
	}
	return cmp(v.Patch, other.Patch)
}

func cmp(a, b uint16) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Less reports whether v orders before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// Equal reports whether v and other are identical.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// CompatibleWith implements the strict predicate: same major AND
// (minor greater, OR minor equal and patch >= required.patch).
func (v Version) CompatibleWith(required Version) bool {
	if v.Major != required.Major {
		return false
	}
	if v.Minor > required.Minor {
		return true
	}
	return v.Minor == required.Minor && v.Patch >= required.Patch
}

// Satisfies implements the flexible predicate: major greater than required,
// OR (major equal AND CompatibleWith(required)).
func (v Version) Satisfies(required Version) bool {
	if v.Major > required.Major {
		return true
	}
	return v.Major == required.Major && v.CompatibleWith(required)
}
