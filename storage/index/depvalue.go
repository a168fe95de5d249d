package index

import (
	"fmt"
	"sort"
	"time"
)

// DepType selects the semantics applied by the validation operations
// on a DependencyIndex: functional dependency (FD) or order dependency
// (OD). See DependencyIndex for the full contract.
type DepType int

const (
	FD DepType = iota
	OD
)

func (d DepType) String() string {
	if d == OD {
		return "OD"
	}
	return "FD"
}

// Key is an ordered sequence of typed scalar values — a multi-column
// key. Keys are compared lexicographically by component; a nil
// component marks the key as null (nulls are never stored in the
// tree).
type Key []any

// hasNull reports whether any component of k is nil.
func (k Key) hasNull() bool {
	for _, v := range k {
		if v == nil {
			return true
		}
	}
	return false
}

func (k Key) equal(other Key) bool {
	return compareKeys(k, other) == 0
}

// compareKeys orders two keys lexicographically across their
// component values. Keys must be the same length and of compatible
// per-column types; this mirrors storage.CompareValues but is
// duplicated (not imported) so that this package stays free of any
// dependency on the storage package, which in turn depends on index.
func compareKeys(a, b Key) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareScalar(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// compareScalar returns -1, 0, or 1 for ordering between two scalar
// values of the same underlying type. A type mismatch or a nil
// operand is the caller's responsibility to avoid (see spec §7); it
// falls back to a stable but otherwise meaningless ordering by type
// name rather than panicking.
func compareScalar(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		case float64:
			return cmpFloat(float64(av), bv)
		}
	case float64:
		switch bv := b.(type) {
		case float64:
			return cmpFloat(av, bv)
		case int64:
			return cmpFloat(av, float64(bv))
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return cmpFloat(float64(boolRank(av)), float64(boolRank(bv)))
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			default:
				return 0
			}
		}
	}
	// Type mismatch: fall back to a stable, arbitrary ordering by
	// dynamic type name rather than panicking (see spec §7 — cross-type
	// comparison is the caller's responsibility to prevent).
	ta, tb := fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// headHash derives a cheap 32-bit fingerprint of a key. It is a pure
// equality-fast-path optimisation: it never preserves order, only
// equality (equal keys always share a head), and is used solely to
// narrow in-node search before falling back to a full comparison.
func headHash(k Key) uint32 {
	var h uint32 = 2166136261 // FNV-1a offset basis
	for _, v := range k {
		h = hashScalarInto(h, v)
	}
	return h
}

func hashScalarInto(h uint32, v any) uint32 {
	const prime = 16777619
	mix := func(h uint32, b byte) uint32 {
		h ^= uint32(b)
		h *= prime
		return h
	}
	switch val := v.(type) {
	case int64:
		u := uint64(val)
		for i := 0; i < 8; i++ {
			h = mix(h, byte(u>>(8*i)))
		}
	case float64:
		u := uint64(val)
		for i := 0; i < 8; i++ {
			h = mix(h, byte(u>>(8*i)))
		}
	case string:
		for i := 0; i < len(val); i++ {
			h = mix(h, val[i])
		}
	case bool:
		h = mix(h, boolByte(val))
	case time.Time:
		u := uint64(val.UnixNano())
		for i := 0; i < 8; i++ {
			h = mix(h, byte(u>>(8*i)))
		}
	default:
		h = mix(h, 0xFF)
	}
	return h
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// sortOffsetsByKey sorts offsets lexicographically by the key each
// position carries, placing any offset whose key has a null component
// last. Ties (equal keys) are broken by original offset to keep the
// sort stable, matching the build algorithm's grouping step.
func sortOffsetsByKey(offsets []int, keyOf func(pos int) Key) {
	sort.SliceStable(offsets, func(i, j int) bool {
		a, b := keyOf(offsets[i]), keyOf(offsets[j])
		aNull, bNull := a.hasNull(), b.hasNull()
		if aNull != bNull {
			return bNull // non-null sorts before null
		}
		if aNull && bNull {
			return false
		}
		return compareKeys(a, b) < 0
	})
}
