package index

import "fmt"

// Segment is a read-only, positional accessor over one indexed
// column: it answers "how many rows" and "what value (or null) is at
// position i". DependencyIndex never writes back through it. This is
// the sole external collaborator the build algorithm depends on.
type Segment interface {
	Size() int
	At(pos int) (value any, isNull bool)
}

// EmptySegmentsError is returned when constructing a DependencyIndex
// over zero segments — a precondition violation per spec §7.
type EmptySegmentsError struct{}

func (e *EmptySegmentsError) Error() string {
	return "dependency index requires at least one segment"
}

// MetadataDeltas is the signed change a validation call made to the
// global violation counter, split by source: the sum of
// right-neighbour-flag contributions and the sum of local-violation
// contributions that changed.
type MetadataDeltas struct {
	FlagDelta           int
	LocalViolationDelta int
}

// Total returns the combined delta published into the global counter.
func (d MetadataDeltas) Total() int {
	return d.FlagDelta + d.LocalViolationDelta
}

// DependencyIndex is an ordered multi-column B-tree that doubles as
// an incremental FD/OD validator (spec §1–§4). It owns the tree, the
// sorted offset projection used by scan iterators, the null-position
// list, and the global violation counter.
type DependencyIndex struct {
	depType DepType

	segments []Segment
	tree     *tree

	offsets       []int // sorted, non-null row positions (scan projection)
	nullPositions []int

	globalViolationCount int
}

// DependencyType returns the declared dependency type this index
// validates (read-only per spec §6).
func (idx *DependencyIndex) DependencyType() DepType { return idx.depType }

// GlobalViolationCount returns the current global violation counter
// (read-only per spec §6). Zero means the dependency holds.
func (idx *DependencyIndex) GlobalViolationCount() int { return idx.globalViolationCount }

// Type identifies the chunk-index implementation kind (chunk-index
// base contract, spec §6).
func (idx *DependencyIndex) Type() string { return "BTree" }

// IndexedSegments returns the segments this index was built over
// (chunk-index base contract, spec §6).
func (idx *DependencyIndex) IndexedSegments() []Segment { return idx.segments }

// NewEmptyDependencyIndex creates a DependencyIndex with no rows yet
// indexed, for callers that maintain it purely through the incremental
// validation surface (InsertEntryForValidation etc.) rather than a bulk
// columnar build — e.g. a row-oriented storage engine backfilling one
// row at a time (spec §4.4).
func NewEmptyDependencyIndex(depType DepType) *DependencyIndex {
	return &DependencyIndex{depType: depType, tree: newTree()}
}

// NewDependencyIndex builds a DependencyIndex over segments
// (spec §4.7). segments must together define one multi-column key per
// row position; segments[0].Size() determines the row count.
func NewDependencyIndex(depType DepType, segments []Segment) (*DependencyIndex, error) {
	if len(segments) == 0 {
		return nil, &EmptySegmentsError{}
	}

	idx := &DependencyIndex{
		depType:  depType,
		segments: segments,
		tree:     newTree(),
	}

	rowCount := segments[0].Size()
	rows := make([]int, rowCount)
	for i := range rows {
		rows[i] = i
	}

	keyOrNullOf := func(pos int) Key {
		key := make(Key, len(segments))
		anyNull := false
		for i, seg := range segments {
			v, isNull := seg.At(pos)
			if isNull {
				anyNull = true
			}
			key[i] = v
		}
		if anyNull {
			k := make(Key, len(key))
			copy(k, key)
			return k
		}
		return key
	}

	sortOffsetsByKey(rows, keyOrNullOf)

	idx.offsets = make([]int, 0, rowCount)

	var currentKey Key
	startIndex := 0
	count := 0
	first := true

	flush := func() {
		if first {
			return
		}
		idx.tree.insert(currentKey, newSlot(startIndex, count))
	}

	for _, pos := range rows {
		key := keyOrNullOf(pos)
		if key.hasNull() {
			idx.nullPositions = append(idx.nullPositions, pos)
			continue
		}

		if first {
			currentKey = key
			startIndex = len(idx.offsets)
			count = 0
			first = false
		} else if !key.equal(currentKey) {
			flush()
			currentKey = key
			startIndex = len(idx.offsets)
			count = 0
		}

		idx.offsets = append(idx.offsets, pos)
		count++
	}
	flush()

	idx.tree.linkLeaves()

	return idx, nil
}

// -------------------------------------------------------------------
// Scan iterators (spec §4.8)
// -------------------------------------------------------------------

// LowerBound returns the index into Offsets() of the first row whose
// key is >= key, or len(Offsets()) if none qualifies.
func (idx *DependencyIndex) LowerBound(key Key) int {
	s := idx.tree.root.lowerBoundSlot(key)
	if s == nil {
		return len(idx.offsets)
	}
	return s.startIndex
}

// UpperBound returns the index into Offsets() of the first row whose
// key is strictly > key, or len(Offsets()) if none qualifies.
func (idx *DependencyIndex) UpperBound(key Key) int {
	s := idx.tree.root.upperBoundSlot(key)
	if s == nil {
		return len(idx.offsets)
	}
	return s.startIndex
}

// Offsets returns the flat, immutable, ascending-key-ordered
// projection of non-null row positions (cbegin/cend, spec §4.8).
func (idx *DependencyIndex) Offsets() []int { return idx.offsets }

// NullPositions returns the row positions whose key contains at least
// one null component, iterated separately from Offsets.
func (idx *DependencyIndex) NullPositions() []int { return idx.nullPositions }

// -------------------------------------------------------------------
// Memory estimator (spec §4.9)
// -------------------------------------------------------------------

// nodeOverheadBytes and slotOverheadBytes are static estimates of a
// node's and a slot's own fixed footprint, independent of payload
// size — analogous to sizeof(BTreeNode)/sizeof(BTreeValue) in the
// original, since Go has no sizeof operator for this purpose.
const (
	nodeOverheadBytes = 128
	slotOverheadBytes = 96
	offsetBytes       = 8
)

// EstimateMemoryConsumption predicts the memory footprint in bytes of
// a DependencyIndex built over rowCount rows with distinctCount
// distinct keys of valueBytes bytes each. This is a diagnostic
// estimate, not an allocation contract (spec §4.9).
func EstimateMemoryConsumption(rowCount, distinctCount int, valueBytes int) int64 {
	const entriesPerNode = maxEntries // 2t-1 = 5
	numNodes := (distinctCount + entriesPerNode - 1) / entriesPerNode
	entrySize := int64(valueBytes) + int64(slotOverheadBytes)
	return int64(numNodes)*(int64(nodeOverheadBytes)+int64(entriesPerNode)*entrySize) + int64(rowCount)*offsetBytes
}

// MemoryConsumption returns this index's own (non-estimated) memory
// footprint contribution beyond the tree itself: the two offset
// projections (chunk-index base contract, spec §6).
func (idx *DependencyIndex) MemoryConsumption() int64 {
	return int64(len(idx.offsets)+len(idx.nullPositions)) * offsetBytes
}

// String renders the dependency type and violation count, useful in
// diagnostics and tests.
func (idx *DependencyIndex) String() string {
	return fmt.Sprintf("DependencyIndex{type=%s, violations=%d}", idx.depType, idx.globalViolationCount)
}
