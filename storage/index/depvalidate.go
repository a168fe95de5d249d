package index

// This file implements the validation surface (spec §4.3, §4.4):
// insert/delete/update_entry_for_validation, the low-level key
// counter operations, and the direct flag/delta accessors. Every
// operation follows the publish-delta discipline (spec §9): read the
// slot's prior published contribution, compute the new one, emit
// their signed difference, and only then overwrite the contribution —
// never the reverse.

// computeODBoundaryFlag reports whether current's max_rhs exceeds
// right's min_rhs — an OD boundary violation between adjacent LHS
// groups (spec §4.3). Either slot missing its extremum yields no
// violation.
func computeODBoundaryFlag(current, right *slot) int {
	if current == nil || right == nil {
		return 0
	}
	if !current.hasMax || !right.hasMin {
		return 0
	}
	if compareScalar(current.maxRHS, right.minRHS) > 0 {
		return 1
	}
	return 0
}

// rightNeighborValue returns the slot immediately to the right of
// position in leaf: the next entry in the same leaf, or the first
// entry of the linked right leaf.
func rightNeighborValue(leaf *node, position int) *slot {
	if position+1 < len(leaf.entries) {
		return leaf.entries[position+1].value
	}
	if leaf.rightLeaf != nil && len(leaf.rightLeaf.entries) > 0 {
		return leaf.rightLeaf.entries[0].value
	}
	return nil
}

// leftNeighborEntry returns the entry immediately to the left of
// position in leaf: the previous entry in the same leaf, or the last
// entry of the linked left leaf. ok is false if there is none.
func leftNeighborEntry(leaf *node, position int) (lf *node, pos int, ok bool) {
	if position > 0 {
		return leaf, position - 1, true
	}
	if leaf.leftLeaf != nil && len(leaf.leftLeaf.entries) > 0 {
		return leaf.leftLeaf, len(leaf.leftLeaf.entries) - 1, true
	}
	return nil, 0, false
}

// InsertEntryForValidation processes an insert for dependency
// validation: locates or creates the LHS slot, folds rhs into it
// per depType's semantics, and republishes the resulting signed delta
// into the global counter (spec §4.4).
func (idx *DependencyIndex) InsertEntryForValidation(lhs, rhs Key) MetadataDeltas {
	var deltas MetadataDeltas
	if lhs.hasNull() {
		return deltas
	}

	existing := idx.tree.root.searchSlot(lhs)
	if existing == nil {
		count := 0
		if idx.depType == OD {
			count = 1
		}
		idx.tree.insert(lhs, newSlot(0, count))
		idx.tree.linkLeaves()
	} else if idx.depType == OD {
		existing.count++
	}

	leaf, position := idx.tree.root.findLeaf(lhs)
	if leaf == nil || position < 0 {
		return deltas
	}
	value := leaf.entries[position].value
	if value == nil {
		return deltas
	}

	oldFlagContribution := value.rightFlagContribution
	oldLocalContribution := value.localViolationContribution

	if len(rhs) == 0 || rhs.hasNull() {
		return deltas
	}
	rhsScalar := rhs[0]

	if idx.depType == FD {
		value.rhsValues[rhsScalar] = struct{}{}

		newLocal := value.localViolationCount()
		value.localViolationContribution = newLocal
		deltas.LocalViolationDelta = newLocal - oldLocalContribution

		if value.rightFlagContribution != 0 {
			deltas.FlagDelta -= value.rightFlagContribution
			value.rightFlag = 0
			value.rightFlagContribution = 0
		}
	} else {
		value.addRHS(rhsScalar)

		newLocal := value.localViolationCount()
		value.localViolationContribution = newLocal
		deltas.LocalViolationDelta = newLocal - oldLocalContribution

		newFlag := computeODBoundaryFlag(value, rightNeighborValue(leaf, position))
		value.rightFlag = newFlag
		value.rightFlagContribution = newFlag
		deltas.FlagDelta += newFlag - oldFlagContribution

		// The predecessor's flag must be recomputed against this slot
		// too, since this slot's min_rhs may just have shifted down.
		if predLeaf, predPos, ok := leftNeighborEntry(leaf, position); ok {
			predValue := predLeaf.entries[predPos].value
			if predValue != nil {
				oldPredFlag := predValue.rightFlagContribution
				newPredFlag := computeODBoundaryFlag(predValue, value)
				predValue.rightFlag = newPredFlag
				predValue.rightFlagContribution = newPredFlag
				deltas.FlagDelta += newPredFlag - oldPredFlag
			}
		}
	}

	idx.globalViolationCount += deltas.Total()
	return deltas
}

// DeleteEntryForValidation processes a delete for dependency
// validation: removes rhs from the LHS slot's set, and — if the set
// becomes empty — removes the slot entirely and repairs whichever
// neighbour(s) were adjacent to it (spec §4.4).
func (idx *DependencyIndex) DeleteEntryForValidation(lhs, rhs Key) MetadataDeltas {
	var deltas MetadataDeltas

	leaf, position := idx.tree.root.findLeaf(lhs)
	if leaf == nil || position < 0 {
		return deltas
	}
	value := leaf.entries[position].value
	if value == nil {
		return deltas
	}

	oldFlagContribution := value.rightFlagContribution
	oldLocalContribution := value.localViolationContribution

	isSmallest := leaf.isSmallestInLeaf(lhs)
	isLargest := leaf.isLargestInLeaf(lhs)

	if len(rhs) > 0 {
		delete(value.rhsValues, rhs[0])
	}

	if len(value.rhsValues) == 0 {
		if idx.depType == OD {
			if isSmallest && position == 0 {
				if predLeaf, predPos, ok := leftNeighborEntry(leaf, position); ok {
					predValue := predLeaf.entries[predPos].value
					if predValue != nil {
						oldLeftFlag := predValue.rightFlagContribution
						var newFlag int
						if len(leaf.entries) > 1 {
							newFlag = computeODBoundaryFlag(predValue, leaf.entries[1].value)
						} else if leaf.rightLeaf != nil && len(leaf.rightLeaf.entries) > 0 {
							newFlag = computeODBoundaryFlag(predValue, leaf.rightLeaf.entries[0].value)
						}
						predValue.rightFlag = newFlag
						predValue.rightFlagContribution = newFlag
						deltas.FlagDelta += newFlag - oldLeftFlag
					}
				}
			}

			if isLargest && position > 0 {
				prevValue := leaf.entries[position-1].value
				if prevValue != nil {
					oldPrevFlag := prevValue.rightFlagContribution
					var newFlag int
					if leaf.rightLeaf != nil && len(leaf.rightLeaf.entries) > 0 {
						newFlag = computeODBoundaryFlag(prevValue, leaf.rightLeaf.entries[0].value)
					}
					prevValue.rightFlag = newFlag
					prevValue.rightFlagContribution = newFlag
					deltas.FlagDelta += newFlag - oldPrevFlag
				}
			}
		}

		deltas.FlagDelta -= oldFlagContribution
		deltas.LocalViolationDelta -= oldLocalContribution

		idx.tree.removeEntry(lhs)
		idx.tree.linkLeaves()
	} else {
		if idx.depType == OD {
			value.recomputeExtrema()

			newFlag := computeODBoundaryFlag(value, rightNeighborValue(leaf, position))
			value.rightFlag = newFlag
			value.rightFlagContribution = newFlag
			deltas.FlagDelta += newFlag - oldFlagContribution
		}

		newLocal := value.localViolationCount()
		value.localViolationContribution = newLocal
		deltas.LocalViolationDelta = newLocal - oldLocalContribution
	}

	idx.globalViolationCount += deltas.Total()
	return deltas
}

// UpdateEntryForValidation is delete(lhs, oldRHS) followed by
// insert(lhs, newRHS); the returned deltas are the sum (spec §4.4).
func (idx *DependencyIndex) UpdateEntryForValidation(lhs, oldRHS, newRHS Key) MetadataDeltas {
	del := idx.DeleteEntryForValidation(lhs, oldRHS)
	ins := idx.InsertEntryForValidation(lhs, newRHS)
	return MetadataDeltas{
		FlagDelta:           del.FlagDelta + ins.FlagDelta,
		LocalViolationDelta: del.LocalViolationDelta + ins.LocalViolationDelta,
	}
}

// -------------------------------------------------------------------
// Low-level operations (same contracts, no RHS semantics — spec §4.4)
// -------------------------------------------------------------------

// InsertKey dynamically inserts key into the index, independent of
// any RHS tracking: if key already exists its count is incremented;
// otherwise a new entry is created. Returns true iff a new entry was
// created.
func (idx *DependencyIndex) InsertKey(key Key) bool {
	if existing := idx.tree.root.searchSlot(key); existing != nil {
		existing.count++
		return false
	}
	idx.tree.insert(key, newSlot(0, 1))
	idx.tree.linkLeaves()
	return true
}

// RemoveKey dynamically removes key: if its count is above 1 it is
// decremented; at count == 1 the entry is removed entirely. Returns
// true iff the entry was removed.
func (idx *DependencyIndex) RemoveKey(key Key) bool {
	existing := idx.tree.root.searchSlot(key)
	if existing == nil {
		return false
	}
	if existing.count > 1 {
		existing.count--
		return false
	}
	idx.tree.removeEntry(key)
	idx.tree.linkLeaves()
	return true
}

// ContainsKey reports whether key has a slot in the index.
func (idx *DependencyIndex) ContainsKey(key Key) bool {
	return idx.tree.root.searchSlot(key) != nil
}

// KeyCount returns the number of distinct keys in the index.
func (idx *DependencyIndex) KeyCount() int {
	return idx.tree.keyCount()
}

// SetRightNeighborFlag directly overwrites key's right-neighbour flag
// and republishes the signed difference into the global counter.
func (idx *DependencyIndex) SetRightNeighborFlag(key Key, flag int) {
	value := idx.tree.root.searchSlot(key)
	if value == nil {
		return
	}
	idx.globalViolationCount -= value.rightFlagContribution
	value.rightFlag = flag
	value.rightFlagContribution = flag
	idx.globalViolationCount += value.rightFlagContribution
}

// GetRightNeighborFlag returns key's current right-neighbour flag, or
// 0 if key has no slot.
func (idx *DependencyIndex) GetRightNeighborFlag(key Key) int {
	value := idx.tree.root.searchSlot(key)
	if value == nil {
		return 0
	}
	return value.rightFlag
}

// RecomputeLocalViolationDelta recomputes key's local violation
// contribution from its current rhs_values and republishes the delta.
func (idx *DependencyIndex) RecomputeLocalViolationDelta(key Key) {
	value := idx.tree.root.searchSlot(key)
	if value == nil {
		return
	}
	idx.globalViolationCount -= value.localViolationContribution
	current := value.localViolationCount()
	value.localViolationContribution = current
	idx.globalViolationCount += current
}

// GetValue returns key's slot metadata as a read-only snapshot, or
// nil if key has no slot.
func (idx *DependencyIndex) GetValue(key Key) *SlotView {
	value := idx.tree.root.searchSlot(key)
	if value == nil {
		return nil
	}
	return newSlotView(value)
}

// GetLeftNeighborMaxKey returns the key immediately to the left of key:
// if key is the first entry of its leaf (or absent from it), the
// maximum key of the linked left leaf, or nil if there is no left leaf;
// otherwise the previous entry's key in the same leaf.
func (idx *DependencyIndex) GetLeftNeighborMaxKey(key Key) Key {
	leaf, position := idx.tree.root.findLeaf(key)
	if leaf == nil {
		return nil
	}
	if position == 0 || position == -1 {
		if leaf.leftLeaf != nil {
			return leaf.leftLeaf.maxKey()
		}
		return nil
	}
	if position > 0 && position <= len(leaf.entries) {
		return leaf.entries[position-1].key
	}
	return nil
}

// SlotView is a read-only snapshot of a metadata slot, returned by
// GetValue so callers cannot mutate validator state except through
// the validation surface.
type SlotView struct {
	StartIndex                 int
	Count                      int
	RHSValues                  map[any]struct{}
	HasMinRHS, HasMaxRHS       bool
	MinRHS, MaxRHS             any
	LocalViolationContribution int
	RightFlag                  int
	RightFlagContribution      int
}

func newSlotView(s *slot) *SlotView {
	rhs := make(map[any]struct{}, len(s.rhsValues))
	for k := range s.rhsValues {
		rhs[k] = struct{}{}
	}
	return &SlotView{
		StartIndex:                  s.startIndex,
		Count:                       s.count,
		RHSValues:                   rhs,
		HasMinRHS:                   s.hasMin,
		HasMaxRHS:                   s.hasMax,
		MinRHS:                      s.minRHS,
		MaxRHS:                      s.maxRHS,
		LocalViolationContribution:  s.localViolationContribution,
		RightFlag:                   s.rightFlag,
		RightFlagContribution:       s.rightFlagContribution,
	}
}
