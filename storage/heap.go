package storage

import "mulldb/storage/index"

// tableHeap holds the in-memory row data for a single table, plus the
// indexes maintained over it: a unique primary-key index (if the table
// declares one) and zero or more secondary indexes, keyed by index name.
// It is populated during WAL replay and modified by engine operations.
type tableHeap struct {
	def    TableDef
	rows   map[int64][]any // rowID → column values
	nextID int64           // next ID to assign on insert

	pkCol int         // ordinal of the PK column, or -1
	pkIdx *index.BTree // value → rowID, nil if pkCol < 0

	secondary map[string]*secondaryIndex // index name → index
}

// secondaryIndex pairs an IndexDef with the live B-tree maintaining it.
type secondaryIndex struct {
	def   IndexDef
	col   int // ordinal of the indexed column
	multi *index.MultiBTree
}

func newTableHeap(def TableDef) *tableHeap {
	h := &tableHeap{
		def:       def,
		rows:      make(map[int64][]any),
		nextID:    1,
		pkCol:     def.PrimaryKeyColumn(),
		secondary: make(map[string]*secondaryIndex),
	}
	if h.pkCol >= 0 {
		h.pkIdx = index.NewBTree(CompareValues)
	}
	for _, idxDef := range def.Indexes {
		h.addSecondaryIndex(idxDef)
	}
	return h
}

// addSecondaryIndex registers a new, empty secondary index over the
// named column; callers are responsible for backfilling existing rows.
func (h *tableHeap) addSecondaryIndex(def IndexDef) *secondaryIndex {
	si := &secondaryIndex{
		def:   def,
		col:   h.columnIndex(def.Column),
		multi: index.NewMultiBTree(CompareValues),
	}
	h.secondary[def.Name] = si
	return si
}

// allocateID reserves and returns the next row ID.
func (h *tableHeap) allocateID() int64 {
	id := h.nextID
	h.nextID++
	return id
}

// insertWithID stores a row with a specific ID (used by both live inserts
// and WAL replay), maintaining the primary-key and secondary indexes.
func (h *tableHeap) insertWithID(id int64, values []any) error {
	row := make([]any, len(values))
	copy(row, values)
	h.rows[id] = row
	if id >= h.nextID {
		h.nextID = id + 1
	}

	if h.pkCol >= 0 && h.pkCol < len(row) {
		key := row[h.pkCol]
		if key != nil {
			if !h.pkIdx.Put(key, id) {
				delete(h.rows, id)
				return &UniqueViolationError{Table: h.def.Name, Column: h.columnByOrdinal(h.pkCol).Name, Value: key}
			}
		}
	}
	for _, si := range h.secondary {
		if si.col >= 0 && si.col < len(row) && row[si.col] != nil {
			si.multi.Put(row[si.col], id)
		}
	}
	return nil
}

// deleteRows removes the rows with the given IDs, along with their
// entries in the primary-key and secondary indexes.
func (h *tableHeap) deleteRows(ids []int64) {
	for _, id := range ids {
		row, ok := h.rows[id]
		if !ok {
			continue
		}
		if h.pkCol >= 0 && h.pkCol < len(row) && row[h.pkCol] != nil {
			h.pkIdx.Delete(row[h.pkCol])
		}
		for _, si := range h.secondary {
			if si.col >= 0 && si.col < len(row) && row[si.col] != nil {
				si.multi.Delete(row[si.col], id)
			}
		}
		delete(h.rows, id)
	}
}

// updateRow replaces the values for a given row ID, repairing the
// primary-key and secondary indexes for any column whose value changed.
func (h *tableHeap) updateRow(id int64, values []any) error {
	oldRow, existed := h.rows[id]
	newRow := make([]any, len(values))
	copy(newRow, values)

	if existed && h.pkCol >= 0 && h.pkCol < len(oldRow) {
		oldKey, newKey := oldRow[h.pkCol], valueAt(newRow, h.pkCol)
		if CompareValues(oldKey, newKey) != 0 {
			if oldKey != nil {
				h.pkIdx.Delete(oldKey)
			}
			if newKey != nil {
				if !h.pkIdx.Put(newKey, id) {
					if oldKey != nil {
						h.pkIdx.Put(oldKey, id)
					}
					return &UniqueViolationError{Table: h.def.Name, Column: h.columnByOrdinal(h.pkCol).Name, Value: newKey}
				}
			}
		}
	} else if !existed && h.pkCol >= 0 {
		newKey := valueAt(newRow, h.pkCol)
		if newKey != nil && !h.pkIdx.Put(newKey, id) {
			return &UniqueViolationError{Table: h.def.Name, Column: h.columnByOrdinal(h.pkCol).Name, Value: newKey}
		}
	}

	for _, si := range h.secondary {
		if si.col < 0 {
			continue
		}
		oldVal := valueAt(oldRow, si.col)
		newVal := valueAt(newRow, si.col)
		if CompareValues(oldVal, newVal) == 0 {
			continue
		}
		if oldVal != nil {
			si.multi.Delete(oldVal, id)
		}
		if newVal != nil {
			si.multi.Put(newVal, id)
		}
	}

	h.rows[id] = newRow
	return nil
}

// columnByOrdinal returns the ColumnDef with the given ordinal, or the
// zero value if none matches.
func (h *tableHeap) columnByOrdinal(ordinal int) ColumnDef {
	for _, col := range h.def.Columns {
		if col.Ordinal == ordinal {
			return col
		}
	}
	return ColumnDef{}
}

func valueAt(values []any, ordinal int) any {
	if ordinal < 0 || ordinal >= len(values) {
		return nil
	}
	return values[ordinal]
}

// lookupByPK returns the row whose primary-key column equals value, if
// the table declares one and it is present.
func (h *tableHeap) lookupByPK(value any) (Row, bool) {
	if h.pkCol < 0 {
		return Row{}, false
	}
	id, ok := h.pkIdx.Get(value)
	if !ok {
		return Row{}, false
	}
	row, ok := h.rows[id]
	if !ok {
		return Row{}, false
	}
	return Row{ID: id, Values: row}, true
}

// lookupByIndex returns every row whose indexed column equals value, in
// row-ID order.
func (h *tableHeap) lookupByIndex(indexName string, value any) ([]Row, bool) {
	si, ok := h.secondary[indexName]
	if !ok {
		return nil, false
	}
	ids := si.multi.GetAll(value)
	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		if vals, ok := h.rows[id]; ok {
			rows = append(rows, Row{ID: id, Values: vals})
		}
	}
	return rows, true
}

// scan returns a RowIterator over all rows in the table.
// The iteration order is not guaranteed.
func (h *tableHeap) scan() RowIterator {
	rows := make([]Row, 0, len(h.rows))
	for id, values := range h.rows {
		rows = append(rows, Row{ID: id, Values: values})
	}
	return &sliceIterator{rows: rows}
}

// columnIndex returns the named column's permanent ordinal (its
// position in a row's values slice), or -1. Ordinals, not slice
// position within def.Columns, are a row's addressing scheme: they
// survive DROP COLUMN so that pre-existing rows stay addressable by
// the columns that still exist.
func (h *tableHeap) columnIndex(name string) int {
	for _, col := range h.def.Columns {
		if col.Name == name {
			return col.Ordinal
		}
	}
	return -1
}

// setValueAt assigns val at ordinal within row, growing row with nils
// if it is not yet wide enough (e.g. it predates a later ADD COLUMN).
func setValueAt(row []any, ordinal int, val any) []any {
	if ordinal >= len(row) {
		grown := make([]any, ordinal+1)
		copy(grown, row)
		row = grown
	}
	row[ordinal] = val
	return row
}

// size estimates this heap's total in-memory footprint: the row store
// plus every index maintained over it (spec §4.9's MemoryUsage surface).
func (h *tableHeap) size() int64 {
	var total int64
	for _, row := range h.rows {
		total += rowBytesEstimate(row)
	}
	if h.pkIdx != nil {
		total += h.pkIdx.Size()
	}
	for _, si := range h.secondary {
		total += si.multi.Size()
	}
	return total
}

// rowBytesEstimate is a static per-row estimate, mirroring the style of
// the dependency index's own memory estimator (spec §4.9): a fixed
// overhead plus a per-value estimate, since Go has no sizeof operator.
func rowBytesEstimate(values []any) int64 {
	const rowOverheadBytes = 16
	const valueOverheadBytes = 16
	return rowOverheadBytes + int64(len(values))*valueOverheadBytes
}

// sliceIterator is a RowIterator backed by an in-memory slice.
type sliceIterator struct {
	rows []Row
	pos  int
}

func (it *sliceIterator) Next() (Row, bool) {
	if it.pos >= len(it.rows) {
		return Row{}, false
	}
	row := it.rows[it.pos]
	it.pos++
	return row, true
}

func (it *sliceIterator) Close() error { return nil }
