package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mulldb/storage/index"
)

// dependency pairs a declared FD/OD with the live validator maintaining
// it and the ordinals of its LHS/RHS columns.
type dependency struct {
	def    DependencyDef
	idx    *index.DependencyIndex
	lhsCol int
	rhsCol int
}

// engine is the concrete storage engine implementation. It writes every
// mutation to the WAL before applying it to the in-memory heap. On startup
// the WAL is replayed to reconstruct the full in-memory state.
//
// Concurrency: a sync.RWMutex provides single-writer / multi-reader
// access. Write operations take the write lock; read operations take the
// read lock. Scan returns a snapshot iterator that is safe to use after
// the lock is released.
type engine struct {
	mu      sync.RWMutex
	catalog *catalog
	heaps   map[string]*tableHeap
	wal     *WAL

	// deps[table][name] is the live validator for one declared
	// dependency. Rebuilt from a full table scan whenever a dependency
	// is declared, live or replayed (spec.md §6 — "memory-resident,
	// rebuilt per chunk").
	deps map[string]map[string]*dependency
}

// Open creates or opens a storage engine rooted at dataDir. It replays
// the WAL to restore state from a previous run and returns a ready-to-use
// Engine. If the WAL file needs migration and migrate is false, a
// WALMigrationNeededError is returned.
func Open(dataDir string, migrate bool) (Engine, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	walPath := filepath.Join(dataDir, "wal.dat")
	wal, err := OpenWAL(walPath, migrate)
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}

	e := &engine{
		catalog: newCatalog(),
		heaps:   make(map[string]*tableHeap),
		wal:     wal,
		deps:    make(map[string]map[string]*dependency),
	}

	if err := wal.Replay(e); err != nil {
		wal.Close()
		return nil, fmt.Errorf("replay WAL: %w", err)
	}

	return e, nil
}

// Close closes the WAL file.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wal.Close()
}

// -------------------------------------------------------------------------
// ReplayHandler — used during WAL replay to rebuild in-memory state
// -------------------------------------------------------------------------

func (e *engine) OnCreateTable(name string, columns []ColumnDef) error {
	if err := e.catalog.createTable(name, columns); err != nil {
		return err
	}
	e.heaps[name] = newTableHeap(*e.catalog.tables[name])
	return nil
}

func (e *engine) OnDropTable(name string) error {
	if err := e.catalog.dropTable(name); err != nil {
		return err
	}
	delete(e.heaps, name)
	delete(e.deps, name)
	return nil
}

func (e *engine) OnInsert(table string, rowID int64, values []any) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	if err := heap.insertWithID(rowID, values); err != nil {
		return err
	}
	e.validateInsert(table, values)
	return nil
}

func (e *engine) OnDelete(table string, rowIDs []int64) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, id := range rowIDs {
		if row, ok := heap.rows[id]; ok {
			e.validateDelete(table, row)
		}
	}
	heap.deleteRows(rowIDs)
	return nil
}

func (e *engine) OnUpdate(table string, updates []rowUpdate) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, u := range updates {
		oldRow := heap.rows[u.RowID]
		if err := heap.updateRow(u.RowID, u.Values); err != nil {
			return err
		}
		e.validateUpdate(table, oldRow, u.Values)
	}
	return nil
}

func (e *engine) OnAddColumn(table string, col ColumnDef) error {
	if _, err := e.catalog.addColumn(table, col); err != nil {
		return err
	}
	e.syncHeapDef(table)
	return nil
}

func (e *engine) OnDropColumn(table string, colName string) error {
	if err := e.catalog.dropColumn(table, colName); err != nil {
		return err
	}
	e.syncHeapDef(table)
	return nil
}

// syncHeapDef refreshes a heap's cached copy of its TableDef after a
// catalog-level schema change, since tableHeap.def is a value snapshot
// rather than a pointer into the catalog.
func (e *engine) syncHeapDef(table string) {
	if def, ok := e.catalog.getTable(table); ok {
		if heap, ok := e.heaps[table]; ok {
			heap.def = *def
		}
	}
}

func (e *engine) OnCreateIndex(table string, idx IndexDef) error {
	def, ok := e.catalog.getTable(table)
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, existing := range def.Indexes {
		if existing.Name == idx.Name {
			return &IndexExistsError{Name: idx.Name, Table: table}
		}
	}
	def.Indexes = append(def.Indexes, idx)

	heap := e.heaps[table]
	si := heap.addSecondaryIndex(idx)
	for id, row := range heap.rows {
		if si.col >= 0 && si.col < len(row) && row[si.col] != nil {
			si.multi.Put(row[si.col], id)
		}
	}
	e.syncHeapDef(table)
	return nil
}

func (e *engine) OnDropIndex(table string, indexName string) error {
	def, ok := e.catalog.getTable(table)
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	found := -1
	for i, existing := range def.Indexes {
		if existing.Name == indexName {
			found = i
			break
		}
	}
	if found < 0 {
		return &IndexNotFoundError{Name: indexName, Table: table}
	}
	def.Indexes = append(def.Indexes[:found], def.Indexes[found+1:]...)
	delete(e.heaps[table].secondary, indexName)
	e.syncHeapDef(table)
	return nil
}

func (e *engine) OnCreateDependency(table string, def DependencyDef) error {
	heap, ok := e.heaps[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	if _, exists := e.deps[table][def.Name]; exists {
		return &DependencyExistsError{Name: def.Name, Table: table}
	}

	lhsCol := heap.columnIndex(def.LHSColumn)
	if lhsCol < 0 {
		return &ColumnNotFoundError{Column: def.LHSColumn, Table: table}
	}
	rhsCol := heap.columnIndex(def.RHSColumn)
	if rhsCol < 0 {
		return &ColumnNotFoundError{Column: def.RHSColumn, Table: table}
	}

	dep := &dependency{
		def:    def,
		idx:    index.NewEmptyDependencyIndex(def.Type),
		lhsCol: lhsCol,
		rhsCol: rhsCol,
	}
	for _, row := range heap.rows {
		lhsVal, rhsVal := valueAt(row, lhsCol), valueAt(row, rhsCol)
		if lhsVal == nil || rhsVal == nil {
			continue
		}
		dep.idx.InsertEntryForValidation(index.Key{lhsVal}, index.Key{rhsVal})
	}

	if e.deps[table] == nil {
		e.deps[table] = make(map[string]*dependency)
	}
	e.deps[table][def.Name] = dep
	return nil
}

func (e *engine) OnDropDependency(table string, name string) error {
	if _, ok := e.deps[table][name]; !ok {
		return &DependencyNotFoundError{Name: name, Table: table}
	}
	delete(e.deps[table], name)
	return nil
}

// -------------------------------------------------------------------------
// Dependency validation hooks — fed from both the live write path and
// WAL replay (spec.md §4.4)
// -------------------------------------------------------------------------

func (e *engine) validateInsert(table string, row []any) {
	for _, dep := range e.deps[table] {
		lhsVal, rhsVal := valueAt(row, dep.lhsCol), valueAt(row, dep.rhsCol)
		if lhsVal == nil || rhsVal == nil {
			continue
		}
		dep.idx.InsertEntryForValidation(index.Key{lhsVal}, index.Key{rhsVal})
	}
}

func (e *engine) validateDelete(table string, row []any) {
	for _, dep := range e.deps[table] {
		lhsVal, rhsVal := valueAt(row, dep.lhsCol), valueAt(row, dep.rhsCol)
		if lhsVal == nil || rhsVal == nil {
			continue
		}
		dep.idx.DeleteEntryForValidation(index.Key{lhsVal}, index.Key{rhsVal})
	}
}

func (e *engine) validateUpdate(table string, oldRow, newRow []any) {
	for _, dep := range e.deps[table] {
		oldLHS, oldRHS := valueAt(oldRow, dep.lhsCol), valueAt(oldRow, dep.rhsCol)
		newLHS, newRHS := valueAt(newRow, dep.lhsCol), valueAt(newRow, dep.rhsCol)

		switch {
		case oldLHS == nil && newLHS == nil:
			continue
		case oldLHS != nil && newLHS != nil && CompareValues(oldLHS, newLHS) == 0:
			if oldRHS == nil && newRHS == nil {
				continue
			}
			if oldRHS == nil {
				dep.idx.InsertEntryForValidation(index.Key{newLHS}, index.Key{newRHS})
				continue
			}
			if newRHS == nil {
				dep.idx.DeleteEntryForValidation(index.Key{oldLHS}, index.Key{oldRHS})
				continue
			}
			dep.idx.UpdateEntryForValidation(index.Key{oldLHS}, index.Key{oldRHS}, index.Key{newRHS})
		default:
			if oldLHS != nil && oldRHS != nil {
				dep.idx.DeleteEntryForValidation(index.Key{oldLHS}, index.Key{oldRHS})
			}
			if newLHS != nil && newRHS != nil {
				dep.idx.InsertEntryForValidation(index.Key{newLHS}, index.Key{newRHS})
			}
		}
	}
}

// -------------------------------------------------------------------------
// Engine interface — WAL-first, then apply to memory
// -------------------------------------------------------------------------

func (e *engine) CreateTable(name string, columns []ColumnDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.catalog.getTable(name); exists {
		return &TableExistsError{Name: name}
	}
	if err := e.wal.WriteCreateTable(name, columns); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnCreateTable(name, columns)
}

func (e *engine) DropTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog.getTable(name); !ok {
		return &TableNotFoundError{Name: name}
	}
	if err := e.wal.WriteDropTable(name); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnDropTable(name)
}

func (e *engine) AddColumn(table string, col ColumnDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.catalog.getTable(table)
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, existing := range def.Columns {
		if existing.Name == col.Name {
			return &ColumnExistsError{Column: col.Name, Table: table}
		}
	}
	col.Ordinal = def.NextOrdinal
	if err := e.wal.WriteAddColumn(table, col); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnAddColumn(table, col)
}

func (e *engine) DropColumn(table string, colName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog.getTable(table); !ok {
		return &TableNotFoundError{Name: table}
	}
	if err := e.wal.WriteDropColumn(table, colName); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnDropColumn(table, colName)
}

func (e *engine) GetTable(name string) (*TableDef, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.catalog.getTable(name)
}

func (e *engine) ListTables() []*TableDef {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]*TableDef, 0, len(e.catalog.tables))
	for _, def := range e.catalog.tables {
		defs = append(defs, def)
	}
	return defs
}

func (e *engine) Insert(table string, columns []string, values [][]any) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}

	// Resolve all rows first so we can pre-validate PK uniqueness.
	resolvedRows := make([][]any, 0, len(values))
	for _, vals := range values {
		fullRow, err := e.resolveInsertRow(heap, columns, vals)
		if err != nil {
			return 0, err
		}
		resolvedRows = append(resolvedRows, fullRow)
	}

	if err := e.validateNotNull(heap, resolvedRows); err != nil {
		return 0, err
	}

	// Pre-validate PK uniqueness for all rows before writing any WAL entries.
	if heap.pkCol >= 0 {
		seen := make(map[any]bool, len(resolvedRows))
		for _, fullRow := range resolvedRows {
			key := fullRow[heap.pkCol]
			if key == nil {
				return 0, &UniqueViolationError{
					Table:  table,
					Column: heap.columnByOrdinal(heap.pkCol).Name,
				}
			}
			if seen[key] {
				return 0, &UniqueViolationError{
					Table:  table,
					Column: heap.columnByOrdinal(heap.pkCol).Name,
					Value:  key,
				}
			}
			seen[key] = true
			if _, exists := heap.pkIdx.Get(key); exists {
				return 0, &UniqueViolationError{
					Table:  table,
					Column: heap.columnByOrdinal(heap.pkCol).Name,
					Value:  key,
				}
			}
		}
	}

	var count int64
	for _, fullRow := range resolvedRows {
		id := heap.allocateID()
		if err := e.wal.WriteInsert(table, id, fullRow); err != nil {
			return count, fmt.Errorf("WAL: %w", err)
		}
		if err := heap.insertWithID(id, fullRow); err != nil {
			return count, err
		}
		e.validateInsert(table, fullRow)
		count++
	}
	return count, nil
}

// validateNotNull rejects any resolved row that would store NULL in a
// NOT NULL column.
func (e *engine) validateNotNull(heap *tableHeap, rows [][]any) error {
	for _, col := range heap.def.Columns {
		if !col.NotNull {
			continue
		}
		for _, row := range rows {
			if valueAt(row, col.Ordinal) == nil {
				return &NotNullViolationError{Table: heap.def.Name, Column: col.Name}
			}
		}
	}
	return nil
}

func (e *engine) Scan(table string) (RowIterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return nil, &TableNotFoundError{Name: table}
	}
	return heap.scan(), nil
}

func (e *engine) Update(table string, sets map[string]any, filter func(Row) bool) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}

	var updates []rowUpdate
	oldValues := make(map[int64][]any)
	for id, values := range heap.rows {
		row := Row{ID: id, Values: values}
		if filter != nil && !filter(row) {
			continue
		}
		newValues := make([]any, len(values))
		copy(newValues, values)
		for colName, newVal := range sets {
			idx := heap.columnIndex(colName)
			if idx < 0 {
				return 0, &ColumnNotFoundError{Column: colName, Table: heap.def.Name}
			}
			newValues = setValueAt(newValues, idx, newVal)
		}
		updates = append(updates, rowUpdate{RowID: id, Values: newValues})
		oldValues[id] = values
	}

	if len(updates) == 0 {
		return 0, nil
	}

	if err := e.validateNotNull(heap, rowUpdateValues(updates)); err != nil {
		return 0, err
	}

	// Pre-validate PK uniqueness before WAL write.
	if heap.pkCol >= 0 {
		pkColName := heap.columnByOrdinal(heap.pkCol).Name
		if _, changing := sets[pkColName]; changing {
			// Collect all row IDs being updated for fast lookup.
			updatingIDs := make(map[int64]bool, len(updates))
			for _, u := range updates {
				updatingIDs[u.RowID] = true
			}

			seen := make(map[any]bool, len(updates))
			for _, u := range updates {
				newKey := u.Values[heap.pkCol]
				if newKey == nil {
					return 0, &UniqueViolationError{Table: table, Column: pkColName}
				}
				if seen[newKey] {
					return 0, &UniqueViolationError{Table: table, Column: pkColName, Value: newKey}
				}
				seen[newKey] = true
				// Check against existing rows that are NOT being updated.
				if existingID, found := heap.pkIdx.Get(newKey); found && !updatingIDs[existingID] {
					return 0, &UniqueViolationError{Table: table, Column: pkColName, Value: newKey}
				}
			}
		}
	}

	if err := e.wal.WriteUpdate(table, updates); err != nil {
		return 0, fmt.Errorf("WAL: %w", err)
	}
	for _, u := range updates {
		if err := heap.updateRow(u.RowID, u.Values); err != nil {
			return 0, err
		}
		e.validateUpdate(table, oldValues[u.RowID], u.Values)
	}
	return int64(len(updates)), nil
}

func rowUpdateValues(updates []rowUpdate) [][]any {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = u.Values
	}
	return rows
}

func (e *engine) Delete(table string, filter func(Row) bool) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}

	var ids []int64
	deletedRows := make(map[int64][]any)
	for id, values := range heap.rows {
		row := Row{ID: id, Values: values}
		if filter != nil && !filter(row) {
			continue
		}
		ids = append(ids, id)
		deletedRows[id] = values
	}

	if len(ids) == 0 {
		return 0, nil
	}

	if err := e.wal.WriteDelete(table, ids); err != nil {
		return 0, fmt.Errorf("WAL: %w", err)
	}
	for _, id := range ids {
		e.validateDelete(table, deletedRows[id])
	}
	heap.deleteRows(ids)
	return int64(len(ids)), nil
}

func (e *engine) LookupByPK(table string, value any) (*Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return nil, &TableNotFoundError{Name: table}
	}
	row, ok := heap.lookupByPK(value)
	if !ok {
		return nil, nil
	}
	// Return a copy to avoid data races.
	vals := make([]any, len(row.Values))
	copy(vals, row.Values)
	return &Row{ID: row.ID, Values: vals}, nil
}

func (e *engine) CreateIndex(table string, idx IndexDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	def, ok := e.catalog.getTable(table)
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	for _, existing := range def.Indexes {
		if existing.Name == idx.Name {
			return &IndexExistsError{Name: idx.Name, Table: table}
		}
	}
	if e.heaps[table].columnIndex(idx.Column) < 0 {
		return &ColumnNotFoundError{Column: idx.Column, Table: table}
	}
	if err := e.wal.WriteCreateIndex(table, idx); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnCreateIndex(table, idx)
}

func (e *engine) DropIndex(table string, indexName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog.getTable(table); !ok {
		return &TableNotFoundError{Name: table}
	}
	if err := e.wal.WriteDropIndex(table, indexName); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnDropIndex(table, indexName)
}

func (e *engine) LookupByIndex(table string, indexName string, value any) ([]Row, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return nil, &TableNotFoundError{Name: table}
	}
	rows, ok := heap.lookupByIndex(indexName, value)
	if !ok {
		return nil, &IndexNotFoundError{Name: indexName, Table: table}
	}
	return rows, nil
}

func (e *engine) RowCount(table string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	heap, ok := e.heaps[table]
	if !ok {
		return 0, &TableNotFoundError{Name: table}
	}
	return int64(len(heap.rows)), nil
}

// MemoryUsage reports the estimated in-memory footprint of every table
// and its indexes (spec.md §4.9's estimator, wired into the repl's
// MEMORY command).
func (e *engine) MemoryUsage() []TableMemInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]TableMemInfo, 0, len(e.heaps))
	for name, heap := range e.heaps {
		info := TableMemInfo{TableName: name}
		for _, row := range heap.rows {
			info.RowBytes += rowBytesEstimate(row)
		}
		if heap.pkIdx != nil {
			info.PKIndex = &IndexMemInfo{
				Type:  "BTree",
				Name:  "pk",
				Bytes: heap.pkIdx.Size(),
			}
		}
		for _, si := range heap.secondary {
			info.Indexes = append(info.Indexes, IndexMemInfo{
				Type:  "MultiBTree",
				Name:  si.def.Name,
				Bytes: si.multi.Size(),
			})
		}
		infos = append(infos, info)
	}
	return infos
}

func (e *engine) CreateDependency(table string, dep DependencyDef) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.catalog.getTable(table); !ok {
		return &TableNotFoundError{Name: table}
	}
	if _, exists := e.deps[table][dep.Name]; exists {
		return &DependencyExistsError{Name: dep.Name, Table: table}
	}
	if err := e.wal.WriteCreateDependency(table, dep); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnCreateDependency(table, dep)
}

func (e *engine) DropDependency(table, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.deps[table][name]; !ok {
		return &DependencyNotFoundError{Name: name, Table: table}
	}
	if err := e.wal.WriteDropDependency(table, name); err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	return e.OnDropDependency(table, name)
}

func (e *engine) DependencyStatus(table, name string) (DependencyStatusInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	dep, ok := e.deps[table][name]
	if !ok {
		return DependencyStatusInfo{}, &DependencyNotFoundError{Name: name, Table: table}
	}
	count := dep.idx.GlobalViolationCount()
	return DependencyStatusInfo{
		Name:           dep.def.Name,
		Type:           dep.def.Type,
		ViolationCount: count,
		Holds:          count == 0,
	}, nil
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// resolveInsertRow maps named columns + values to a full row, addressed
// by column ordinal (not definition-slice position, since ordinals
// survive DROP COLUMN), filling unspecified columns with nil (NULL).
// When columns is nil the values are matched to def.Columns in their
// current definition order.
func (e *engine) resolveInsertRow(heap *tableHeap, columns []string, values []any) ([]any, error) {
	def := &heap.def

	if columns == nil {
		if len(values) != len(def.Columns) {
			return nil, &ValueCountError{Expected: len(def.Columns), Got: len(values)}
		}
		row := make([]any, def.NextOrdinal)
		for i, col := range def.Columns {
			row[col.Ordinal] = values[i]
		}
		return row, nil
	}

	row := make([]any, def.NextOrdinal)
	for i, colName := range columns {
		idx := heap.columnIndex(colName)
		if idx < 0 {
			return nil, &ColumnNotFoundError{Column: colName, Table: def.Name}
		}
		if i >= len(values) {
			return nil, &ValueCountError{Expected: len(columns), Got: len(values)}
		}
		row[idx] = values[i]
	}
	return row, nil
}
