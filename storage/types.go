package storage

import (
	"fmt"

	"mulldb/storage/index"
)

// DataType identifies a column's data type.
type DataType uint8

const (
	TypeInteger DataType = iota
	TypeText
	TypeBoolean
	TypeTimestamp
	TypeFloat
)

func (d DataType) String() string {
	switch d {
	case TypeInteger:
		return "INTEGER"
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeFloat:
		return "FLOAT"
	default:
		return "UNKNOWN"
	}
}

// ColumnDef describes a column in a table.
type ColumnDef struct {
	Name       string
	DataType   DataType
	PrimaryKey bool
	NotNull    bool
	Ordinal    int // permanent position index; never reused after DROP COLUMN
}

// IndexDef describes a secondary index on a table.
type IndexDef struct {
	Name   string // index name (unique within the table)
	Column string // indexed column name
	Unique bool   // true for UNIQUE indexes
}

// TableDef describes the schema of a table.
type TableDef struct {
	Name        string
	Columns     []ColumnDef
	NextOrdinal int // next ordinal to assign on ADD COLUMN
	Indexes     []IndexDef
}

// PrimaryKeyColumn returns the ordinal of the primary key column,
// or -1 if the table has no primary key.
func (d *TableDef) PrimaryKeyColumn() int {
	for _, col := range d.Columns {
		if col.PrimaryKey {
			return col.Ordinal
		}
	}
	return -1
}

// RowValue returns the value at the given ordinal from a row's values
// slice. If the row is shorter than the ordinal (e.g. row predates an
// ADD COLUMN), it returns nil (NULL).
func RowValue(values []any, ordinal int) any {
	if ordinal < len(values) {
		return values[ordinal]
	}
	return nil
}

// Row is a single row of data with an internal ID.
// Values are indexed by column ordinal (see RowValue). Each value is one of:
//
//	int64      (INTEGER)
//	float64    (FLOAT)
//	string     (TEXT)
//	bool       (BOOLEAN)
//	time.Time  (TIMESTAMP)
//	nil        (NULL)
type Row struct {
	ID     int64
	Values []any
}

// RowIterator streams rows from a scan.
type RowIterator interface {
	Next() (Row, bool)
	Close() error
}

// -------------------------------------------------------------------------
// Typed errors — returned by the engine; callers match them with errors.As
// -------------------------------------------------------------------------

// TableExistsError is returned when creating a table that already exists.
type TableExistsError struct{ Name string }

func (e *TableExistsError) Error() string {
	return fmt.Sprintf("table %q already exists", e.Name)
}

// TableNotFoundError is returned when referencing a table that does not exist.
type TableNotFoundError struct{ Name string }

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q does not exist", e.Name)
}

// ColumnNotFoundError is returned when referencing a column that does not exist.
type ColumnNotFoundError struct{ Column, Table string }

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("column %q not found in table %q", e.Column, e.Table)
}

// ValueCountError is returned when the number of values doesn't match columns.
type ValueCountError struct{ Expected, Got int }

func (e *ValueCountError) Error() string {
	return fmt.Sprintf("expected %d values, got %d", e.Expected, e.Got)
}

// UniqueViolationError is returned when an INSERT or UPDATE would
// violate a uniqueness constraint (primary key or unique index).
type UniqueViolationError struct {
	Table  string
	Column string
	Value  any
	Index  string // index name, if violation came from a secondary index
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("duplicate key value violates unique constraint on column %q of table %q", e.Column, e.Table)
}

// NotNullViolationError is returned when an INSERT or UPDATE would
// store NULL in a NOT NULL column.
type NotNullViolationError struct {
	Table  string
	Column string
}

func (e *NotNullViolationError) Error() string {
	return fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", e.Column, e.Table)
}

// DropPrimaryKeyColumnError is returned when attempting to drop a
// table's primary key column.
type DropPrimaryKeyColumnError struct {
	Table, Column string
}

func (e *DropPrimaryKeyColumnError) Error() string {
	return fmt.Sprintf("cannot drop primary key column %q of table %q", e.Column, e.Table)
}

// DropLastColumnError is returned when attempting to drop a table's
// only remaining column.
type DropLastColumnError struct {
	Table string
}

func (e *DropLastColumnError) Error() string {
	return fmt.Sprintf("cannot drop the last column of table %q", e.Table)
}

// ColumnExistsError is returned when adding a column that already exists.
type ColumnExistsError struct {
	Column string
	Table  string
}

func (e *ColumnExistsError) Error() string {
	return fmt.Sprintf("column %q of relation %q already exists", e.Column, e.Table)
}

// IndexExistsError is returned when creating an index that already exists.
type IndexExistsError struct {
	Name  string
	Table string
}

func (e *IndexExistsError) Error() string {
	return fmt.Sprintf("index %q already exists on table %q", e.Name, e.Table)
}

// IndexNotFoundError is returned when referencing an index that does not exist.
type IndexNotFoundError struct {
	Name  string
	Table string
}

func (e *IndexNotFoundError) Error() string {
	return fmt.Sprintf("index %q does not exist on table %q", e.Name, e.Table)
}

// DependencyExistsError is returned when declaring a dependency whose
// name already exists on the table.
type DependencyExistsError struct {
	Name  string
	Table string
}

func (e *DependencyExistsError) Error() string {
	return fmt.Sprintf("dependency %q already exists on table %q", e.Name, e.Table)
}

// DependencyNotFoundError is returned when referencing a dependency
// that does not exist.
type DependencyNotFoundError struct {
	Name  string
	Table string
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("dependency %q does not exist on table %q", e.Name, e.Table)
}

// DependencyDef declares a functional or order dependency to be
// validated incrementally as the table is mutated (spec.md §1, §4.4).
// Both LHSColumn and RHSColumn name single columns: a multi-component
// LHS/RHS is out of this declaration surface's scope, mirroring how
// the underlying index.DependencyIndex collapses a multi-component RHS
// to its leading component.
type DependencyDef struct {
	Name      string
	Type      index.DepType
	LHSColumn string
	RHSColumn string
}

// DependencyStatusInfo reports a declared dependency's current
// validation state.
type DependencyStatusInfo struct {
	Name           string
	Type           index.DepType
	ViolationCount int
	Holds          bool
}

// IndexMemInfo reports one index's estimated memory footprint, for
// the repl's MEMORY command.
type IndexMemInfo struct {
	Type  string
	Name  string
	Bytes int64
}

// TableMemInfo reports one table's estimated memory footprint, broken
// down by row storage and by index, for the repl's MEMORY command.
type TableMemInfo struct {
	TableName string
	RowBytes  int64
	PKIndex   *IndexMemInfo
	Indexes   []IndexMemInfo
}

// Engine is the storage layer interface. The repl package depends on this
// contract, never on the concrete implementation.
type Engine interface {
	CreateTable(name string, columns []ColumnDef) error
	DropTable(name string) error
	AddColumn(table string, col ColumnDef) error
	DropColumn(table string, colName string) error
	GetTable(name string) (*TableDef, bool)
	ListTables() []*TableDef
	Insert(table string, columns []string, values [][]any) (int64, error)
	Scan(table string) (RowIterator, error)
	Update(table string, sets map[string]any, filter func(Row) bool) (int64, error)
	Delete(table string, filter func(Row) bool) (int64, error)
	LookupByPK(table string, value any) (*Row, error)
	CreateIndex(table string, idx IndexDef) error
	DropIndex(table string, indexName string) error
	LookupByIndex(table string, indexName string, value any) ([]Row, error)
	RowCount(table string) (int64, error)
	MemoryUsage() []TableMemInfo
	CreateDependency(table string, dep DependencyDef) error
	DropDependency(table, name string) error
	DependencyStatus(table, name string) (DependencyStatusInfo, error)
	Close() error
}
