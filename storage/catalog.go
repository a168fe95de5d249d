package storage

// catalog manages table schemas in memory. It is rebuilt from the WAL
// on startup — there is no separate catalog file.
type catalog struct {
	tables map[string]*TableDef
}

func newCatalog() *catalog {
	return &catalog{tables: make(map[string]*TableDef)}
}

func (c *catalog) createTable(name string, columns []ColumnDef) error {
	if _, exists := c.tables[name]; exists {
		return &TableExistsError{Name: name}
	}
	for i := range columns {
		columns[i].Ordinal = i
	}
	c.tables[name] = &TableDef{Name: name, Columns: columns, NextOrdinal: len(columns)}
	return nil
}

func (c *catalog) dropTable(name string) error {
	if _, exists := c.tables[name]; !exists {
		return &TableNotFoundError{Name: name}
	}
	delete(c.tables, name)
	return nil
}

func (c *catalog) addColumn(table string, col ColumnDef) (ColumnDef, error) {
	def, ok := c.tables[table]
	if !ok {
		return ColumnDef{}, &TableNotFoundError{Name: table}
	}
	for _, existing := range def.Columns {
		if existing.Name == col.Name {
			return ColumnDef{}, &ColumnExistsError{Column: col.Name, Table: table}
		}
	}
	col.Ordinal = def.NextOrdinal
	def.Columns = append(def.Columns, col)
	def.NextOrdinal++
	return col, nil
}

func (c *catalog) dropColumn(table, colName string) error {
	def, ok := c.tables[table]
	if !ok {
		return &TableNotFoundError{Name: table}
	}
	idx := -1
	for i, col := range def.Columns {
		if col.Name == colName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &ColumnNotFoundError{Column: colName, Table: table}
	}
	if def.Columns[idx].PrimaryKey {
		return &DropPrimaryKeyColumnError{Table: table, Column: colName}
	}
	if len(def.Columns) == 1 {
		return &DropLastColumnError{Table: table}
	}
	def.Columns = append(def.Columns[:idx], def.Columns[idx+1:]...)
	return nil
}

func (c *catalog) getTable(name string) (*TableDef, bool) {
	def, ok := c.tables[name]
	return def, ok
}
