// Package repl implements a line-oriented command interpreter over a
// storage.Engine: create tables, insert and mutate rows, declare
// secondary indexes, and declare functional/order dependencies to be
// validated incrementally as the table changes. It replaces the SQL
// front end the original engine spoke pgwire with, since that surface
// (parser, executor, wire protocol) is explicitly out of scope here —
// this package is the harness that exercises the engine's dependency
// and index surface directly.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mulldb/storage"
	"mulldb/storage/index"
)

// Repl reads commands from in, executes them against eng, and writes
// results to out.
type Repl struct {
	eng   storage.Engine
	in    *bufio.Scanner
	out   io.Writer
	Trace bool // when true, print a timing line after every command
}

func New(eng storage.Engine, in io.Reader, out io.Writer) *Repl {
	return &Repl{eng: eng, in: bufio.NewScanner(in), out: out}
}

// Run reads commands until EOF, QUIT, or EXIT. Errors from individual
// commands are printed and do not stop the loop; only a scanner error
// (e.g. an I/O failure) is returned.
func (r *Repl) Run() error {
	for {
		fmt.Fprint(r.out, "mulldb> ")
		if !r.in.Scan() {
			break
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		tokens, err := tokenize(line)
		if err != nil {
			fmt.Fprintf(r.out, "ERROR: %v\n", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if strings.EqualFold(tokens[0], "QUIT") || strings.EqualFold(tokens[0], "EXIT") {
			return nil
		}

		start := time.Now()
		tag, err := r.execute(tokens)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(r.out, "ERROR: %v\n", err)
		} else {
			fmt.Fprintln(r.out, tag)
		}
		if r.Trace {
			fmt.Fprintf(r.out, "-- %v\n", elapsed)
		}
	}
	return r.in.Err()
}

func (r *Repl) execute(tokens []string) (string, error) {
	verb := strings.ToUpper(tokens[0])
	switch verb {
	case "CREATE":
		if len(tokens) < 2 {
			return "", fmt.Errorf("CREATE requires a noun: TABLE, INDEX, or DEPENDENCY")
		}
		switch strings.ToUpper(tokens[1]) {
		case "TABLE":
			return r.createTable(tokens[2:])
		case "INDEX":
			return r.createIndex(tokens[2:])
		case "DEPENDENCY":
			return r.createDependency(tokens[2:])
		default:
			return "", fmt.Errorf("unknown CREATE noun %q", tokens[1])
		}

	case "DROP":
		if len(tokens) < 2 {
			return "", fmt.Errorf("DROP requires a noun: TABLE, INDEX, or DEPENDENCY")
		}
		switch strings.ToUpper(tokens[1]) {
		case "TABLE":
			return r.dropTable(tokens[2:])
		case "INDEX":
			return r.dropIndex(tokens[2:])
		case "DEPENDENCY":
			return r.dropDependency(tokens[2:])
		default:
			return "", fmt.Errorf("unknown DROP noun %q", tokens[1])
		}

	case "INSERT":
		return r.insert(tokens[1:])
	case "UPDATE":
		return r.update(tokens[1:])
	case "DELETE":
		return r.delete(tokens[1:])
	case "SCAN":
		return r.scan(tokens[1:])
	case "LOOKUP":
		return r.lookup(tokens[1:])
	case "STATUS":
		return r.status(tokens[1:])
	case "TABLES":
		return r.tables()
	case "MEMORY":
		return r.memory()
	case "HELP":
		return helpText, nil
	default:
		return "", fmt.Errorf("unknown command %q", tokens[0])
	}
}

const helpText = `commands:
  CREATE TABLE <table> <col:TYPE[:PK][:NN]>...
  DROP TABLE <table>
  TABLES
  INSERT <table> <v1> <v2> ...
  UPDATE <table> <pk-value> <col>=<val> [<col>=<val> ...]
  DELETE <table> <pk-value>
  SCAN <table>
  CREATE INDEX <table> <name> <col> [UNIQUE]
  DROP INDEX <table> <name>
  LOOKUP <table> <index> <value>
  CREATE DEPENDENCY <table> <name> <FD|OD> <lhs-col> <rhs-col>
  DROP DEPENDENCY <table> <name>
  STATUS <table> <name>
  MEMORY
  QUIT / EXIT
types: INTEGER, FLOAT, TEXT, BOOLEAN, TIMESTAMP`

// -------------------------------------------------------------------
// CREATE / DROP TABLE
// -------------------------------------------------------------------

func (r *Repl) createTable(args []string) (string, error) {
	if len(args) < 2 {
		return "", fmt.Errorf("usage: CREATE TABLE <table> <col:TYPE[:PK][:NN]>...")
	}
	table := args[0]
	cols := make([]storage.ColumnDef, 0, len(args)-1)
	for _, spec := range args[1:] {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return "", fmt.Errorf("bad column spec %q, want name:TYPE[:PK][:NN]", spec)
		}
		dt, err := parseDataType(parts[1])
		if err != nil {
			return "", err
		}
		col := storage.ColumnDef{Name: parts[0], DataType: dt}
		for _, flag := range parts[2:] {
			switch strings.ToUpper(flag) {
			case "PK":
				col.PrimaryKey = true
				col.NotNull = true
			case "NN":
				col.NotNull = true
			default:
				return "", fmt.Errorf("unknown column flag %q", flag)
			}
		}
		cols = append(cols, col)
	}
	if err := r.eng.CreateTable(table, cols); err != nil {
		return "", err
	}
	return "CREATE TABLE", nil
}

func (r *Repl) dropTable(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: DROP TABLE <table>")
	}
	if err := r.eng.DropTable(args[0]); err != nil {
		return "", err
	}
	return "DROP TABLE", nil
}

func (r *Repl) tables() (string, error) {
	defs := r.eng.ListTables()
	var b strings.Builder
	for _, d := range defs {
		fmt.Fprintf(&b, "%s (", d.Name)
		for i, c := range d.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", c.Name, c.DataType)
			if c.PrimaryKey {
				b.WriteString(" PK")
			}
		}
		b.WriteString(")\n")
	}
	fmt.Fprintf(&b, "TABLES %d", len(defs))
	return b.String(), nil
}

// -------------------------------------------------------------------
// INSERT / UPDATE / DELETE / SCAN
// -------------------------------------------------------------------

func (r *Repl) insert(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("usage: INSERT <table> <v1> <v2> ...")
	}
	table := args[0]
	def, ok := r.eng.GetTable(table)
	if !ok {
		return "", &storage.TableNotFoundError{Name: table}
	}
	tokens := args[1:]
	if len(tokens) != len(def.Columns) {
		return "", &storage.ValueCountError{Expected: len(def.Columns), Got: len(tokens)}
	}
	values := make([]any, len(tokens))
	for i, col := range def.Columns {
		v, err := coerceValue(tokens[i], col.DataType)
		if err != nil {
			return "", err
		}
		values[i] = v
	}
	n, err := r.eng.Insert(table, nil, [][]any{values})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INSERT %d", n), nil
}

func (r *Repl) update(args []string) (string, error) {
	if len(args) < 3 {
		return "", fmt.Errorf("usage: UPDATE <table> <pk-value> <col>=<val> [...]")
	}
	table, pkToken := args[0], args[1]
	target, err := r.rowByPK(table, pkToken)
	if err != nil {
		return "", err
	}
	def, _ := r.eng.GetTable(table)

	sets := make(map[string]any, len(args)-2)
	for _, assign := range args[2:] {
		eq := strings.IndexByte(assign, '=')
		if eq < 0 {
			return "", fmt.Errorf("bad assignment %q, want col=val", assign)
		}
		colName, raw := assign[:eq], assign[eq+1:]
		col, ok := columnByName(def, colName)
		if !ok {
			return "", &storage.ColumnNotFoundError{Column: colName, Table: table}
		}
		v, err := coerceValue(raw, col.DataType)
		if err != nil {
			return "", err
		}
		sets[colName] = v
	}

	n, err := r.eng.Update(table, sets, func(row storage.Row) bool { return row.ID == target.ID })
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("UPDATE %d", n), nil
}

func (r *Repl) delete(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: DELETE <table> <pk-value>")
	}
	table, pkToken := args[0], args[1]
	target, err := r.rowByPK(table, pkToken)
	if err != nil {
		return "", err
	}
	n, err := r.eng.Delete(table, func(row storage.Row) bool { return row.ID == target.ID })
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("DELETE %d", n), nil
}

func (r *Repl) scan(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: SCAN <table>")
	}
	table := args[0]
	it, err := r.eng.Scan(table)
	if err != nil {
		return "", err
	}
	defer it.Close()

	var b strings.Builder
	n := 0
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		fmt.Fprintf(&b, "%d: %v\n", row.ID, row.Values)
		n++
	}
	fmt.Fprintf(&b, "SCAN %d", n)
	return b.String(), nil
}

// rowByPK resolves a primary-key token to the row it names, coercing
// the token to the PK column's type first.
func (r *Repl) rowByPK(table, pkToken string) (*storage.Row, error) {
	def, ok := r.eng.GetTable(table)
	if !ok {
		return nil, &storage.TableNotFoundError{Name: table}
	}
	pkOrdinal := def.PrimaryKeyColumn()
	if pkOrdinal < 0 {
		return nil, fmt.Errorf("table %q has no primary key", table)
	}
	var pkCol storage.ColumnDef
	for _, c := range def.Columns {
		if c.Ordinal == pkOrdinal {
			pkCol = c
			break
		}
	}
	pkVal, err := coerceValue(pkToken, pkCol.DataType)
	if err != nil {
		return nil, err
	}
	return r.eng.LookupByPK(table, pkVal)
}

func columnByName(def *storage.TableDef, name string) (storage.ColumnDef, bool) {
	for _, c := range def.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return storage.ColumnDef{}, false
}

// -------------------------------------------------------------------
// CREATE/DROP INDEX, LOOKUP
// -------------------------------------------------------------------

func (r *Repl) createIndex(args []string) (string, error) {
	if len(args) < 3 {
		return "", fmt.Errorf("usage: CREATE INDEX <table> <name> <col> [UNIQUE]")
	}
	idx := storage.IndexDef{Name: args[1], Column: args[2]}
	if len(args) > 3 && strings.EqualFold(args[3], "UNIQUE") {
		idx.Unique = true
	}
	if err := r.eng.CreateIndex(args[0], idx); err != nil {
		return "", err
	}
	return "CREATE INDEX", nil
}

func (r *Repl) dropIndex(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: DROP INDEX <table> <name>")
	}
	if err := r.eng.DropIndex(args[0], args[1]); err != nil {
		return "", err
	}
	return "DROP INDEX", nil
}

func (r *Repl) lookup(args []string) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("usage: LOOKUP <table> <index> <value>")
	}
	table, idxName, raw := args[0], args[1], args[2]
	def, ok := r.eng.GetTable(table)
	if !ok {
		return "", &storage.TableNotFoundError{Name: table}
	}
	var col storage.ColumnDef
	found := false
	for _, ix := range def.Indexes {
		if strings.EqualFold(ix.Name, idxName) {
			col, found = columnByName(def, ix.Column)
			break
		}
	}
	if !found {
		return "", &storage.IndexNotFoundError{Name: idxName, Table: table}
	}
	val, err := coerceValue(raw, col.DataType)
	if err != nil {
		return "", err
	}
	rows, err := r.eng.LookupByIndex(table, idxName, val)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, row := range rows {
		fmt.Fprintf(&b, "%d: %v\n", row.ID, row.Values)
	}
	fmt.Fprintf(&b, "LOOKUP %d", len(rows))
	return b.String(), nil
}

// -------------------------------------------------------------------
// CREATE/DROP DEPENDENCY, STATUS
// -------------------------------------------------------------------

func (r *Repl) createDependency(args []string) (string, error) {
	if len(args) != 5 {
		return "", fmt.Errorf("usage: CREATE DEPENDENCY <table> <name> <FD|OD> <lhs-col> <rhs-col>")
	}
	table, name, kind, lhs, rhs := args[0], args[1], strings.ToUpper(args[2]), args[3], args[4]
	var depType index.DepType
	switch kind {
	case "FD":
		depType = index.FD
	case "OD":
		depType = index.OD
	default:
		return "", fmt.Errorf("unknown dependency type %q, want FD or OD", kind)
	}
	dep := storage.DependencyDef{Name: name, Type: depType, LHSColumn: lhs, RHSColumn: rhs}
	if err := r.eng.CreateDependency(table, dep); err != nil {
		return "", err
	}
	return "CREATE DEPENDENCY", nil
}

func (r *Repl) status(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: STATUS <table> <name>")
	}
	st, err := r.eng.DependencyStatus(args[0], args[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s: holds=%v violations=%d", st.Type, st.Name, st.Holds, st.ViolationCount), nil
}

func (r *Repl) dropDependency(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: DROP DEPENDENCY <table> <name>")
	}
	if err := r.eng.DropDependency(args[0], args[1]); err != nil {
		return "", err
	}
	return "DROP DEPENDENCY", nil
}

// -------------------------------------------------------------------
// MEMORY
// -------------------------------------------------------------------

func (r *Repl) memory() (string, error) {
	infos := r.eng.MemoryUsage()
	var b strings.Builder
	var total int64
	for _, info := range infos {
		total += info.RowBytes
		fmt.Fprintf(&b, "%-16s %-10s %-16s %10s\n", info.TableName, "table", info.TableName, humanBytes(info.RowBytes))
		if info.PKIndex != nil {
			total += info.PKIndex.Bytes
			fmt.Fprintf(&b, "%-16s %-10s %-16s %10s\n", info.TableName, info.PKIndex.Type, info.PKIndex.Name, humanBytes(info.PKIndex.Bytes))
		}
		for _, ix := range info.Indexes {
			total += ix.Bytes
			fmt.Fprintf(&b, "%-16s %-10s %-16s %10s\n", info.TableName, ix.Type, ix.Name, humanBytes(ix.Bytes))
		}
	}
	fmt.Fprintf(&b, "MEMORY total=%s", humanBytes(total))
	return b.String(), nil
}

func humanBytes(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(kb))
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}
