// Package sqlstore implements storage.Backend on database/sql. Backends
// supply a Dialect for the SQL that differs between engines.
package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the engine-specific SQL of a backend.
type Dialect interface {
	// Name is the storage kind, used in error messages.
	Name() string
	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// Bootstrap returns idempotent DDL for the registry, ledger and meta
	// tables.
	Bootstrap() []string
	// CreateTable returns idempotent DDL for one dictionary table.
	CreateTable(table string) string
	// InsertIgnore returns a statement inserting n values into table,
	// silently skipping values that already exist.
	InsertIgnore(table string, n int) string
	// Upsert returns a statement that inserts or, on key conflict, updates
	// one row of table. cols[0] is the key.
	Upsert(table string, cols []string) string
	// MaxBatch caps the number of values per InsertIgnore statement.
	MaxBatch() int
	// MaxValueLen is the longest value in bytes the dictionary column holds
	// without truncation or an index error; 0 means unlimited.
	MaxValueLen() int
	// IsUniqueViolation reports whether err is a duplicate-key error.
	IsUniqueViolation(err error) bool
}

// Table and column names of the control tables.
const (
	ColumnsTable  = "dd_columns"
	ProgressTable = "dd_file_progress"
	MetaTable     = "dd_meta"
)

var (
	columnsCols  = []string{"column_index", "column_name", "table_name"}
	progressCols = []string{"file_name", "last_row", "is_finished", "updated_at"}
	metaCols     = []string{"meta_key", "meta_value"}
)

// Placeholders joins n placeholders of d, starting at from, with sep.
func Placeholders(d Dialect, from, n int, sep string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(d.Placeholder(from + i))
	}
	return b.String()
}

// QuestionMark is the ? placeholder style shared by SQLite and MySQL.
func QuestionMark(int) string { return "?" }

// AtP is the @pN placeholder style of SQL Server.
func AtP(n int) string { return "@p" + strconv.Itoa(n) }

// ValuesRows renders n single-column VALUES tuples: (?),(?),...
func ValuesRows(d Dialect, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		b.WriteString(d.Placeholder(i + 1))
		b.WriteByte(')')
	}
	return b.String()
}

func quoteAll(d Dialect, cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Quote(c)
	}
	return strings.Join(q, ", ")
}
