// Package sqlite wires the pure-Go SQLite backend into the storage factory.
// It is the default store: one file, WAL journaling, a single writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"modernc.org/sqlite"

	"datadict/internal/storage"
	"datadict/internal/storage/sqlstore"
)

// Dialect is the SQLite flavour of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite" }
func (Dialect) Placeholder(n int) string { return sqlstore.QuestionMark(n) }
func (Dialect) Quote(ident string) string { return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"` }
func (Dialect) MaxBatch() int { return 500 }

// MaxValueLen is 0: TEXT is bounded only by SQLITE_MAX_LENGTH.
func (Dialect) MaxValueLen() int { return 0 }

func (d Dialect) Bootstrap() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS dd_columns (
			column_index INTEGER PRIMARY KEY,
			column_name  TEXT NOT NULL,
			table_name   TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS dd_file_progress (
			file_name   TEXT PRIMARY KEY,
			last_row    INTEGER NOT NULL,
			is_finished INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dd_meta (
			meta_key   TEXT PRIMARY KEY,
			meta_value TEXT NOT NULL
		)`,
	}
}

func (d Dialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id    INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	)`, d.Quote(table))
}

func (d Dialect) InsertIgnore(table string, n int) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (value) VALUES %s", d.Quote(table), sqlstore.ValuesRows(d, n))
}

func (d Dialect) Upsert(table string, cols []string) string {
	set := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		set = append(set, fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c)))
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		d.Quote(table), strings.Join(quoted, ", "), sqlstore.Placeholders(d, 1, len(cols), ", "),
		quoted[0], strings.Join(set, ", "))
}

func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == codeConstraintUnique || se.Code() == codeConstraintPrimaryKey
}

// Extended result codes.
const (
	codeConstraintPrimaryKey = 1555
	codeConstraintUnique     = 2067
)

// newDB is a test hook that points to Open by default.
var newDB = Open

// Open opens the SQLite file at dsn and configures WAL journaling and a
// busy timeout.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	// One connection: the pragmas below are per connection, and reads made
	// by the pipeline must see the writes of its open transaction.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: ping")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "sqlite: %s", pragma)
		}
	}
	return db, nil
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		db, err := newDB(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.New(ctx, db, Dialect{})
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return s, nil
	})
}
