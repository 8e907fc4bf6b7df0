// Package mssql wires a Microsoft SQL Server backend into the storage factory.
//
// SQL Server has no INSERT IGNORE; dictionary inserts select only the values
// missing from the table under UPDLOCK/HOLDLOCK so concurrent writers cannot
// race past the check.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"datadict/internal/storage"
	"datadict/internal/storage/sqlstore"
)

// Dialect is the SQL Server flavour of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "mssql" }
func (Dialect) Placeholder(n int) string { return sqlstore.AtP(n) }

// Quote brackets an identifier, doubling any closing bracket.
func (Dialect) Quote(ident string) string { return `[` + strings.ReplaceAll(ident, `]`, `]]`) + `]` }

// MaxBatch stays under the 2100 parameter limit.
func (Dialect) MaxBatch() int { return 1000 }

// MaxValueLen counts bytes of UTF-8. A value of n bytes never needs more
// than n UTF-16 code units, so it always fits NVARCHAR(850).
func (Dialect) MaxValueLen() int { return 850 }

func createIfMissing(name, body string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'dbo.%s', N'U') IS NULL CREATE TABLE dbo.[%s] (%s)", name, name, body)
}

func (Dialect) Bootstrap() []string {
	return []string{
		createIfMissing("dd_columns",
			"column_index INT NOT NULL PRIMARY KEY, column_name NVARCHAR(255) NOT NULL, table_name NVARCHAR(128) NOT NULL UNIQUE"),
		createIfMissing("dd_file_progress",
			"file_name NVARCHAR(450) NOT NULL PRIMARY KEY, last_row BIGINT NOT NULL, is_finished BIT NOT NULL DEFAULT 0, updated_at BIGINT NOT NULL"),
		createIfMissing("dd_meta",
			"meta_key NVARCHAR(255) NOT NULL PRIMARY KEY, meta_value NVARCHAR(MAX) NOT NULL"),
	}
}

// CreateTable uses a binary collation so the unique index compares exact
// values, and NVARCHAR(850) to fit the 1700-byte nonclustered key limit.
func (d Dialect) CreateTable(table string) string {
	return createIfMissing(table,
		"id BIGINT IDENTITY(1,1) NOT NULL PRIMARY KEY, value NVARCHAR(850) COLLATE Latin1_General_100_BIN2 NOT NULL UNIQUE")
}

func (d Dialect) InsertIgnore(table string, n int) string {
	t := d.Quote(table)
	return fmt.Sprintf("INSERT INTO %s (value) SELECT v.value FROM (VALUES %s) AS v(value) "+
		"WHERE NOT EXISTS (SELECT 1 FROM %s AS t WITH (UPDLOCK, HOLDLOCK) WHERE t.value = v.value)",
		t, sqlstore.ValuesRows(d, n), t)
}

func (d Dialect) Upsert(table string, cols []string) string {
	quoted := make([]string, len(cols))
	src := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		src[i] = fmt.Sprintf("%s AS %s", d.Placeholder(i+1), quoted[i])
	}
	set := make([]string, 0, len(cols)-1)
	for _, c := range quoted[1:] {
		set = append(set, fmt.Sprintf("t.%s = s.%s", c, c))
	}
	vals := make([]string, len(cols))
	for i, c := range quoted {
		vals[i] = "s." + c
	}
	return fmt.Sprintf("MERGE %s WITH (HOLDLOCK) AS t USING (SELECT %s) AS s ON t.%s = s.%s "+
		"WHEN MATCHED THEN UPDATE SET %s "+
		"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		d.Quote(table), strings.Join(src, ", "), quoted[0], quoted[0],
		strings.Join(set, ", "), strings.Join(quoted, ", "), strings.Join(vals, ", "))
}

// Duplicate key errors: unique index (2601) and unique/primary key
// constraint (2627).
func (Dialect) IsUniqueViolation(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number == 2601 || me.Number == 2627
	}
	return false
}

// newDB is a test hook that points to Open by default.
var newDB = Open

// Open validates dsn, connects and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, errors.Wrap(err, "mssql dsn")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "mssql open")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "mssql ping")
	}
	return db, nil
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
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
