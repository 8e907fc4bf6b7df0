// Package mysql wires a MySQL/MariaDB backend into the storage factory.
//
// Dictionary values are stored as VARCHAR(768) with a binary collation so
// that the unique index compares bytes, not case-folded text. INSERT IGNORE
// would truncate a longer value into a silent duplicate, so values over
// MaxValueLen bytes are refused before any statement runs. Note that DDL
// commits implicitly in MySQL; the pipeline creates every table before it
// opens its first transaction.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-sql-driver/mysql"

	"datadict/internal/storage"
	"datadict/internal/storage/sqlstore"
)

// valueChars is the width of the value column; 768 utf8mb4 characters fill
// the 3072-byte InnoDB index key.
const valueChars = 768

// Dialect is the MySQL flavour of sqlstore.Dialect.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string { return "mysql" }
func (Dialect) Placeholder(n int) string { return sqlstore.QuestionMark(n) }
func (Dialect) Quote(ident string) string { return "`" + strings.ReplaceAll(ident, "`", "``") + "`" }
func (Dialect) MaxBatch() int { return 1000 }

// MaxValueLen bounds values in bytes, which also bounds them to 768
// characters of VARCHAR(768).
func (Dialect) MaxValueLen() int { return valueChars }

func (Dialect) Bootstrap() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS `dd_columns` (" +
			"`column_index` INT NOT NULL PRIMARY KEY, " +
			"`column_name` VARCHAR(255) NOT NULL, " +
			"`table_name` VARCHAR(64) NOT NULL UNIQUE" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		"CREATE TABLE IF NOT EXISTS `dd_file_progress` (" +
			"`file_name` VARCHAR(512) NOT NULL PRIMARY KEY, " +
			"`last_row` BIGINT NOT NULL, " +
			"`is_finished` BOOLEAN NOT NULL DEFAULT FALSE, " +
			"`updated_at` BIGINT NOT NULL" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin",
		"CREATE TABLE IF NOT EXISTS `dd_meta` (" +
			"`meta_key` VARCHAR(191) NOT NULL PRIMARY KEY, " +
			"`meta_value` TEXT NOT NULL" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
	}
}

func (d Dialect) CreateTable(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s ("+
		"`id` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY, "+
		"`value` VARCHAR(%d) NOT NULL, "+
		"UNIQUE KEY `ux_value` (`value`)"+
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin", d.Quote(table), valueChars)
}

func (d Dialect) InsertIgnore(table string, n int) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (`value`) VALUES %s", d.Quote(table), sqlstore.ValuesRows(d, n))
}

func (d Dialect) Upsert(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	set := make([]string, 0, len(cols)-1)
	for _, c := range quoted[1:] {
		set = append(set, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		d.Quote(table), strings.Join(quoted, ", "), sqlstore.Placeholders(d, 1, len(cols), ", "),
		strings.Join(set, ", "))
}

// erDupEntry is ER_DUP_ENTRY.
const erDupEntry = 1062

func (Dialect) IsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}

// newDB is a test hook that points to Open by default.
var newDB = Open

// Open parses dsn and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "mysql dsn")
	}
	cfg.ParseTime = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "mysql connector")
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "mysql ping")
	}
	return db, nil
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
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
