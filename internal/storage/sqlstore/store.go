package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"datadict/internal/column"
	"datadict/internal/storage"
)

// execer is the subset of *sql.DB and *sql.Tx used for writes and reads.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a storage.Backend over a database/sql handle.
type Store struct {
	db      *sql.DB
	d       Dialect
	tx      *sql.Tx
	ensured map[string]bool
	now     func() time.Time
}

var (
	_ storage.Backend      = (*Store)(nil)
	_ storage.ValueLimiter = (*Store)(nil)
)

// New wraps db and creates the control tables.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, d: d, ensured: map[string]bool{}, now: time.Now}
	for _, stmt := range d.Bootstrap() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "%s: bootstrap", d.Name())
		}
	}
	return s, nil
}

// MaxValueLen implements storage.ValueLimiter.
func (s *Store) MaxValueLen() int { return s.d.MaxValueLen() }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) q() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) errf(err error, format string, args ...any) error {
	return errors.Wrapf(err, s.d.Name()+": "+format, args...)
}

// EnsureTable implements storage.Store.
func (s *Store) EnsureTable(ctx context.Context, d column.Descriptor) error {
	table := d.Table()
	if s.ensured[table] {
		return nil
	}
	if _, err := s.q().ExecContext(ctx, s.d.CreateTable(table)); err != nil && !s.d.IsUniqueViolation(err) {
		return s.errf(err, "create table %s", table)
	}
	stmt := s.d.Upsert(ColumnsTable, columnsCols)
	if _, err := s.q().ExecContext(ctx, stmt, d.Index, d.Name, table); err != nil {
		return s.errf(err, "register table %s", table)
	}
	s.ensured[table] = true
	return nil
}

// InsertIfAbsent implements storage.Store.
func (s *Store) InsertIfAbsent(ctx context.Context, d column.Descriptor, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	if err := storage.CheckValueLen(values, s.d.MaxValueLen()); err != nil {
		return 0, s.errf(err, "insert into %s", d.Table())
	}
	if err := s.EnsureTable(ctx, d); err != nil {
		return 0, err
	}
	table := d.Table()
	var inserted int64
	max := s.d.MaxBatch()
	args := make([]any, 0, min(max, len(values)))
	for start := 0; start < len(values); start += max {
		chunk := values[start:min(start+max, len(values))]
		args = args[:0]
		for _, v := range chunk {
			args = append(args, v)
		}
		res, err := s.q().ExecContext(ctx, s.d.InsertIgnore(table, len(chunk)), args...)
		if err != nil {
			return inserted, s.errf(err, "insert into %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, s.errf(err, "rows affected %s", table)
		}
		inserted += n
	}
	return inserted, nil
}

// Progress implements storage.Store.
func (s *Store) Progress(ctx context.Context, file string) (storage.Progress, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = %s",
		s.d.Quote("last_row"), s.d.Quote("is_finished"), s.d.Quote("updated_at"),
		s.d.Quote(ProgressTable), s.d.Quote("file_name"), s.d.Placeholder(1))
	p := storage.Progress{File: file}
	var updated int64
	err := s.q().QueryRowContext(ctx, query, file).Scan(&p.LastRow, &p.Finished, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, s.errf(err, "read progress %s", file)
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return p, nil
}

// SetProgress implements storage.Store.
func (s *Store) SetProgress(ctx context.Context, p storage.Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	stmt := s.d.Upsert(ProgressTable, progressCols)
	if _, err := s.q().ExecContext(ctx, stmt, p.File, p.LastRow, p.Finished, p.UpdatedAt.UnixMilli()); err != nil {
		return s.errf(err, "write progress %s", p.File)
	}
	return nil
}

// Begin implements storage.Store.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return storage.ErrTxOpen
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.errf(err, "begin")
	}
	s.tx = tx
	return nil
}

// Commit implements storage.Store.
func (s *Store) Commit(context.Context) error {
	if s.tx == nil {
		return storage.ErrNoTx
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return s.errf(err, "commit")
	}
	return nil
}

// Rollback implements storage.Store.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	// Tables created inside the transaction may be gone.
	s.ensured = map[string]bool{}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return s.errf(err, "rollback")
	}
	return nil
}

// Meta implements storage.Store.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.d.Quote("meta_value"), s.d.Quote(MetaTable), s.d.Quote("meta_key"), s.d.Placeholder(1))
	var v string
	err := s.q().QueryRowContext(ctx, query, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.errf(err, "read meta %s", key)
	}
	return v, true, nil
}

// SetMeta implements storage.Store.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if _, err := s.q().ExecContext(ctx, s.d.Upsert(MetaTable, metaCols), key, value); err != nil {
		return s.errf(err, "write meta %s", key)
	}
	return nil
}

// Tables implements storage.Reader.
func (s *Store) Tables(ctx context.Context) ([]storage.Table, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		quoteAll(s.d, columnsCols), s.d.Quote(ColumnsTable), s.d.Quote("column_index"))
	rows, err := s.q().QueryContext(ctx, query)
	if err != nil {
		return nil, s.errf(err, "list tables")
	}
	var out []storage.Table
	var names []string
	for rows.Next() {
		var t storage.Table
		var table string
		if err := rows.Scan(&t.Index, &t.Name, &table); err != nil {
			rows.Close()
			return nil, s.errf(err, "scan table row")
		}
		out = append(out, t)
		names = append(names, table)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.errf(err, "list tables")
	}
	for i := range out {
		query := "SELECT COUNT(*) FROM " + s.d.Quote(names[i])
		if err := s.q().QueryRowContext(ctx, query).Scan(&out[i].Rows); err != nil {
			return nil, s.errf(err, "count %s", names[i])
		}
	}
	return out, nil
}

// Scan implements storage.Reader.
func (s *Store) Scan(ctx context.Context, d column.Descriptor, fn func(id int64, value string) error) error {
	table := d.Table()
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s",
		s.d.Quote("id"), s.d.Quote("value"), s.d.Quote(table), s.d.Quote("id"))
	rows, err := s.q().QueryContext(ctx, query)
	if err != nil {
		return s.errf(err, "scan %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return s.errf(err, "scan %s", table)
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "iterate "+table)
}

// ListProgress implements storage.Reader.
func (s *Store) ListProgress(ctx context.Context) ([]storage.Progress, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		quoteAll(s.d, progressCols), s.d.Quote(ProgressTable), s.d.Quote("file_name"))
	rows, err := s.q().QueryContext(ctx, query)
	if err != nil {
		return nil, s.errf(err, "list progress")
	}
	defer rows.Close()
	var out []storage.Progress
	for rows.Next() {
		var p storage.Progress
		var updated int64
		if err := rows.Scan(&p.File, &p.LastRow, &p.Finished, &updated); err != nil {
			return nil, s.errf(err, "scan progress")
		}
		p.UpdatedAt = time.UnixMilli(updated)
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate progress")
}

// Close rolls back any open transaction and closes the database.
func (s *Store) Close() error {
	rbErr := s.Rollback()
	if err := s.db.Close(); err != nil {
		return s.errf(err, "close")
	}
	return rbErr
}
