// Package postgres implements storage.Backend on pgx v5.
//
// Dictionary inserts send the whole batch as one text[] parameter and let
// ON CONFLICT DO NOTHING drop values that already exist, so a batch costs a
// single round trip and never aborts the surrounding transaction.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"datadict/internal/column"
	"datadict/internal/storage"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a Postgres-backed storage.Backend.
type Store struct {
	pool    *pgxpool.Pool
	tx      pgx.Tx
	ensured map[string]bool
	now     func() time.Time
}

var (
	_ storage.Backend      = (*Store)(nil)
	_ storage.ValueLimiter = (*Store)(nil)
)

// maxValueLen keeps a value under the btree limit of a third of a page
// (2704 bytes with 8 KiB pages) even when it does not compress.
const maxValueLen = 2048

// MaxValueLen implements storage.ValueLimiter.
func (s *Store) MaxValueLen() int { return maxValueLen }

var bootstrap = []string{
	`CREATE TABLE IF NOT EXISTS dd_columns (
		column_index INTEGER PRIMARY KEY,
		column_name  TEXT NOT NULL,
		table_name   TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS dd_file_progress (
		file_name   TEXT PRIMARY KEY,
		last_row    BIGINT NOT NULL,
		is_finished BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at  BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dd_meta (
		meta_key   TEXT PRIMARY KEY,
		meta_value TEXT NOT NULL
	)`,
}

// newPool is a test hook that points to pgxpool.New by default.
var newPool = pgxpool.New

// Open connects to dsn and creates the control tables.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pgxpool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres ping")
	}
	for _, stmt := range bootstrap {
		if _, err := pool.Exec(ctx, stmt); err != nil && !IsUniqueViolation(err) {
			pool.Close()
			return nil, errors.Wrap(err, "postgres bootstrap")
		}
	}
	return &Store{pool: pool, ensured: map[string]bool{}, now: time.Now}, nil
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Backend, error) {
		return Open(ctx, cfg.DSN)
	})
}

// IsUniqueViolation reports whether err is SQLSTATE 23505. Concurrent
// CREATE TABLE IF NOT EXISTS can raise it on the catalog.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.pool
}

// EnsureTable implements storage.Store.
func (s *Store) EnsureTable(ctx context.Context, d column.Descriptor) error {
	table := d.Table()
	if s.ensured[table] {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id    BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		value TEXT NOT NULL UNIQUE
	)`, ident(table))
	if _, err := s.q().Exec(ctx, ddl); err != nil && !IsUniqueViolation(err) {
		return errors.Wrapf(err, "postgres: create table %s", table)
	}
	const reg = `INSERT INTO dd_columns (column_index, column_name, table_name) VALUES ($1, $2, $3)
		ON CONFLICT (column_index) DO UPDATE SET column_name = EXCLUDED.column_name, table_name = EXCLUDED.table_name`
	if _, err := s.q().Exec(ctx, reg, d.Index, d.Name, table); err != nil {
		return errors.Wrapf(err, "postgres: register table %s", table)
	}
	s.ensured[table] = true
	return nil
}

// InsertIfAbsent implements storage.Store.
func (s *Store) InsertIfAbsent(ctx context.Context, d column.Descriptor, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	if err := storage.CheckValueLen(values, maxValueLen); err != nil {
		return 0, errors.Wrapf(err, "postgres: insert into %s", d.Table())
	}
	if err := s.EnsureTable(ctx, d); err != nil {
		return 0, err
	}
	// ORDER BY ordinality keeps id assignment in batch order.
	stmt := fmt.Sprintf(`INSERT INTO %s (value)
		SELECT v FROM unnest($1::text[]) WITH ORDINALITY AS u(v, n) ORDER BY n
		ON CONFLICT (value) DO NOTHING`, ident(d.Table()))
	tag, err := s.q().Exec(ctx, stmt, values)
	if err != nil {
		return 0, errors.Wrapf(err, "postgres: insert into %s", d.Table())
	}
	return tag.RowsAffected(), nil
}

// Progress implements storage.Store.
func (s *Store) Progress(ctx context.Context, file string) (storage.Progress, error) {
	p := storage.Progress{File: file}
	var updated int64
	err := s.q().QueryRow(ctx,
		`SELECT last_row, is_finished, updated_at FROM dd_file_progress WHERE file_name = $1`, file).
		Scan(&p.LastRow, &p.Finished, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, errors.Wrapf(err, "postgres: read progress %s", file)
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return p, nil
}

// SetProgress implements storage.Store.
func (s *Store) SetProgress(ctx context.Context, p storage.Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	const stmt = `INSERT INTO dd_file_progress (file_name, last_row, is_finished, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (file_name) DO UPDATE SET last_row = EXCLUDED.last_row,
			is_finished = EXCLUDED.is_finished, updated_at = EXCLUDED.updated_at`
	if _, err := s.q().Exec(ctx, stmt, p.File, p.LastRow, p.Finished, p.UpdatedAt.UnixMilli()); err != nil {
		return errors.Wrapf(err, "postgres: write progress %s", p.File)
	}
	return nil
}

// Begin implements storage.Store.
func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return storage.ErrTxOpen
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "postgres: begin")
	}
	s.tx = tx
	return nil
}

// Commit implements storage.Store.
func (s *Store) Commit(ctx context.Context) error {
	if s.tx == nil {
		return storage.ErrNoTx
	}
	tx := s.tx
	s.tx = nil
	return errors.Wrap(tx.Commit(ctx), "postgres: commit")
}

// Rollback implements storage.Store.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	s.ensured = map[string]bool{}
	err := tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return errors.Wrap(err, "postgres: rollback")
}

// Meta implements storage.Store.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.q().QueryRow(ctx, `SELECT meta_value FROM dd_meta WHERE meta_key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "postgres: read meta %s", key)
	}
	return v, true, nil
}

// SetMeta implements storage.Store.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	const stmt = `INSERT INTO dd_meta (meta_key, meta_value) VALUES ($1, $2)
		ON CONFLICT (meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`
	_, err := s.q().Exec(ctx, stmt, key, value)
	return errors.Wrapf(err, "postgres: write meta %s", key)
}

// Tables implements storage.Reader.
func (s *Store) Tables(ctx context.Context) ([]storage.Table, error) {
	rows, err := s.q().Query(ctx, `SELECT column_index, column_name, table_name FROM dd_columns ORDER BY column_index`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list tables")
	}
	type entry struct {
		t     storage.Table
		table string
	}
	entries, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (entry, error) {
		var e entry
		err := r.Scan(&e.t.Index, &e.t.Name, &e.table)
		return e, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list tables")
	}
	out := make([]storage.Table, len(entries))
	for i, e := range entries {
		out[i] = e.t
		if err := s.q().QueryRow(ctx, "SELECT COUNT(*) FROM "+ident(e.table)).Scan(&out[i].Rows); err != nil {
			return nil, errors.Wrapf(err, "postgres: count %s", e.table)
		}
	}
	return out, nil
}

// Scan implements storage.Reader.
func (s *Store) Scan(ctx context.Context, d column.Descriptor, fn func(id int64, value string) error) error {
	rows, err := s.q().Query(ctx, fmt.Sprintf("SELECT id, value FROM %s ORDER BY id", ident(d.Table())))
	if err != nil {
		return errors.Wrapf(err, "postgres: scan %s", d.Table())
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return errors.Wrapf(err, "postgres: scan %s", d.Table())
		}
		if err := fn(id, v); err != nil {
			return err
		}
	}
	return errors.Wrapf(rows.Err(), "postgres: scan %s", d.Table())
}

// ListProgress implements storage.Reader.
func (s *Store) ListProgress(ctx context.Context) ([]storage.Progress, error) {
	rows, err := s.q().Query(ctx,
		`SELECT file_name, last_row, is_finished, updated_at FROM dd_file_progress ORDER BY file_name`)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list progress")
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (storage.Progress, error) {
		var p storage.Progress
		var updated int64
		err := r.Scan(&p.File, &p.LastRow, &p.Finished, &updated)
		p.UpdatedAt = time.UnixMilli(updated)
		return p, err
	})
	return out, errors.Wrap(err, "postgres: list progress")
}

// Close rolls back any open transaction and closes the pool.
func (s *Store) Close() error {
	err := s.Rollback()
	s.pool.Close()
	return err
}
