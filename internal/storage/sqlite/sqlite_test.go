package sqlite

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"

	"datadict/internal/column"
	"datadict/internal/storage"
	"datadict/internal/storage/sqlstore"
	"datadict/internal/storage/storagetest"
)

/*
Package-level test helpers (TB-aware)
*/

func tempDSN(tb testing.TB) string {
	tb.Helper()
	return filepath.Join(tb.TempDir(), "dict.db")
}

func newStore(tb testing.TB, dsn string) *sqlstore.Store {
	tb.Helper()
	ctx := context.Background()
	db, err := Open(ctx, dsn)
	if err != nil {
		tb.Fatalf("open sqlite %s: %v", dsn, err)
	}
	s, err := sqlstore.New(ctx, db, Dialect{})
	if err != nil {
		tb.Fatalf("sqlstore.New: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}

/*
Unit tests
*/

func TestConformance(t *testing.T) {
	t.Parallel()
	storagetest.Run(t, func(t *testing.T) storage.Backend { return newStore(t, tempDSN(t)) })
}

func TestInsertIfAbsent_ChunksLargeBatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, tempDSN(t))
	col := column.New(2, "")

	values := make([]string, 1234)
	for i := range values {
		values[i] = "v" + strconv.Itoa(i)
	}
	n, err := s.InsertIfAbsent(ctx, col, values)
	if err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if n != int64(len(values)) {
		t.Fatalf("inserted %d, want %d", n, len(values))
	}
	if got := len(storagetest.Dictionary(t, s, col)); got != len(values) {
		t.Fatalf("stored %d values, want %d", got, len(values))
	}
}

// narrowDialect caps values the way the server dialects do.
type narrowDialect struct{ Dialect }

func (narrowDialect) MaxValueLen() int { return 8 }

func TestInsertIfAbsent_RefusesOverLongValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := Open(ctx, tempDSN(t))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, err := sqlstore.New(ctx, db, narrowDialect{})
	if err != nil {
		t.Fatalf("sqlstore.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if storage.MaxValueLen(s) != 8 {
		t.Fatalf("MaxValueLen = %d, want 8", storage.MaxValueLen(s))
	}

	col := column.New(0, "code")
	// Both share the first 8 bytes; a truncating insert would merge them.
	n, err := s.InsertIfAbsent(ctx, col, []string{"abcdefgh-1", "abcdefgh-2"})
	if !errors.Is(err, storage.ErrValueTooLong) || n != 0 {
		t.Fatalf("InsertIfAbsent = %d, %v; want ErrValueTooLong", n, err)
	}
	if n, err := s.InsertIfAbsent(ctx, col, []string{"abcdefgh"}); err != nil || n != 1 {
		t.Fatalf("InsertIfAbsent at limit = %d, %v", n, err)
	}
	if got := storagetest.Dictionary(t, s, col); len(got) != 1 || got["abcdefgh"] == 0 {
		t.Fatalf("dictionary = %v", got)
	}
}

/*
TestTransaction_Isolation verifies that dictionary rows and the ledger record
written inside a transaction are invisible to another connection until Commit,
and that both appear together afterwards.
*/
func TestTransaction_Isolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dsn := tempDSN(t)
	writer := newStore(t, dsn)
	col := column.New(0, "")
	if err := writer.EnsureTable(ctx, col); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	reader := newStore(t, dsn)

	if err := writer.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := writer.Begin(ctx); !errors.Is(err, storage.ErrTxOpen) {
		t.Fatalf("nested Begin = %v, want ErrTxOpen", err)
	}
	if _, err := writer.InsertIfAbsent(ctx, col, []string{"A"}); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if err := writer.SetProgress(ctx, storage.Progress{File: "f.csv", LastRow: 1}); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}

	// The writer sees its own uncommitted writes.
	if p, _ := writer.Progress(ctx, "f.csv"); p.LastRow != 1 {
		t.Fatalf("writer progress = %+v", p)
	}
	if got := storagetest.Dictionary(t, reader, col); len(got) != 0 {
		t.Fatalf("reader saw uncommitted values: %v", got)
	}
	if p, _ := reader.Progress(ctx, "f.csv"); p.LastRow != 0 {
		t.Fatalf("reader saw uncommitted progress: %+v", p)
	}

	if err := writer.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := storagetest.Dictionary(t, reader, col); got["A"] != 1 {
		t.Fatalf("reader after commit = %v", got)
	}
	if p, _ := reader.Progress(ctx, "f.csv"); p.LastRow != 1 {
		t.Fatalf("reader progress after commit = %+v", p)
	}
	if err := writer.Commit(ctx); !errors.Is(err, storage.ErrNoTx) {
		t.Fatalf("Commit without tx = %v, want ErrNoTx", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t, tempDSN(t))
	col := column.New(0, "")
	if err := s.EnsureTable(ctx, col); err != nil {
		t.Fatal(err)
	}
	stmt := "INSERT INTO " + Dialect{}.Quote(col.Table()) + " (value) VALUES (?)"
	if _, err := s.DB().ExecContext(ctx, stmt, "dup"); err != nil {
		t.Fatal(err)
	}
	_, err := s.DB().ExecContext(ctx, stmt, "dup")
	if !(Dialect{}).IsUniqueViolation(err) {
		t.Fatalf("IsUniqueViolation(%v) = false", err)
	}
	if (Dialect{}).IsUniqueViolation(errors.New("other")) {
		t.Fatal("plain error classified as unique violation")
	}
}

func TestRegisteredInFactory(t *testing.T) {
	t.Parallel()
	kinds := storage.Kinds()
	if i := sort.SearchStrings(kinds, "sqlite"); i >= len(kinds) || kinds[i] != "sqlite" {
		t.Fatalf("sqlite not registered: %v", kinds)
	}
	b, err := storage.New(context.Background(), storage.Config{Kind: "SQLite", DSN: tempDSN(t)})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := storage.New(context.Background(), storage.Config{Kind: "nosuch"}); !errors.Is(err, storage.ErrUnknownKind) {
		t.Fatalf("unknown kind err = %v", err)
	}
}

func TestDialectSQL(t *testing.T) {
	t.Parallel()
	d := Dialect{}
	if got, want := d.InsertIgnore("column_1", 2), `INSERT OR IGNORE INTO "column_1" (value) VALUES (?),(?)`; got != want {
		t.Fatalf("InsertIgnore = %q, want %q", got, want)
	}
	want := `INSERT INTO "dd_meta" ("meta_key", "meta_value") VALUES (?, ?) ON CONFLICT ("meta_key") DO UPDATE SET "meta_value" = excluded."meta_value"`
	if got := d.Upsert("dd_meta", []string{"meta_key", "meta_value"}); got != want {
		t.Fatalf("Upsert =\n%s\nwant\n%s", got, want)
	}
}
