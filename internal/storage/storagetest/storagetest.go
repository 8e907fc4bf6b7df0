// Package storagetest holds a conformance suite that every storage backend
// runs from its own tests.
package storagetest

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"

	"datadict/internal/column"
	"datadict/internal/storage"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) storage.Backend

// Run exercises the storage.Store and storage.Reader contracts.
func Run(t *testing.T, open Opener) {
	t.Helper()
	t.Run("insert_idempotent", func(t *testing.T) { testInsertIdempotent(t, open) })
	t.Run("progress_upsert", func(t *testing.T) { testProgress(t, open) })
	t.Run("tx_commit", func(t *testing.T) { testCommit(t, open) })
	t.Run("tx_rollback", func(t *testing.T) { testRollback(t, open) })
	t.Run("meta", func(t *testing.T) { testMeta(t, open) })
	t.Run("tables_and_scan", func(t *testing.T) { testTablesAndScan(t, open) })
	t.Run("value_limit", func(t *testing.T) { testValueLimit(t, open) })
}

func openClosed(t *testing.T, open Opener) storage.Backend {
	t.Helper()
	b := open(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// Dictionary collects value -> id for d.
func Dictionary(tb testing.TB, r storage.Reader, d column.Descriptor) map[string]int64 {
	tb.Helper()
	out := map[string]int64{}
	if err := r.Scan(context.Background(), d, func(id int64, v string) error {
		out[v] = id
		return nil
	}); err != nil {
		tb.Fatalf("Scan %s: %v", d.Table(), err)
	}
	return out
}

func testInsertIdempotent(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)
	col := column.New(0, "city")

	n, err := b.InsertIfAbsent(ctx, col, []string{"A", "B"})
	if err != nil || n != 2 {
		t.Fatalf("first insert = %d, %v", n, err)
	}
	n, err = b.InsertIfAbsent(ctx, col, []string{"B", "A", "C"})
	if err != nil || n != 1 {
		t.Fatalf("overlapping insert = %d, %v", n, err)
	}
	if n, err = b.InsertIfAbsent(ctx, col, nil); err != nil || n != 0 {
		t.Fatalf("empty insert = %d, %v", n, err)
	}
	got := Dictionary(t, b, col)
	if len(got) != 3 {
		t.Fatalf("dictionary = %v, want 3 entries", got)
	}
	ids := map[int64]bool{}
	for _, id := range got {
		ids[id] = true
	}
	if len(ids) != 3 {
		t.Fatalf("ids are not unique: %v", got)
	}
	if got["A"] >= got["C"] || got["B"] >= got["C"] {
		t.Fatalf("later value got an earlier id: %v", got)
	}
}

func testProgress(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)

	p, err := b.Progress(ctx, "a.csv")
	if err != nil || p.LastRow != 0 || p.Finished {
		t.Fatalf("unknown progress = %+v, %v", p, err)
	}
	for _, rec := range []storage.Progress{
		{File: "b.csv", LastRow: 10},
		{File: "a.csv", LastRow: 5},
		{File: "a.csv", LastRow: 7, Finished: true},
	} {
		if err := b.SetProgress(ctx, rec); err != nil {
			t.Fatalf("SetProgress(%+v): %v", rec, err)
		}
	}
	p, err = b.Progress(ctx, "a.csv")
	if err != nil || p.LastRow != 7 || !p.Finished {
		t.Fatalf("progress a.csv = %+v, %v", p, err)
	}
	all, err := b.ListProgress(ctx)
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	var files []string
	for _, p := range all {
		files = append(files, p.File)
	}
	if diff := cmp.Diff([]string{"a.csv", "b.csv"}, files); diff != "" {
		t.Fatalf("ListProgress order (-want +got):\n%s", diff)
	}
}

func testCommit(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)
	col := column.New(1, "")
	if err := b.EnsureTable(ctx, col); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := b.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := b.Begin(ctx); !errors.Is(err, storage.ErrTxOpen) {
		t.Fatalf("nested Begin = %v, want ErrTxOpen", err)
	}
	if _, err := b.InsertIfAbsent(ctx, col, []string{"X"}); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if err := b.SetProgress(ctx, storage.Progress{File: "f.csv", LastRow: 3}); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if p, err := b.Progress(ctx, "f.csv"); err != nil || p.LastRow != 3 {
		t.Fatalf("progress inside tx = %+v, %v", p, err)
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := b.Commit(ctx); !errors.Is(err, storage.ErrNoTx) {
		t.Fatalf("Commit without tx = %v, want ErrNoTx", err)
	}
	if got := Dictionary(t, b, col); got["X"] == 0 {
		t.Fatalf("committed value missing: %v", got)
	}
}

func testRollback(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)
	col := column.New(2, "name")
	if err := b.EnsureTable(ctx, col); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if err := b.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := b.InsertIfAbsent(ctx, col, []string{"gone"}); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}
	if err := b.SetProgress(ctx, storage.Progress{File: "f.csv", LastRow: 9}); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if err := b.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := b.Rollback(); err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
	if p, _ := b.Progress(ctx, "f.csv"); p.LastRow != 0 {
		t.Fatalf("progress survived rollback: %+v", p)
	}
	if n, err := b.InsertIfAbsent(ctx, col, []string{"kept"}); err != nil || n != 1 {
		t.Fatalf("insert after rollback = %d, %v", n, err)
	}
	got := Dictionary(t, b, col)
	if _, ok := got["gone"]; ok || len(got) != 1 {
		t.Fatalf("dictionary after rollback = %v", got)
	}
}

func testMeta(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)
	if _, ok, err := b.Meta(ctx, storage.MetaLastRunID); ok || err != nil {
		t.Fatalf("Meta(missing) = %v, %v", ok, err)
	}
	if err := b.SetMeta(ctx, storage.MetaLastRunID, "r1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := b.SetMeta(ctx, storage.MetaLastRunID, "r2"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if v, ok, err := b.Meta(ctx, storage.MetaLastRunID); !ok || err != nil || v != "r2" {
		t.Fatalf("Meta = %q, %v, %v", v, ok, err)
	}

	set := column.NewSet(column.New(0, "a"), column.New(1, "b"))
	if err := storage.CheckColumns(ctx, b, set); err != nil {
		t.Fatalf("CheckColumns fresh: %v", err)
	}
	if err := storage.CheckColumns(ctx, b, set); err != nil {
		t.Fatalf("CheckColumns same: %v", err)
	}
	if err := storage.CheckColumns(ctx, b, set[:1]); !errors.Is(err, storage.ErrColumnsChanged) {
		t.Fatalf("CheckColumns changed = %v, want ErrColumnsChanged", err)
	}
}

func testTablesAndScan(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)
	set := column.NewSet(column.New(4, "Ürün"), column.New(0, "Müşteri"))
	for _, d := range set {
		if err := b.EnsureTable(ctx, d); err != nil {
			t.Fatalf("EnsureTable: %v", err)
		}
		if err := b.EnsureTable(ctx, d); err != nil {
			t.Fatalf("EnsureTable (again): %v", err)
		}
	}
	if _, err := b.InsertIfAbsent(ctx, set[1], []string{"x", "y"}); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}

	tables, err := b.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	type row struct {
		Table string
		Rows  int64
	}
	var got []row
	for _, tb := range tables {
		got = append(got, row{tb.Table(), tb.Rows})
	}
	want := []row{{"column_1_musteri", 0}, {"column_5_urun", 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Tables (-want +got):\n%s", diff)
	}

	stop := errors.New("stop")
	calls := 0
	err = b.Scan(ctx, set[1], func(int64, string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("Scan stop = %v after %d calls", err, calls)
	}
}

// testValueLimit checks that a value over MaxValueLen fails the whole batch
// instead of being cut to a prefix shared with another value.
func testValueLimit(t *testing.T, open Opener) {
	ctx := context.Background()
	b := openClosed(t, open)
	limit := storage.MaxValueLen(b)
	if limit <= 0 {
		t.Skip("backend has no value length limit")
	}
	col := column.New(0, "city")
	if err := b.EnsureTable(ctx, col); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}

	prefix := strings.Repeat("a", limit)
	n, err := b.InsertIfAbsent(ctx, col, []string{"short", prefix + "1", prefix + "2"})
	if !errors.Is(err, storage.ErrValueTooLong) || n != 0 {
		t.Fatalf("over-long insert = %d, %v; want ErrValueTooLong", n, err)
	}
	if got := Dictionary(t, b, col); len(got) != 0 {
		t.Fatalf("rejected batch left values behind: %d entries", len(got))
	}

	if n, err := b.InsertIfAbsent(ctx, col, []string{prefix}); err != nil || n != 1 {
		t.Fatalf("insert at the limit = %d, %v", n, err)
	}
	got := Dictionary(t, b, col)
	if _, ok := got[prefix]; !ok || len(got) != 1 {
		t.Fatalf("value at the limit was not stored intact (%d entries)", len(got))
	}
}

// SuiteTables lists every table the suite may create, control tables last.
// Integration tests against shared servers drop them between cases.
var SuiteTables = []string{
	"column_1_city", "column_2", "column_3_name", "column_1_musteri", "column_5_urun",
	"dd_columns", "dd_file_progress", "dd_meta",
}
