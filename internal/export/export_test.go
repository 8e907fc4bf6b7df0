package export

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zip"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"datadict/internal/column"
	"datadict/internal/storage"
	_ "datadict/internal/storage/sqlite"
)

func fixture(t *testing.T) storage.Backend {
	t.Helper()
	ctx := context.Background()
	b, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "d.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	for d, vals := range map[column.Descriptor][]string{
		column.New(0, "name"): {"Ayşe", "a;b"},
		column.New(2, ""):     {"X"},
	} {
		if err := b.EnsureTable(ctx, d); err != nil {
			t.Fatalf("EnsureTable: %v", err)
		}
		if _, err := b.InsertIfAbsent(ctx, d, vals); err != nil {
			t.Fatalf("InsertIfAbsent: %v", err)
		}
	}
	return b
}

func TestCSVArchive(t *testing.T) {
	dir := t.TempDir()
	e := New(fixture(t), Options{Dir: dir, Delimiter: ";"}, zaptest.NewLogger(t))

	path, err := e.CSV(context.Background())
	if err != nil {
		t.Fatalf("CSV() error = %v", err)
	}
	if path != filepath.Join(dir, ArchiveName) {
		t.Fatalf("path = %q", path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()

	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		got[f.Name] = string(b)
	}
	want := map[string]string{
		"Column_1.csv": "1;Ayşe\n2;\"a;b\"\n",
		"Column_3.csv": "1;X\n",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("archive mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkbook(t *testing.T) {
	dir := t.TempDir()
	e := New(fixture(t), Options{
		Dir:     dir,
		Ignored: []column.Descriptor{column.New(1, "secret")},
	}, zaptest.NewLogger(t))

	path, err := e.Workbook(context.Background())
	if err != nil {
		t.Fatalf("Workbook() error = %v", err)
	}

	wb, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()

	if diff := cmp.Diff([]string{"Column_1", "Column_2", "Column_3"}, wb.GetSheetList()); diff != "" {
		t.Fatalf("sheets mismatch (-want +got):\n%s", diff)
	}

	rows, err := wb.GetRows("Column_1")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	want := [][]string{
		{"Column 1 => name"},
		{"Key", "Value"},
		{"Ayşe", "1"},
		{"a;b", "2"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("Column_1 rows mismatch (-want +got):\n%s", diff)
	}

	ignored, err := wb.GetRows("Column_2")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if diff := cmp.Diff([][]string{{"Column 2 => secret"}, {IgnoredNotice}}, ignored); diff != "" {
		t.Fatalf("Column_2 rows mismatch (-want +got):\n%s", diff)
	}

	merged, err := wb.GetMergeCells("Column_1")
	if err != nil {
		t.Fatalf("GetMergeCells: %v", err)
	}
	if len(merged) != 1 || merged[0].GetStartAxis() != "A1" || merged[0].GetEndAxis() != "B1" {
		t.Fatalf("merged cells = %v, want A1:B1", merged)
	}
}

func TestWorkbookEmptyStore(t *testing.T) {
	b, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "e.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer b.Close()

	if _, err := New(b, Options{Dir: t.TempDir()}, zaptest.NewLogger(t)).Workbook(context.Background()); err == nil {
		t.Fatalf("Workbook() on empty store = nil error, want error")
	}
}

func TestSheetName(t *testing.T) {
	if got := SheetName(12); got != "Column_12" {
		t.Fatalf("SheetName(12) = %q", got)
	}
}
