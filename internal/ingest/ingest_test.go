package ingest

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"datadict/internal/column"
	"datadict/internal/datasource"
	"datadict/internal/storage"
	_ "datadict/internal/storage/bolt"
	_ "datadict/internal/storage/sqlite"
	"datadict/internal/storage/storagetest"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

// memShard is an in-memory shard. open overrides the reader when set.
type memShard struct {
	name string
	data string
	open func(ctx context.Context) (io.ReadCloser, error)
}

func (m memShard) Name() string { return m.name }

func (m memShard) Open(ctx context.Context) (io.ReadCloser, error) {
	if m.open != nil {
		return m.open(ctx)
	}
	return io.NopCloser(strings.NewReader(m.data)), nil
}

// errReader fails every read with err.
type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func failingShard(name, data string) memShard {
	return memShard{name: name, open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(io.MultiReader(strings.NewReader(data), errReader{errors.New("device gone")})), nil
	}}
}

func openStore(t *testing.T) storage.Backend {
	t.Helper()
	b, err := storage.New(context.Background(), storage.Config{
		Kind: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "dict.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func twoColumns() column.Set {
	return column.NewSet(column.New(0, "name"), column.New(1, "city"))
}

func newPipeline(t *testing.T, s storage.Store, cols column.Set, opts Options) *Pipeline {
	t.Helper()
	p := New(s, cols, opts, zaptest.NewLogger(t))
	p.now = func() time.Time { return fixedNow }
	return p
}

func dictionaries(t *testing.T, r storage.Reader, cols column.Set) []map[string]int64 {
	t.Helper()
	out := make([]map[string]int64, len(cols))
	for i, d := range cols {
		out[i] = storagetest.Dictionary(t, r, d)
	}
	return out
}

func valueSets(dicts []map[string]int64) []map[string]bool {
	out := make([]map[string]bool, len(dicts))
	for i, d := range dicts {
		out[i] = map[string]bool{}
		for v := range d {
			out[i][v] = true
		}
	}
	return out
}

func TestRunBuildsDictionaries(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cols := twoColumns()

	p := newPipeline(t, s, cols, Options{Delimiter: ";", FlushRows: 10, CommitEvery: 4})
	shard := memShard{name: "part-0001.csv", data: "A;X\nB;X\nA;Y\n"}
	if err := p.Run(ctx, []datasource.Shard{shard}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := dictionaries(t, s, cols)
	want := []map[string]int64{{"A": 1, "B": 2}, {"X": 1, "Y": 2}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dictionaries mismatch (-want +got):\n%s", diff)
	}

	pr, err := s.Progress(ctx, "part-0001.csv")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if pr.LastRow != 3 || !pr.Finished {
		t.Fatalf("progress = %+v, want LastRow=3 Finished=true", pr)
	}

	st := p.Stats()
	if st.RowsScanned != 3 || st.ShardsDone != 1 || st.ValuesInserted != 4 {
		t.Fatalf("stats = %+v", st)
	}
	if id, ok, _ := s.Meta(ctx, storage.MetaLastRunID); !ok || id != p.RunID() {
		t.Fatalf("meta %s = %q, want %q", storage.MetaLastRunID, id, p.RunID())
	}
}

func TestRunIsIdempotentAcrossShards(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cols := twoColumns()

	p := newPipeline(t, s, cols, Options{Delimiter: ";", FlushRows: 1, CommitEvery: 2})
	shards := []datasource.Shard{
		memShard{name: "a.csv", data: "A;X\nB;Y\n"},
		memShard{name: "b.csv", data: "B;Y\nA;X\nC;X\n"},
	}
	if err := p.Run(ctx, shards); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Ignored inserts may leave id gaps; only set membership and relative
	// order are asserted.
	got := dictionaries(t, s, cols)
	want := []map[string]bool{{"A": true, "B": true, "C": true}, {"X": true, "Y": true}}
	if diff := cmp.Diff(want, valueSets(got)); diff != "" {
		t.Fatalf("dictionaries mismatch (-want +got):\n%s", diff)
	}
	if !(got[0]["A"] < got[0]["B"] && got[0]["B"] < got[0]["C"]) {
		t.Fatalf("ids not in encounter order: %v", got[0])
	}
	if st := p.Stats(); st.ValuesInserted != 5 || st.ValuesOffered <= st.ValuesInserted {
		t.Fatalf("stats = %+v, want 5 inserted out of more offered", st)
	}
}

func TestResumeAfterCrash(t *testing.T) {
	ctx := context.Background()
	cols := twoColumns()
	const full = "A;X\nB;X\nA;Y\nC;Z\n"
	opts := Options{Delimiter: ";", FlushRows: 2, CommitEvery: 1}

	// Reference: one uninterrupted run.
	ref := openStore(t)
	if err := newPipeline(t, ref, cols, opts).Run(ctx, []datasource.Shard{memShard{name: "s.csv", data: full}}); err != nil {
		t.Fatalf("reference Run() error = %v", err)
	}

	// The first run dies after the first flush of two rows.
	s := openStore(t)
	err := newPipeline(t, s, cols, opts).Run(ctx, []datasource.Shard{failingShard("s.csv", "A;X\nB;X\n")})
	var se *ShardError
	if !errors.As(err, &se) {
		t.Fatalf("Run() error = %v, want *ShardError", err)
	}
	if hint := errors.FlattenHints(err); !strings.Contains(hint, "resume will start at row 2 of s.csv") {
		t.Fatalf("hint = %q", hint)
	}
	pr, err := s.Progress(ctx, "s.csv")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if pr.LastRow != 2 || pr.Finished {
		t.Fatalf("progress after crash = %+v, want LastRow=2 unfinished", pr)
	}

	p := newPipeline(t, s, cols, opts)
	if err := p.Run(ctx, []datasource.Shard{memShard{name: "s.csv", data: full}}); err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if st := p.Stats(); st.RowsResumed != 2 || st.RowsScanned != 2 {
		t.Fatalf("resumed stats = %+v, want 2 resumed and 2 scanned", st)
	}

	want := valueSets(dictionaries(t, ref, cols))
	got := valueSets(dictionaries(t, s, cols))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resumed dictionary differs from uninterrupted run (-want +got):\n%s", diff)
	}
	if pr, _ := s.Progress(ctx, "s.csv"); pr.LastRow != 4 || !pr.Finished {
		t.Fatalf("final progress = %+v, want LastRow=4 finished", pr)
	}
}

func TestFinishedShardIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cols := twoColumns()
	opts := Options{Delimiter: ";"}

	if err := newPipeline(t, s, cols, opts).Run(ctx, []datasource.Shard{memShard{name: "done.csv", data: "A;X\n"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	before, err := s.Progress(ctx, "done.csv")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}

	untouchable := memShard{name: "done.csv", open: func(context.Context) (io.ReadCloser, error) {
		t.Errorf("finished shard was opened again")
		return nil, errors.New("unexpected open")
	}}
	p := newPipeline(t, s, cols, opts)
	p.now = func() time.Time { return fixedNow.Add(time.Hour) }
	if err := p.Run(ctx, []datasource.Shard{untouchable}); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if st := p.Stats(); st.ShardsSkipped != 1 || st.RowsScanned != 0 {
		t.Fatalf("stats = %+v, want one skipped shard", st)
	}

	after, err := s.Progress(ctx, "done.csv")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("progress changed (-before +after):\n%s", diff)
	}
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, pr := range []storage.Progress{
		{File: "a.csv", LastRow: 10, Finished: true},
		{File: "b.csv", LastRow: 7},
	} {
		if err := s.SetProgress(ctx, pr); err != nil {
			t.Fatalf("SetProgress: %v", err)
		}
	}

	p := newPipeline(t, s, twoColumns(), Options{})
	plans, err := p.Plan(ctx, []datasource.Shard{
		memShard{name: "a.csv"}, memShard{name: "b.csv"}, memShard{name: "c.csv"},
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	got := map[string]int64{}
	for _, pl := range plans {
		got[pl.Shard.Name()] = pl.ResumeRow
	}
	if diff := cmp.Diff(map[string]int64{"b.csv": 7, "c.csv": 0}, got); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalidTextIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cols := twoColumns()

	p := newPipeline(t, s, cols, Options{Delimiter: ";", TrimSpace: true})
	data := "A;X\n\xff;Y\n  B ;\nC\n"
	if err := p.Run(ctx, []datasource.Shard{memShard{name: "x.csv", data: data}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := valueSets(dictionaries(t, s, cols))
	want := []map[string]bool{{"A": true, "B": true, "C": true}, {"X": true, "Y": true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dictionaries mismatch (-want +got):\n%s", diff)
	}
	if st := p.Stats(); st.FieldSkips != 1 || st.RowsScanned != 4 {
		t.Fatalf("stats = %+v, want 1 field skip and 4 rows", st)
	}
}

func TestOverLongValueIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, err := storage.New(ctx, storage.Config{Kind: "bolt", DSN: filepath.Join(t.TempDir(), "dict.bolt")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	cols := twoColumns()

	long := strings.Repeat("x", storage.MaxValueLen(s)+1)
	data := "A;X\n" + long + ";Y\nB;Z\n"
	p := newPipeline(t, s, cols, Options{Delimiter: ";", FlushRows: 1})
	if err := p.Run(ctx, []datasource.Shard{memShard{name: "s.csv", data: data}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := valueSets(dictionaries(t, s, cols))
	want := []map[string]bool{{"A": true, "B": true}, {"X": true, "Y": true, "Z": true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dictionaries mismatch (-want +got):\n%s", diff)
	}
	pr, err := s.Progress(ctx, "s.csv")
	if err != nil || pr.LastRow != 3 || !pr.Finished {
		t.Fatalf("progress = %+v, %v; want LastRow=3 Finished=true", pr, err)
	}
	if st := p.Stats(); st.FieldSkips != 1 {
		t.Fatalf("FieldSkips = %d, want 1", st.FieldSkips)
	}
}

func TestColumnsChangedIsRefused(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	shard := memShard{name: "s.csv", data: "A;X\n"}

	if err := newPipeline(t, s, twoColumns(), Options{}).Run(ctx, []datasource.Shard{shard}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	other := column.NewSet(column.New(0, "name"))
	err := newPipeline(t, s, other, Options{}).Run(ctx, []datasource.Shard{shard})
	if !errors.Is(err, storage.ErrColumnsChanged) {
		t.Fatalf("Run() error = %v, want ErrColumnsChanged", err)
	}
}

func TestCancelCommitsDeliveredWork(t *testing.T) {
	s := openStore(t)
	cols := twoColumns()
	opts := Options{Delimiter: ";", FlushRows: 1, CommitEvery: 100}
	const full = "A;X\nB;Y\nC;Z\n"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupting := memShard{name: "s.csv", open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(&cancelAfter{data: full, cut: 4, cancel: cancel}), nil
	}}

	err := newPipeline(t, s, cols, opts).Run(ctx, []datasource.Shard{interrupting})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	pr, err := s.Progress(context.Background(), "s.csv")
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if pr.Finished {
		t.Fatalf("progress = %+v, want unfinished after cancel", pr)
	}

	if err := newPipeline(t, s, cols, opts).Run(context.Background(), []datasource.Shard{memShard{name: "s.csv", data: full}}); err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	got := valueSets(dictionaries(t, s, cols))
	want := []map[string]bool{{"A": true, "B": true, "C": true}, {"X": true, "Y": true, "Z": true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("dictionaries mismatch (-want +got):\n%s", diff)
	}
}

// cancelAfter serves data in two reads, calling cancel once the first cut
// bytes have been handed out.
type cancelAfter struct {
	data   string
	cut    int
	off    int
	cancel context.CancelFunc
}

func (c *cancelAfter) Read(p []byte) (int, error) {
	if c.off >= len(c.data) {
		return 0, io.EOF
	}
	end := len(c.data)
	if c.off < c.cut {
		end = c.cut
	}
	n := copy(p, c.data[c.off:end])
	c.off += n
	if c.off >= c.cut {
		c.cancel()
	}
	return n, nil
}
