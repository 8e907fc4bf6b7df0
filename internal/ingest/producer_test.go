package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"datadict/internal/column"
	"datadict/internal/relay"
)

// produce runs a producer over plans with an unbounded-enough relay and
// returns every batch it emitted.
func produce(t *testing.T, cols column.Set, flushRows int, plans []ShardPlan) ([]Batch, *counters) {
	t.Helper()
	q := relay.New[Batch](1 << 12)
	var stats counters
	p := &Producer{
		job:       "test",
		columns:   cols,
		delimiter: ";",
		flushRows: flushRows,
		out:       q,
		stats:     &stats,
		log:       zaptest.NewLogger(t),
	}
	if err := p.Run(context.Background(), plans); err != nil {
		t.Fatalf("Producer.Run() error = %v", err)
	}

	var out []Batch
	for {
		b, ok, err := q.Recv(context.Background())
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if !ok {
			return out, &stats
		}
		out = append(out, b)
	}
}

func TestProducerBatchesWithinWindow(t *testing.T) {
	const rows, flush = 25, 4
	var b strings.Builder
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "v%d;k%d\n", i, i%3)
	}
	cols := column.NewSet(column.New(0, ""), column.New(1, ""))
	batches, stats := produce(t, cols, flush, []ShardPlan{{Shard: memShard{name: "m.csv", data: b.String()}}})

	seen := map[int]map[string]bool{0: {}, 1: {}}
	var lastRows int64
	for i, bt := range batches {
		if len(bt.Values) > flush {
			t.Fatalf("batch %d holds %d values, more than the %d-row window", i, len(bt.Values), flush)
		}
		if bt.Rows < lastRows {
			t.Fatalf("batch %d rows went backwards: %d < %d", i, bt.Rows, lastRows)
		}
		lastRows = bt.Rows
		for _, v := range bt.Values {
			seen[bt.Column.Index][v] = true
		}
	}
	if len(seen[0]) != rows || len(seen[1]) != 3 {
		t.Fatalf("values seen: col0=%d col1=%d, want %d and 3", len(seen[0]), len(seen[1]), rows)
	}

	last := batches[len(batches)-1]
	if !last.EndOfFile || !last.Checkpoint || !last.Marker() || last.Rows != rows {
		t.Fatalf("last batch = %+v, want end-of-file checkpoint marker at row %d", last, rows)
	}
	if got := stats.rowsScanned.Load(); got != rows {
		t.Fatalf("rowsScanned = %d, want %d", got, rows)
	}
}

func TestProducerCheckpointOnlyOnLastOfGroup(t *testing.T) {
	cols := column.NewSet(column.New(0, ""), column.New(1, ""))
	// Rows 3 and 4 are empty, so the second flush has no values.
	data := "A;X\nB;Y\n;\n;\nC;Z\n"
	batches, _ := produce(t, cols, 2, []ShardPlan{{Shard: memShard{name: "c.csv", data: data}}})

	type shape struct {
		Col        int
		Values     []string
		Rows       int64
		Checkpoint bool
		EOF        bool
	}
	got := make([]shape, len(batches))
	for i, b := range batches {
		got[i] = shape{b.Column.Index, b.Values, b.Rows, b.Checkpoint, b.EndOfFile}
	}
	want := []shape{
		{0, []string{"A", "B"}, 2, false, false},
		{1, []string{"X", "Y"}, 2, true, false},
		{0, nil, 4, true, false},
		{0, []string{"C"}, 5, false, false},
		{1, []string{"Z"}, 5, false, false},
		{0, nil, 5, true, true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestProducerResumeSkipsRows(t *testing.T) {
	cols := column.NewSet(column.New(0, ""))
	batches, stats := produce(t, cols, 100, []ShardPlan{{
		Shard:     memShard{name: "r.csv", data: "A\nB\nC\nD\n"},
		ResumeRow: 3,
	}})

	if got := stats.rowsResumed.Load(); got != 3 {
		t.Fatalf("rowsResumed = %d, want 3", got)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want a value batch and the end-of-file marker", len(batches))
	}
	if diff := cmp.Diff([]string{"D"}, batches[0].Values); diff != "" {
		t.Fatalf("values after resume (-want +got):\n%s", diff)
	}
	if batches[1].Rows != 4 {
		t.Fatalf("end-of-file rows = %d, want 4", batches[1].Rows)
	}
}

func TestProducerResumeBeyondEnd(t *testing.T) {
	cols := column.NewSet(column.New(0, ""))
	batches, _ := produce(t, cols, 100, []ShardPlan{{
		Shard:     memShard{name: "short.csv", data: "A\n"},
		ResumeRow: 5,
	}})
	if len(batches) != 1 || !batches[0].EndOfFile || batches[0].Rows != 1 {
		t.Fatalf("batches = %+v, want a lone end-of-file marker at row 1", batches)
	}
}

// TestProducerBlocksOnFullRelay checks backpressure: with capacity 1 the
// producer stalls until the receiver takes a batch, then moves on.
func TestProducerBlocksOnFullRelay(t *testing.T) {
	q := relay.New[Batch](1)
	var stats counters
	p := &Producer{
		job:       "test",
		columns:   column.NewSet(column.New(0, "")),
		delimiter: ";",
		flushRows: 1,
		out:       q,
		stats:     &stats,
		log:       zaptest.NewLogger(t),
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Run(context.Background(), []ShardPlan{{Shard: memShard{name: "b.csv", data: "A\nB\nC\n"}}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recv := func(want string) {
		t.Helper()
		b, ok, err := q.Recv(ctx)
		if err != nil || !ok {
			t.Fatalf("Recv = %v, %v; want batch %q", ok, err, want)
		}
		if got := strings.Join(b.Values, ","); got != want {
			t.Fatalf("batch values = %q, want %q", got, want)
		}
	}

	recv("A")
	// B fills the relay, so the producer must be stuck sending C.
	select {
	case err := <-done:
		t.Fatalf("producer finished while the relay was full: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if q.Len() != 1 {
		t.Fatalf("relay holds %d batches, want 1", q.Len())
	}
	if sent := stats.batchesSent.Load(); sent != 2 {
		t.Fatalf("batches sent while blocked = %d, want 2", sent)
	}

	recv("B")
	recv("C")
	recv("")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("producer did not finish after the relay drained")
	}
	if _, ok, _ := q.Recv(ctx); ok {
		t.Fatal("relay still open after Run returned")
	}
}
