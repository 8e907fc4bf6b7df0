package ingest

import (
	"sync/atomic"

	"go.uber.org/zap"

	"datadict/internal/metrics"
)

// counters holds cross-goroutine statistics for one run. The producer and
// the consumer update disjoint fields.
type counters struct {
	rowsScanned   atomic.Int64 // records read after the resume offset
	rowsResumed   atomic.Int64 // records skipped to reach the resume offset
	rowErrors     atomic.Int64 // malformed records
	fieldSkips    atomic.Int64 // fields with undecodable or over-long text
	batchesSent   atomic.Int64
	valuesOffered atomic.Int64
	shardsDone    atomic.Int64
	shardsSkipped atomic.Int64

	batchesWritten atomic.Int64
	valuesInserted atomic.Int64
	commits        atomic.Int64
}

// Stats is a snapshot of a run's counters.
type Stats struct {
	RowsScanned    int64
	RowsResumed    int64
	RowErrors      int64
	FieldSkips     int64
	BatchesSent    int64
	BatchesWritten int64
	ValuesOffered  int64
	ValuesInserted int64
	Commits        int64
	ShardsDone     int64
	ShardsSkipped  int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RowsScanned:    c.rowsScanned.Load(),
		RowsResumed:    c.rowsResumed.Load(),
		RowErrors:      c.rowErrors.Load(),
		FieldSkips:     c.fieldSkips.Load(),
		BatchesSent:    c.batchesSent.Load(),
		BatchesWritten: c.batchesWritten.Load(),
		ValuesOffered:  c.valuesOffered.Load(),
		ValuesInserted: c.valuesInserted.Load(),
		Commits:        c.commits.Load(),
		ShardsDone:     c.shardsDone.Load(),
		ShardsSkipped:  c.shardsSkipped.Load(),
	}
}

// log prints the end-of-run summary.
func (s Stats) log(log *zap.Logger) {
	log.Info("summary",
		zap.Int64("rows_scanned", s.RowsScanned),
		zap.Int64("rows_resumed", s.RowsResumed),
		zap.Int64("row_errors", s.RowErrors),
		zap.Int64("field_skips", s.FieldSkips),
		zap.Int64("batches_sent", s.BatchesSent),
		zap.Int64("batches_written", s.BatchesWritten),
		zap.Int64("values_offered", s.ValuesOffered),
		zap.Int64("values_inserted", s.ValuesInserted),
		zap.Int64("commits", s.Commits),
		zap.Int64("shards_done", s.ShardsDone),
		zap.Int64("shards_skipped", s.ShardsSkipped),
	)
}

// record forwards the summary to the metrics backend.
func (s Stats) record(job string) {
	metrics.RecordRows(job, "scanned", s.RowsScanned)
	metrics.RecordRows(job, "resumed", s.RowsResumed)
	metrics.RecordRows(job, "row_errors", s.RowErrors)
	metrics.RecordRows(job, "field_skips", s.FieldSkips)
	metrics.RecordValues(job, "offered", s.ValuesOffered)
	metrics.RecordValues(job, "inserted", s.ValuesInserted)
	metrics.RecordBatches(job, s.BatchesWritten)
	metrics.RecordCommits(job, s.Commits)
}
