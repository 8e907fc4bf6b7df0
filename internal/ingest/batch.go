// Package ingest runs the resumable dictionary pipeline: a scanning producer
// reads shards and emits per-column unique-value batches, a bounded relay
// carries them, and a single persistence consumer merges them into the
// dictionary store and commits progress together with the values it admits.
//
// Concurrency model:
//
//	Producer (one goroutine, shards in order)
//	     → relay.Queue[Batch] (capacity K, blocks when full)
//	     → Consumer (one goroutine, sole owner of the store)
//
// Peak memory stays around O(flush_rows window + K batches).
package ingest

import (
	"datadict/internal/column"
	"datadict/internal/datasource"
)

// Batch is one unit of work handed from the producer to the consumer.
//
// Values is deduplicated within the batch and owned by the consumer once
// sent. A batch with Checkpoint set admits Rows as the file's committed
// position: every value from rows before Rows has been sent in this or an
// earlier batch. EndOfFile batches carry no values.
type Batch struct {
	Column     column.Descriptor
	Values     []string
	File       string
	Rows       int64
	Checkpoint bool
	EndOfFile  bool
}

// Marker reports whether b is a control batch without values.
func (b Batch) Marker() bool { return len(b.Values) == 0 }

// ShardPlan is a shard together with the row the producer resumes at.
type ShardPlan struct {
	Shard     datasource.Shard
	ResumeRow int64
}
