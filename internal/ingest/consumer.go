package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"datadict/internal/logging"
	"datadict/internal/metrics"
	"datadict/internal/relay"
	"datadict/internal/storage"
)

// Consumer is the only writer into the store. It merges batches into the
// dictionary tables and, every commitEvery batches, commits them together
// with the progress they admit.
type Consumer struct {
	job         string
	store       storage.Store
	in          *relay.Queue[Batch]
	commitEvery int
	stats       *counters
	log         *zap.Logger
	now         func() time.Time

	ensured   map[int]struct{}
	pending   map[string]storage.Progress // advanced since the last commit
	committed map[string]int64            // last durable row per file
	inEpoch   int
	epoch     int
}

// Run drains the relay until it is closed and empty, then commits the
// partial epoch. Storage calls ignore cancellation of ctx: the producer
// stops on cancel and closes the relay, and what was already delivered is
// still committed. On error the open transaction is rolled back, leaving
// the ledger at the last committed epoch.
func (c *Consumer) Run(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(c.job, "consume", err, time.Since(start)) }()

	ctx = context.WithoutCancel(ctx)
	if err := c.store.Begin(ctx); err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			if rerr := c.store.Rollback(); rerr != nil {
				c.log.Warn("rollback failed", zap.Error(rerr))
			}
		}
	}()

	for {
		b, ok, err := c.in.Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := c.apply(ctx, b); err != nil {
			return err
		}
	}
	return c.commit(ctx, false)
}

func (c *Consumer) apply(ctx context.Context, b Batch) error {
	c.inEpoch++
	c.stats.batchesWritten.Add(1)

	if !b.Marker() {
		if _, ok := c.ensured[b.Column.Index]; !ok {
			if err := c.store.EnsureTable(ctx, b.Column); err != nil {
				return &StoreError{Op: "ensure table " + b.Column.Table(), File: b.File, Err: err}
			}
			c.ensured[b.Column.Index] = struct{}{}
		}
		n, err := c.store.InsertIfAbsent(ctx, b.Column, b.Values)
		if err != nil {
			return &StoreError{Op: "insert into " + b.Column.Table(), File: b.File, Err: err}
		}
		c.stats.valuesInserted.Add(n)
		c.log.Debug("batch written",
			zap.String(logging.FieldFile, b.File),
			zap.String(logging.FieldTable, b.Column.Table()),
			zap.Int(logging.FieldValues, len(b.Values)),
			zap.Int64(logging.FieldInserted, n),
		)
	}

	if b.Checkpoint {
		c.pending[b.File] = storage.Progress{File: b.File, LastRow: b.Rows, Finished: b.EndOfFile}
	}

	if b.EndOfFile {
		c.log.Info("end of file",
			zap.String(logging.FieldFile, b.File),
			zap.Int64(logging.FieldRow, b.Rows),
		)
		return c.commit(ctx, true)
	}
	if c.inEpoch >= c.commitEvery {
		return c.commit(ctx, true)
	}
	return nil
}

// commit persists pending progress inside the open transaction, commits, and
// opens the next transaction when reopen is set.
func (c *Consumer) commit(ctx context.Context, reopen bool) error {
	now := c.now()
	for file, p := range c.pending {
		p.UpdatedAt = now
		if err := c.store.SetProgress(ctx, p); err != nil {
			return &StoreError{Op: "set progress", File: file, Err: err}
		}
	}
	if err := c.store.Commit(ctx); err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	c.stats.commits.Add(1)
	c.epoch++
	for file, p := range c.pending {
		c.committed[file] = p.LastRow
		delete(c.pending, file)
	}
	c.log.Debug("epoch committed",
		zap.Int(logging.FieldEpoch, c.epoch),
		zap.Int(logging.FieldBatch, c.inEpoch),
	)
	c.inEpoch = 0

	if reopen {
		if err := c.store.Begin(ctx); err != nil {
			return &StoreError{Op: "begin", Err: err}
		}
	}
	return nil
}

// Committed returns the last durable row of file recorded by this consumer.
func (c *Consumer) Committed(file string) (int64, bool) {
	r, ok := c.committed[file]
	return r, ok
}
