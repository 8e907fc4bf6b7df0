package ingest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"datadict/internal/column"
	"datadict/internal/config"
	"datadict/internal/datasource"
	"datadict/internal/logging"
	"datadict/internal/metrics"
	"datadict/internal/relay"
	"datadict/internal/storage"
)

// Options tunes a pipeline run.
type Options struct {
	Job           string
	Delimiter     string
	TrimSpace     bool
	FlushRows     int
	RelayCapacity int
	CommitEvery   int
}

// OptionsFrom derives run options from a validated configuration.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		Job:           cfg.Job,
		Delimiter:     cfg.Input.Delimiter,
		TrimSpace:     cfg.Input.TrimSpace,
		FlushRows:     cfg.Runtime.FlushRows,
		RelayCapacity: cfg.Runtime.RelayCapacity,
		CommitEvery:   cfg.Runtime.CommitEvery,
	}
}

func (o Options) withDefaults() Options {
	if o.Job == "" {
		o.Job = "datadict"
	}
	if o.Delimiter == "" {
		o.Delimiter = config.DefaultDelimiter
	}
	if o.FlushRows < 1 {
		o.FlushRows = config.DefaultFlushRows
	}
	if o.RelayCapacity < 1 {
		o.RelayCapacity = config.DefaultRelayCapacity
	}
	if o.CommitEvery < 1 {
		o.CommitEvery = config.DefaultCommitEvery
	}
	return o
}

// Pipeline ingests shards into a dictionary store. Construction does no
// work; Run spawns the producer and consumer and joins them.
type Pipeline struct {
	store   storage.Store
	columns column.Set
	opts    Options
	log     *zap.Logger
	now     func() time.Time
	runID   string
	stats   counters
}

// New returns a pipeline writing the dictionaries of columns into store.
func New(store storage.Store, columns column.Set, opts Options, log *zap.Logger) *Pipeline {
	return &Pipeline{
		store:   store,
		columns: columns,
		opts:    opts.withDefaults(),
		log:     logging.Component(log, "ingest"),
		now:     time.Now,
		runID:   uuid.NewString(),
	}
}

// RunID identifies this run in logs and in the store's meta table.
func (p *Pipeline) RunID() string { return p.runID }

// Stats returns a snapshot of the run's counters.
func (p *Pipeline) Stats() Stats { return p.stats.snapshot() }

// Plan reads the ledger and returns the shards still to process with their
// resume rows. Finished shards are left out.
func (p *Pipeline) Plan(ctx context.Context, shards []datasource.Shard) ([]ShardPlan, error) {
	plans := make([]ShardPlan, 0, len(shards))
	for _, s := range shards {
		pr, err := p.store.Progress(ctx, s.Name())
		if err != nil {
			return nil, &StoreError{Op: "read progress", File: s.Name(), Err: err}
		}
		if pr.Finished {
			p.stats.shardsSkipped.Add(1)
			p.log.Info("skipping finished shard",
				zap.String(logging.FieldFile, s.Name()),
				zap.Int64(logging.FieldRow, pr.LastRow),
			)
			continue
		}
		plans = append(plans, ShardPlan{Shard: s, ResumeRow: pr.LastRow})
	}
	return plans, nil
}

// prepare checks the stored column layout, records the run and creates every
// dictionary table ahead of the first transaction.
func (p *Pipeline) prepare(ctx context.Context) error {
	if len(p.columns) == 0 {
		return errors.WithHint(config.ErrNoColumns, "set columns.indices, columns.first or columns.from_sidecar")
	}
	if err := storage.CheckColumns(ctx, p.store, p.columns); err != nil {
		return err
	}
	if err := p.store.SetMeta(ctx, storage.MetaLastRunID, p.runID); err != nil {
		return &StoreError{Op: "set meta", Err: err}
	}
	if err := p.store.SetMeta(ctx, storage.MetaDelimiter, p.opts.Delimiter); err != nil {
		return &StoreError{Op: "set meta", Err: err}
	}
	for _, d := range p.columns {
		if err := p.store.EnsureTable(ctx, d); err != nil {
			return &StoreError{Op: "ensure table " + d.Table(), Err: err}
		}
	}
	return nil
}

// Run ingests shards. It returns once the producer has exhausted the shards
// (or failed, or ctx was cancelled) and the consumer has committed what it
// received. A fatal error carries a hint naming the row the next run will
// resume at.
func (p *Pipeline) Run(ctx context.Context, shards []datasource.Shard) (err error) {
	start := p.now()
	log := p.log.With(zap.String(logging.FieldRunID, p.runID))
	defer func() {
		s := p.stats.snapshot()
		s.log(log)
		s.record(p.opts.Job)
		metrics.RecordStep(p.opts.Job, "ingest", err, p.now().Sub(start))
	}()

	if err := p.prepare(ctx); err != nil {
		return err
	}
	plans, err := p.Plan(ctx, shards)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		log.Info("all shards finished; nothing to do", zap.Int(logging.FieldCount, len(shards)))
		return nil
	}
	log.Info("ingest started",
		zap.Int("shards", len(plans)),
		zap.Int("columns", len(p.columns)),
		zap.Int("flush_rows", p.opts.FlushRows),
		zap.Int("relay_capacity", p.opts.RelayCapacity),
		zap.Int("commit_every", p.opts.CommitEvery),
	)

	q := relay.New[Batch](p.opts.RelayCapacity)
	prod := &Producer{
		job:       p.opts.Job,
		columns:   p.columns,
		delimiter: p.opts.Delimiter,
		trim:      p.opts.TrimSpace,
		maxLen:    storage.MaxValueLen(p.store),
		flushRows: p.opts.FlushRows,
		out:       q,
		stats:     &p.stats,
		log:       logging.Component(log, "producer"),
	}
	cons := &Consumer{
		job:         p.opts.Job,
		store:       p.store,
		in:          q,
		commitEvery: p.opts.CommitEvery,
		stats:       &p.stats,
		log:         logging.Component(log, "consumer"),
		now:         p.now,
		ensured:     make(map[int]struct{}, len(p.columns)),
		pending:     make(map[string]storage.Progress),
		committed:   make(map[string]int64),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return prod.Run(gctx, plans) })
	g.Go(func() error { return cons.Run(gctx) })
	err = g.Wait()

	if err == nil {
		log.Info("ingest finished", zap.Duration(logging.FieldDuration, p.now().Sub(start)))
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Warn("ingest interrupted; delivered batches were committed")
		return err
	}
	if file, ok := failedFile(err); ok {
		row, ok := cons.Committed(file)
		if !ok {
			row = resumeRowOf(plans, file)
		}
		return withResumeHint(err, file, row)
	}
	return err
}

func resumeRowOf(plans []ShardPlan, file string) int64 {
	for _, pl := range plans {
		if pl.Shard.Name() == file {
			return pl.ResumeRow
		}
	}
	return 0
}
