package ingest

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"datadict/internal/column"
	"datadict/internal/logging"
	"datadict/internal/metrics"
	"datadict/internal/parser/csv"
	"datadict/internal/relay"
)

const (
	// warnLimit is how many distinct recoverable errors a shard logs
	// individually before only counting them.
	warnLimit = 5

	// ctxCheckRows is how often the row loop polls for cancellation.
	ctxCheckRows = 4096
)

// Producer scans shards and emits unique-value batches. It holds no
// persistent state and never touches the store.
type Producer struct {
	job       string
	columns   column.Set
	delimiter string
	trim      bool
	maxLen    int // longest value the store holds; 0 is unlimited
	flushRows int
	out       *relay.Queue[Batch]
	stats     *counters
	log       *zap.Logger
}

// colSet accumulates the distinct values of one column in encounter order.
type colSet struct {
	seen  map[string]struct{}
	order []string
}

func (s *colSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	// Fields share the record's backing buffer; clone so a retained value
	// does not pin the whole line.
	v = strings.Clone(v)
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
}

// take hands the collected values over and resets the set.
func (s *colSet) take() []string {
	out := s.order
	s.order = nil
	clear(s.seen)
	return out
}

// Run scans every plan in order and closes the relay when done, including on
// error, so the consumer always sees end-of-stream.
func (p *Producer) Run(ctx context.Context, plans []ShardPlan) error {
	defer p.out.Close()
	for _, plan := range plans {
		start := time.Now()
		err := p.scan(ctx, plan)
		metrics.RecordStep(p.job, "scan", err, time.Since(start))
		if err != nil {
			return err
		}
		p.stats.shardsDone.Add(1)
	}
	return nil
}

func (p *Producer) scan(ctx context.Context, plan ShardPlan) error {
	name := plan.Shard.Name()
	log := p.log.With(zap.String(logging.FieldFile, name))

	rc, err := plan.Shard.Open(ctx)
	if err != nil {
		return &ShardError{File: name, Row: plan.ResumeRow, Err: err}
	}
	defer rc.Close()

	rd := csv.NewReader(rc, p.delimiter)
	if plan.ResumeRow > 0 {
		n, err := rd.Skip(plan.ResumeRow)
		p.stats.rowsResumed.Add(n)
		if err != nil {
			return &ShardError{File: name, Row: n, Err: err}
		}
		if n < plan.ResumeRow {
			log.Warn("shard is shorter than its checkpoint; was it replaced?",
				zap.Int64(logging.FieldRow, plan.ResumeRow),
				zap.Int64("available", n),
			)
		}
	}
	log.Info("scanning shard", zap.Int64("resume_row", rd.Rows()))

	sets := make([]colSet, len(p.columns))
	for i := range sets {
		sets[i].seen = make(map[string]struct{})
	}
	agg := newErrAgg(log, warnLimit)
	window := 0

	for {
		if window%ctxCheckRows == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var re *csv.RowError
			if !errors.As(err, &re) {
				return &ShardError{File: name, Row: rd.Rows(), Err: err}
			}
			p.stats.rowErrors.Add(1)
			agg.add(re.Err.Error(), zap.Int64(logging.FieldRow, re.Row))
		} else {
			p.stats.rowsScanned.Add(1)
			p.extract(rec, sets, agg, rd.Rows())
		}

		window++
		if window >= p.flushRows {
			if err := p.flush(ctx, name, rd.Rows(), sets, false); err != nil {
				return err
			}
			window = 0
		}
	}
	if err := p.flush(ctx, name, rd.Rows(), sets, true); err != nil {
		return err
	}

	agg.flush("recoverable errors")
	log.Info("shard scanned", zap.Int64(logging.FieldRow, rd.Rows()))
	return nil
}

// extract offers each tracked field of rec to its column set. A bad field is
// counted and skipped; it never fails the row.
func (p *Producer) extract(rec []string, sets []colSet, agg *errAgg, row int64) {
	for i, d := range p.columns {
		f := csv.Extract(rec, d.Index, p.trim, p.maxLen)
		if f.OK() {
			sets[i].add(f.Value)
			continue
		}
		if f.Skip == csv.SkipInvalidText || f.Skip == csv.SkipTooLong {
			p.stats.fieldSkips.Add(1)
			agg.add("field skipped: "+d.Table()+": "+f.Skip.String(),
				zap.Int64(logging.FieldRow, row),
				zap.String(logging.FieldReason, f.Skip.String()),
			)
		}
	}
}

// flush emits one batch per non-empty column set. The last batch of the group
// carries the checkpoint; when no set has values a bare marker does. A final
// flush ends with the end-of-file marker.
func (p *Producer) flush(ctx context.Context, file string, rows int64, sets []colSet, final bool) error {
	var group []Batch
	for i := range sets {
		vals := sets[i].take()
		if len(vals) == 0 {
			continue
		}
		group = append(group, Batch{Column: p.columns[i], Values: vals, File: file, Rows: rows})
	}
	if final {
		group = append(group, Batch{File: file, Rows: rows, EndOfFile: true})
	} else if len(group) == 0 {
		group = append(group, Batch{File: file, Rows: rows})
	}
	group[len(group)-1].Checkpoint = true

	for _, b := range group {
		if err := p.out.Send(ctx, b); err != nil {
			return errors.Wrapf(err, "send batch for %s", file)
		}
		p.stats.batchesSent.Add(1)
		p.stats.valuesOffered.Add(int64(len(b.Values)))
	}
	return nil
}
