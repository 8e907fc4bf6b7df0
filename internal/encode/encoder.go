// Package encode rewrites the input shards into one model-ready CSV: tracked
// columns become dictionary ids, the date column expands into calendar
// features and plain decimals are normalised to two fraction digits.
package encode

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"datadict/internal/config"
	"datadict/internal/datasource"
	"datadict/internal/export"
	"datadict/internal/logging"
	"datadict/internal/metrics"
	"datadict/internal/parser/csv"
	"datadict/internal/storage"
)

// Output names and the id written for values missing from a dictionary.
const (
	ArchiveName = "EncodedData.zip"
	EntryName   = "EncodedData.csv"
	Unknown     = "-1"
)

// Drop reasons.
const (
	DropBadDate = "unparsable date"
	DropOldDate = "date before min year"
	DropNoDate  = "missing date field"
)

const (
	maxDropWarns  = 5
	checkCtxEvery = 4096
)

// Options configures an encode run. Column indices are 0-based.
type Options struct {
	Job string
	// Columns are replaced by dictionary ids. Empty means every dictionary
	// in the store.
	Columns []int
	// DateColumn is expanded into calendar features; -1 disables it. The
	// zero value selects the first column.
	DateColumn       int
	DateLayout       string
	MinYear          int
	Holidays         []MonthDay
	NormalizeNumbers bool
	Delimiter        string
	Dir              string
	// Rejects, when set, is the path of a file listing every dropped record.
	Rejects string
}

// OptionsFrom converts the 1-based encode settings of cfg.
func OptionsFrom(cfg config.Config) (Options, error) {
	hs, err := ParseMonthDays(cfg.Encode.Holidays)
	if err != nil {
		return Options{}, err
	}
	cols := make([]int, 0, len(cfg.Encode.Columns))
	for _, n := range cfg.Encode.Columns {
		if n < 1 {
			return Options{}, errors.Newf("encode column %d is not 1-based", n)
		}
		cols = append(cols, n-1)
	}
	return Options{
		Job:              cfg.Job,
		Columns:          cols,
		DateColumn:       cfg.Encode.DateColumn - 1,
		DateLayout:       cfg.Encode.DateLayout,
		MinYear:          cfg.Encode.MinYear,
		Holidays:         hs,
		NormalizeNumbers: cfg.Encode.NormalizeNumbers,
		Delimiter:        cfg.Input.Delimiter,
		Dir:              cfg.Encode.Output,
		Rejects:          cfg.Encode.Rejects,
	}, nil
}

// Stats counts what an encode run did.
type Stats struct {
	Rows       int64 // records read
	Written    int64
	Dropped    int64
	RowErrors  int64
	Unknown    int64 // values missing from their dictionary
	Normalized int64
	Drops      map[string]int64 // dropped records by reason
}

// Encoder is single-use and not safe for concurrent use.
type Encoder struct {
	r       storage.Reader
	opts    Options
	log     *zap.Logger
	cal     *Calendar
	dates   DateParser
	dicts   map[int]map[string]string
	stats   Stats
	warns   int
	rejects *rejectLog
}

// New returns an encoder reading dictionaries from r.
func New(r storage.Reader, opts Options, log *zap.Logger) *Encoder {
	if opts.Job == "" {
		opts.Job = "datadict"
	}
	if opts.Delimiter == "" {
		opts.Delimiter = config.DefaultDelimiter
	}
	if opts.DateLayout == "" {
		opts.DateLayout = config.DefaultDateLayout
	}
	return &Encoder{
		r:     r,
		opts:  opts,
		log:   logging.Component(log, "encode"),
		cal:   NewCalendar(opts.Holidays),
		dates: DateParser{Layout: opts.DateLayout},
		stats: Stats{Drops: map[string]int64{}},
	}
}

// Stats returns the counters of the run so far.
func (e *Encoder) Stats() Stats {
	s := e.stats
	s.Drops = make(map[string]int64, len(e.stats.Drops))
	for k, v := range e.stats.Drops {
		s.Drops[k] = v
	}
	return s
}

// Load reads the selected dictionaries into memory, keyed by trimmed value.
// The date column is never dictionary-encoded.
func (e *Encoder) Load(ctx context.Context) error {
	tables, err := e.r.Tables(ctx)
	if err != nil {
		return errors.Wrap(err, "list dictionary tables")
	}
	byIndex := make(map[int]storage.Table, len(tables))
	for _, t := range tables {
		byIndex[t.Index] = t
	}

	want := e.opts.Columns
	if len(want) == 0 {
		for idx := range byIndex {
			want = append(want, idx)
		}
		sort.Ints(want)
	}

	e.dicts = make(map[int]map[string]string, len(want))
	for _, idx := range want {
		if idx == e.opts.DateColumn {
			e.log.Warn("date column has a dictionary; encoding it as a date",
				zap.Int(logging.FieldColumn, idx+1))
			continue
		}
		t, ok := byIndex[idx]
		if !ok {
			return errors.WithHint(
				errors.Newf("column %d has no dictionary", idx+1),
				"run build first, or drop the column from encode.columns")
		}
		dict := make(map[string]string, t.Rows)
		if err := e.r.Scan(ctx, t.Descriptor, func(id int64, v string) error {
			k := strings.TrimSpace(v)
			if _, dup := dict[k]; !dup {
				dict[k] = strconv.FormatInt(id, 10)
			}
			return nil
		}); err != nil {
			return errors.Wrapf(err, "load %s", t.Table())
		}
		e.dicts[idx] = dict
		e.log.Debug("dictionary loaded",
			zap.String(logging.FieldTable, t.Table()),
			zap.Int(logging.FieldCount, len(dict)))
	}
	return nil
}

// Header expands the sidecar column names: the date column becomes the date
// followed by one column per calendar feature. nil names yield nil.
func (e *Encoder) Header(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, 0, len(names)+len(FeatureSuffixes))
	for i, n := range names {
		n = strings.TrimSpace(n)
		out = append(out, n)
		if i == e.opts.DateColumn {
			for _, s := range FeatureSuffixes {
				out = append(out, n+"_"+s)
			}
		}
	}
	return out
}

// Record appends the encoded form of rec to out. A non-empty reason means
// the record is dropped and out must be discarded.
func (e *Encoder) Record(rec, out []string) ([]string, string) {
	var date time.Time
	if e.opts.DateColumn >= 0 {
		if e.opts.DateColumn >= len(rec) {
			return out, DropNoDate
		}
		t, err := e.dates.Parse(rec[e.opts.DateColumn])
		if err != nil {
			return out, DropBadDate
		}
		if t.Year() < e.opts.MinYear {
			return out, DropOldDate
		}
		date = t
	}
	for i, v := range rec {
		if i == e.opts.DateColumn {
			out = e.cal.Features(date).Append(out)
			continue
		}
		if dict, ok := e.dicts[i]; ok {
			id, ok := dict[strings.TrimSpace(v)]
			if !ok {
				e.stats.Unknown++
				id = Unknown
			}
			out = append(out, id)
			continue
		}
		if e.opts.NormalizeNumbers {
			if n, ok := Fixed2(strings.TrimSpace(v)); ok {
				e.stats.Normalized++
				out = append(out, n)
				continue
			}
		}
		out = append(out, v)
	}
	return out, ""
}

// Run encodes every shard in order into ArchiveName under the output
// directory and returns its path. header holds the sidecar column names, or
// nil when there is no header row.
func (e *Encoder) Run(ctx context.Context, shards []datasource.Shard, header []string) (path string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordStep(e.opts.Job, "encode", err, time.Since(start))
		metrics.RecordRows(e.opts.Job, "encoded", e.stats.Written)
		metrics.RecordRows(e.opts.Job, "dropped", e.stats.Dropped)
		metrics.RecordValues(e.opts.Job, "unknown", e.stats.Unknown)
	}()

	if e.dicts == nil {
		if err := e.Load(ctx); err != nil {
			return "", err
		}
	}

	if e.opts.Rejects != "" {
		rl, closeRejects, rerr := openRejects(e.opts.Rejects, e.opts.Delimiter)
		if rerr != nil {
			return "", rerr
		}
		e.rejects = rl
		defer func() {
			if cerr := closeRejects(err); cerr != nil && err == nil {
				err = errors.Wrap(cerr, "write rejects")
			}
		}()
	}

	f, final, commit, err := export.CreateFile(e.opts.Dir, ArchiveName)
	if err != nil {
		return "", err
	}
	zw := zip.NewWriter(f)
	werr := func() error {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     EntryName,
			Method:   zip.Deflate,
			Modified: start,
		})
		if err != nil {
			return errors.Wrap(err, "create archive entry")
		}
		cw := csv.NewWriter(w, e.opts.Delimiter)
		if h := e.Header(header); h != nil {
			if err := cw.Write(h); err != nil {
				return errors.Wrap(err, "write header")
			}
		}
		for _, s := range shards {
			if err := e.shard(ctx, cw, s); err != nil {
				return err
			}
		}
		if err := cw.Flush(); err != nil {
			return errors.Wrap(err, "write records")
		}
		return zw.Close()
	}()
	if err := commit(werr); err != nil {
		return "", err
	}

	e.log.Info("summary",
		zap.String("path", final),
		zap.Int64("rows", e.stats.Rows),
		zap.Int64("written", e.stats.Written),
		zap.Int64("dropped", e.stats.Dropped),
		zap.Int64("row_errors", e.stats.RowErrors),
		zap.Int64("unknown", e.stats.Unknown),
		zap.Int64("normalized", e.stats.Normalized),
		zap.Any("drops", e.stats.Drops),
		zap.Duration(logging.FieldDuration, time.Since(start)),
	)
	return final, nil
}

func (e *Encoder) shard(ctx context.Context, cw *csv.Writer, s datasource.Shard) error {
	rc, err := s.Open(ctx)
	if err != nil {
		return errors.Wrapf(err, "open %s", s.Name())
	}
	defer rc.Close()

	log := e.log.With(zap.String(logging.FieldFile, s.Name()))
	log.Info("encoding shard")

	r := csv.NewReader(rc, e.opts.Delimiter)
	var out []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		var re *csv.RowError
		if errors.As(err, &re) {
			e.stats.RowErrors++
			e.warn(log, "malformed record", re.Row, re.Err.Error())
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "encode %s", s.Name())
		}
		e.stats.Rows++
		if r.Rows()%checkCtxEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		var reason string
		out, reason = e.Record(rec, out[:0])
		if reason != "" {
			e.stats.Dropped++
			e.stats.Drops[reason]++
			e.warn(log, "record dropped", r.Rows(), reason)
			if e.rejects != nil {
				if err := e.rejects.add(reason, s.Name(), r.Rows(), rec); err != nil {
					return errors.Wrap(err, "write rejects")
				}
			}
			continue
		}
		if err := cw.Write(out); err != nil {
			return errors.Wrapf(err, "write record %d of %s", r.Rows(), s.Name())
		}
		e.stats.Written++
	}
	log.Info("shard encoded", zap.Int64(logging.FieldRow, r.Rows()))
	return nil
}

// warn logs the first few problems of a run; the summary carries the rest.
func (e *Encoder) warn(log *zap.Logger, msg string, row int64, reason string) {
	e.warns++
	if e.warns > maxDropWarns {
		return
	}
	log.Warn(msg, zap.Int64(logging.FieldRow, row), zap.String(logging.FieldReason, reason))
	if e.warns == maxDropWarns {
		log.Warn("further record warnings suppressed")
	}
}
