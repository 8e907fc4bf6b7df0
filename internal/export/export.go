// Package export renders the dictionaries of a store for people and for
// downstream tools: a zip of per-column CSV files and an Excel workbook.
package export

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"datadict/internal/column"
	"datadict/internal/logging"
	"datadict/internal/storage"
)

// Output file names.
const (
	ArchiveName  = "DataDictionaries.zip"
	WorkbookName = "DataDictionary.xlsx"
)

// Options configures an export.
type Options struct {
	// Dir receives the output files. It is created if missing.
	Dir string
	// Delimiter separates id and value in the CSV files.
	Delimiter string
	// Ignored columns get a notice sheet in the workbook.
	Ignored []column.Descriptor
}

// Exporter reads dictionaries from a store and writes them out.
type Exporter struct {
	r    storage.Reader
	opts Options
	log  *zap.Logger
}

// New returns an Exporter reading from r.
func New(r storage.Reader, opts Options, log *zap.Logger) *Exporter {
	if opts.Delimiter == "" {
		opts.Delimiter = ";"
	}
	return &Exporter{r: r, opts: opts, log: logging.Component(log, "export")}
}

func (e *Exporter) tables(ctx context.Context) ([]storage.Table, error) {
	ts, err := e.r.Tables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list dictionary tables")
	}
	return ts, nil
}

// CreateFile opens name for writing inside dir, creating dir if missing. The
// file is written under a temporary name; commit renames it into place, or
// removes it when werr or the close fails.
func CreateFile(dir, name string) (f *os.File, final string, commit func(werr error) error, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", nil, errors.Wrapf(err, "create output dir %s", dir)
	}
	f, err = os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return nil, "", nil, errors.Wrapf(err, "create %s", name)
	}
	final = filepath.Join(dir, name)
	commit = func(werr error) error {
		cerr := f.Close()
		if werr == nil {
			werr = cerr
		}
		if werr != nil {
			_ = os.Remove(f.Name())
			return werr
		}
		return errors.Wrapf(os.Rename(f.Name(), final), "rename to %s", final)
	}
	return f, final, commit, nil
}

// sheetEntry is one workbook sheet: a dictionary table or an ignored column.
type sheetEntry struct {
	column.Descriptor
	table   bool
	ignored bool
}

// sheets merges tables and ignored columns in column order.
func (e *Exporter) sheets(tables []storage.Table) []sheetEntry {
	out := make([]sheetEntry, 0, len(tables)+len(e.opts.Ignored))
	seen := make(map[int]bool, len(tables))
	for _, t := range tables {
		out = append(out, sheetEntry{Descriptor: t.Descriptor, table: true})
		seen[t.Index] = true
	}
	for _, d := range e.opts.Ignored {
		if !seen[d.Index] {
			out = append(out, sheetEntry{Descriptor: d, ignored: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
