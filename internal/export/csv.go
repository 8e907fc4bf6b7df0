package export

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"datadict/internal/logging"
	"datadict/internal/metrics"
	"datadict/internal/parser/csv"
)

// EntryName is the archive entry of the column with the given 1-based number.
func EntryName(ordinal int) string { return "Column_" + strconv.Itoa(ordinal) + ".csv" }

// CSV writes ArchiveName with one EntryName(n) file per dictionary, each
// holding id;value records in id order. It returns the archive path.
func (e *Exporter) CSV(ctx context.Context) (path string, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("export", "csv", err, time.Since(start)) }()

	tables, err := e.tables(ctx)
	if err != nil {
		return "", err
	}
	f, final, commit, err := CreateFile(e.opts.Dir, ArchiveName)
	if err != nil {
		return "", err
	}

	zw := zip.NewWriter(f)
	werr := func() error {
		for _, t := range tables {
			w, err := zw.Create(EntryName(t.Ordinal()))
			if err != nil {
				return errors.Wrapf(err, "create entry for %s", t.Table())
			}
			cw := csv.NewWriter(w, e.opts.Delimiter)
			rec := make([]string, 2)
			if err := e.r.Scan(ctx, t.Descriptor, func(id int64, v string) error {
				rec[0], rec[1] = strconv.FormatInt(id, 10), v
				return cw.Write(rec)
			}); err != nil {
				return errors.Wrapf(err, "export %s", t.Table())
			}
			if err := cw.Flush(); err != nil {
				return errors.Wrapf(err, "write %s", t.Table())
			}
			e.log.Info("column exported",
				zap.String(logging.FieldTable, t.Table()),
				zap.Int64(logging.FieldCount, t.Rows),
			)
		}
		return zw.Close()
	}()
	if err := commit(werr); err != nil {
		return "", err
	}
	return final, nil
}
