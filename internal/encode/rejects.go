package encode

import (
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"datadict/internal/export"
	"datadict/internal/parser/csv"
)

// rejectLog writes dropped records with their reason, one per line:
// reason, file, row, and the raw record re-joined with the delimiter.
type rejectLog struct {
	w     *csv.Writer
	delim string
	row   []string
}

func newRejectLog(w io.Writer, delim string) (*rejectLog, error) {
	l := &rejectLog{w: csv.NewWriter(w, delim), delim: delim, row: make([]string, 4)}
	if err := l.w.Write([]string{"reason", "file", "row", "record"}); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *rejectLog) add(reason, file string, row int64, rec []string) error {
	l.row[0], l.row[1], l.row[2], l.row[3] = reason, file, strconv.FormatInt(row, 10), strings.Join(rec, l.delim)
	return l.w.Write(l.row)
}

// openRejects creates the reject log at path. The file appears only when
// close succeeds.
func openRejects(path, delim string) (*rejectLog, func(werr error) error, error) {
	f, _, commit, err := export.CreateFile(filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return nil, nil, err
	}
	l, err := newRejectLog(f, delim)
	if err != nil {
		return nil, nil, commit(err)
	}
	return l, func(werr error) error {
		if werr == nil {
			werr = l.w.Flush()
		}
		return commit(werr)
	}, nil
}
