package csv

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"
)

// Writer writes delimiter-separated records, mirroring Reader: a single
// character delimiter gets CSV quoting, a longer one is joined verbatim.
type Writer struct {
	cw    *csv.Writer
	bw    *bufio.Writer
	delim string
}

// NewWriter returns a Writer over w. delim must be non-empty.
func NewWriter(w io.Writer, delim string) *Writer {
	if utf8.RuneCountInString(delim) == 1 {
		cw := csv.NewWriter(w)
		cw.Comma, _ = utf8.DecodeRuneInString(delim)
		return &Writer{cw: cw}
	}
	return &Writer{bw: bufio.NewWriterSize(w, 64<<10), delim: delim}
}

// Write writes one record. Output is buffered until Flush.
func (w *Writer) Write(rec []string) error {
	if w.cw != nil {
		return w.cw.Write(rec)
	}
	if _, err := w.bw.WriteString(strings.Join(rec, w.delim)); err != nil {
		return err
	}
	return w.bw.WriteByte('\n')
}

// Flush writes buffered records and reports any earlier write error.
func (w *Writer) Flush() error {
	if w.cw != nil {
		w.cw.Flush()
		return w.cw.Error()
	}
	return w.bw.Flush()
}
