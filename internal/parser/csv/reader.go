// Package csv reads delimiter-separated records from large shards.
//
// Single-character delimiters go through encoding/csv with lazy quotes and a
// variable field count, so quoted fields may contain the delimiter. Longer
// delimiters use a plain line splitter with no quoting rules. Both paths skip
// blank lines and strip a leading UTF-8 BOM from the first record.
package csv

import (
	"bufio"
	"encoding/csv"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

const utf8BOM = "\uFEFF"

// RowError reports a record that could not be parsed. The record still counts
// as consumed, so callers may log it and keep reading.
type RowError struct {
	Row int64
	Err error
}

func (e *RowError) Error() string { return "row " + itoa(e.Row) + ": " + e.Err.Error() }
func (e *RowError) Unwrap() error { return e.Err }

// Reader yields records one at a time. It is not safe for concurrent use.
type Reader struct {
	next  func() ([]string, error)
	rows  int64
	first bool
}

// NewReader returns a Reader over r using delim as the field separator.
// delim must be non-empty.
func NewReader(r io.Reader, delim string) *Reader {
	rd := &Reader{first: true}
	if utf8.RuneCountInString(delim) == 1 {
		cr := csv.NewReader(r)
		cr.Comma, _ = utf8.DecodeRuneInString(delim)
		cr.LazyQuotes = true
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true
		rd.next = cr.Read
		return rd
	}
	br := bufio.NewReaderSize(r, 1<<20)
	rd.next = func() ([]string, error) { return splitLine(br, delim) }
	return rd
}

// Read returns the next record. The returned slice is only valid until the
// next call. At end of input Read returns io.EOF. A *RowError means the
// record was malformed and has been counted; any other error is fatal.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.next()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			r.rows++
			r.first = false
			return nil, &RowError{Row: r.rows, Err: err}
		}
		return nil, errors.Wrapf(err, "read record %d", r.rows+1)
	}
	r.rows++
	if r.first {
		r.first = false
		if len(rec) > 0 {
			rec[0] = strings.TrimPrefix(rec[0], utf8BOM)
		}
	}
	return rec, nil
}

// Rows returns the number of records consumed so far, malformed ones included.
func (r *Reader) Rows() int64 { return r.rows }

// Skip consumes n records without returning them. It stops early at io.EOF
// and returns the number actually skipped. Malformed records count.
func (r *Reader) Skip(n int64) (int64, error) {
	var skipped int64
	for skipped < n {
		_, err := r.Read()
		if err == io.EOF {
			return skipped, nil
		}
		var re *RowError
		if err != nil && !errors.As(err, &re) {
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

func splitLine(br *bufio.Reader, delim string) ([]string, error) {
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}
		if line == "" && err == io.EOF {
			return nil, io.EOF
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return strings.Split(line, delim), nil
	}
}

// FirstRecord returns the first non-blank record of r, with a BOM removed
// and surrounding whitespace trimmed from each field. It returns nil when r
// holds no records.
func FirstRecord(r io.Reader, delim string) ([]string, error) {
	rd := NewReader(r, delim)
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			return nil, nil
		}
		var re *RowError
		if errors.As(err, &re) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out := make([]string, len(rec))
		for i, f := range rec {
			out[i] = strings.TrimSpace(f)
		}
		return out, nil
	}
}
