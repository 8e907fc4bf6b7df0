package csv

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// readAll drains rd, copying each record since the reader reuses buffers.
func readAll(t *testing.T, rd *Reader) [][]string {
	t.Helper()
	var out [][]string
	for {
		rec, err := rd.Read()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, append([]string(nil), rec...))
	}
}

func TestReader_SingleRuneDelimiter(t *testing.T) {
	t.Parallel()
	in := "\uFEFFA;X\r\n\nB;\"x;y\"\nC\nla\"zy;Z\n"
	rd := NewReader(strings.NewReader(in), ";")
	got := readAll(t, rd)
	want := [][]string{
		{"A", "X"},
		{"B", "x;y"},
		{"C"},
		{"la\"zy", "Z"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
	if rd.Rows() != 4 {
		t.Fatalf("Rows() = %d, want 4", rd.Rows())
	}
}

func TestReader_MultiCharDelimiter(t *testing.T) {
	t.Parallel()
	in := "A||X||1\r\n\nB||\"q\"\nC"
	rd := NewReader(strings.NewReader(in), "||")
	got := readAll(t, rd)
	want := [][]string{
		{"A", "X", "1"},
		{"B", "\"q\""},
		{"C"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func TestReader_Skip(t *testing.T) {
	t.Parallel()
	rd := NewReader(strings.NewReader("a\nb\nc\n"), ",")
	n, err := rd.Skip(2)
	if err != nil || n != 2 {
		t.Fatalf("Skip(2) = %d, %v", n, err)
	}
	rec, err := rd.Read()
	if err != nil || rec[0] != "c" {
		t.Fatalf("Read after skip = %q, %v", rec, err)
	}
	n, err = rd.Skip(5)
	if err != nil || n != 0 {
		t.Fatalf("Skip past EOF = %d, %v", n, err)
	}
	if rd.Rows() != 3 {
		t.Fatalf("Rows() = %d, want 3", rd.Rows())
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestReader_StreamErrorIsFatal(t *testing.T) {
	t.Parallel()
	boom := errors.New("disk gone")
	for _, delim := range []string{";", "::"} {
		_, err := NewReader(failingReader{boom}, delim).Read()
		if !errors.Is(err, boom) {
			t.Fatalf("delim %q: err = %v, want %v", delim, err, boom)
		}
		var re *RowError
		if errors.As(err, &re) {
			t.Fatalf("delim %q: stream error must not be a RowError", delim)
		}
	}
}

func TestRowError(t *testing.T) {
	t.Parallel()
	inner := errors.New("bad quote")
	err := error(&RowError{Row: 7, Err: inner})
	if err.Error() != "row 7: bad quote" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Fatal("RowError should unwrap")
	}
}

func TestFirstRecord(t *testing.T) {
	t.Parallel()
	got, err := FirstRecord(strings.NewReader("\n\uFEFF Müşteri ; City \nignored;row\n"), ";")
	if err != nil {
		t.Fatalf("FirstRecord: %v", err)
	}
	if diff := cmp.Diff([]string{"Müşteri", "City"}, got); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}

	got, err = FirstRecord(strings.NewReader(""), ";")
	if err != nil || got != nil {
		t.Fatalf("empty input = %q, %v", got, err)
	}
}
