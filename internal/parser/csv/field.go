package csv

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// SkipReason says why a field produced no value.
type SkipReason uint8

const (
	// SkipNone means the field holds a value.
	SkipNone SkipReason = iota
	// SkipAbsent means the record has no field at that index.
	SkipAbsent
	// SkipEmpty means the field is empty (after optional trimming).
	SkipEmpty
	// SkipInvalidText means the field is not valid UTF-8 or contains a NUL
	// byte, so no text column can store it.
	SkipInvalidText
	// SkipTooLong means the field is longer than the store can hold.
	SkipTooLong
)

func (s SkipReason) String() string {
	switch s {
	case SkipNone:
		return "none"
	case SkipAbsent:
		return "absent"
	case SkipEmpty:
		return "empty"
	case SkipInvalidText:
		return "invalid_text"
	case SkipTooLong:
		return "too_long"
	}
	return "unknown"
}

// Field is the result of extracting one column from one record: either a
// value or a reason it was skipped.
type Field struct {
	Value string
	Skip  SkipReason
}

// OK reports whether the field carries a value.
func (f Field) OK() bool { return f.Skip == SkipNone }

// Extract reads column idx of rec. Extraction never fails the record; a
// missing, empty, undecodable or over-long field comes back as a skip.
// maxLen is in bytes; 0 or less means no limit.
func Extract(rec []string, idx int, trim bool, maxLen int) Field {
	if idx < 0 || idx >= len(rec) {
		return Field{Skip: SkipAbsent}
	}
	v := rec[idx]
	if trim && hasEdgeSpace(v) {
		v = strings.TrimSpace(v)
	}
	if v == "" {
		return Field{Skip: SkipEmpty}
	}
	if !utf8.ValidString(v) || strings.IndexByte(v, 0) >= 0 {
		return Field{Skip: SkipInvalidText}
	}
	if maxLen > 0 && len(v) > maxLen {
		return Field{Skip: SkipTooLong}
	}
	return Field{Value: v}
}

// hasEdgeSpace reports whether s starts or ends with ASCII whitespace. It lets
// callers avoid TrimSpace allocations for the common clean case.
func hasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
