// Package column describes the tracked columns of an ingestion run and the
// deterministic names of the dictionary tables that back them.
package column

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// maxIdentLen is the shortest identifier limit among the SQL backends
// (PostgreSQL truncates at 63 bytes).
const maxIdentLen = 63

// Descriptor identifies one tracked column. Index is 0-based. Name is the
// sanitized, ASCII-only identifier; it may be empty.
type Descriptor struct {
	Index int
	Name  string
}

// New builds a Descriptor from a raw (human-readable) column name.
func New(index int, rawName string) Descriptor {
	return Descriptor{Index: index, Name: Sanitize(rawName)}
}

// Ordinal is the 1-based column number used on the external surface.
func (d Descriptor) Ordinal() int { return d.Index + 1 }

// Table returns the dictionary table name for the column:
//
//	column_<ordinal>             when Name is empty
//	column_<ordinal>_<name>      otherwise
//
// The result never exceeds 63 bytes.
func (d Descriptor) Table() string {
	prefix := "column_" + strconv.Itoa(d.Ordinal())
	if d.Name == "" {
		return prefix
	}
	return prefix + "_" + truncate(d.Name, maxIdentLen-len(prefix)-1)
}

// Label is the human-facing title, e.g. "Column 3 => city".
func (d Descriptor) Label() string {
	if d.Name == "" {
		return fmt.Sprintf("Column %d", d.Ordinal())
	}
	return fmt.Sprintf("Column %d => %s", d.Ordinal(), d.Name)
}

func (d Descriptor) String() string { return d.Table() }

// truncate keeps the head and tail of s when it exceeds n bytes. s is ASCII.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	head := n / 4
	return strings.TrimRight(s[:head], "_") + "_" + strings.TrimLeft(s[len(s)-(n-head-1):], "_")
}

// Set is an immutable, index-ordered set of descriptors.
type Set []Descriptor

// NewSet sorts ds by index and drops duplicate indices (first wins).
func NewSet(ds ...Descriptor) Set {
	out := make(Set, 0, len(ds))
	seen := make(map[int]struct{}, len(ds))
	for _, d := range ds {
		if _, ok := seen[d.Index]; ok {
			continue
		}
		seen[d.Index] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Lookup returns the descriptor for index.
func (s Set) Lookup(index int) (Descriptor, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Index >= index })
	if i < len(s) && s[i].Index == index {
		return s[i], true
	}
	return Descriptor{}, false
}

// Indices returns the 0-based indices in ascending order.
func (s Set) Indices() []int {
	out := make([]int, len(s))
	for i, d := range s {
		out[i] = d.Index
	}
	return out
}

// Fingerprint returns a stable textual form of the set, suitable for hashing.
func (s Set) Fingerprint() string {
	var b strings.Builder
	for i, d := range s {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(strconv.Itoa(d.Index))
		b.WriteByte(':')
		b.WriteString(d.Table())
	}
	return b.String()
}
