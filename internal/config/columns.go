package config

import (
	"github.com/cockroachdb/errors"

	"datadict/internal/column"
)

// ErrNoColumns is returned when the column selection leaves nothing to track.
var ErrNoColumns = errors.New("no active columns")

// ResolveColumns returns the active column set for cfg. sidecarNames holds
// the raw names read from the sidecar file (index i names column i); it may
// be nil. Ignored columns are removed after selection.
func ResolveColumns(cfg Config, sidecarNames []string) (column.Set, error) {
	var indices []int
	switch {
	case len(cfg.Columns.Indices) > 0:
		for _, n := range cfg.Columns.Indices {
			if n < 1 {
				return nil, errors.Newf("column number %d is not 1-based", n)
			}
			indices = append(indices, n-1)
		}
	case cfg.Columns.First > 0:
		for i := 0; i < cfg.Columns.First; i++ {
			indices = append(indices, i)
		}
	case cfg.Columns.FromSidecar:
		if len(sidecarNames) == 0 {
			return nil, errors.WithHint(
				errors.New("columns.from_sidecar is set but no sidecar names were found"),
				"add a "+cfg.Input.Sidecar+" file next to the data or list columns explicitly")
		}
		for i := range sidecarNames {
			indices = append(indices, i)
		}
	default:
		return nil, errors.WithHint(ErrNoColumns, "set columns.indices, columns.first or columns.from_sidecar")
	}

	ignored := make(map[int]bool, len(cfg.Columns.Ignored))
	for _, n := range cfg.Columns.Ignored {
		ignored[n-1] = true
	}

	var ds []column.Descriptor
	for _, idx := range indices {
		if ignored[idx] {
			continue
		}
		name := ""
		if idx < len(sidecarNames) {
			name = sidecarNames[idx]
		}
		ds = append(ds, column.New(idx, name))
	}
	set := column.NewSet(ds...)
	if len(set) == 0 {
		return nil, errors.WithHint(ErrNoColumns, "every selected column is in columns.ignored")
	}
	return set, nil
}

// IgnoredOrdinals returns the 1-based ignored column numbers as a set.
func (c Config) IgnoredOrdinals() map[int]bool {
	out := make(map[int]bool, len(c.Columns.Ignored))
	for _, n := range c.Columns.Ignored {
		out[n] = true
	}
	return out
}
