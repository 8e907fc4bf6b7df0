package datasource

import (
	"context"

	"github.com/cockroachdb/errors"

	"datadict/internal/parser/csv"
)

// ColumnNames reads the sidecar and returns the raw column names it lists,
// index i naming column i. It returns nil when the input has no sidecar.
func (in *Input) ColumnNames(ctx context.Context, delim string) ([]string, error) {
	if in.Sidecar == nil {
		return nil, nil
	}
	rc, err := in.Sidecar.Open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open sidecar")
	}
	defer rc.Close()
	names, err := csv.FirstRecord(rc, delim)
	if err != nil {
		return nil, errors.Wrap(err, "read sidecar")
	}
	return names, nil
}
