// Package file implements a local filesystem-backed data source.
package file

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Local is a filesystem data source that opens one file from the local disk.
type Local struct {
	path string
	name string
}

// NewLocal returns a Local bound to path. name is the stable key under which
// progress for the file is recorded; when empty the base name of path is used.
func NewLocal(path, name string) *Local {
	if name == "" {
		name = filepath.Base(path)
	}
	return &Local{path: path, name: name}
}

// Name returns the progress key of the file.
func (l *Local) Name() string { return l.name }

// Path returns the filesystem path.
func (l *Local) Path() string { return l.path }

// Open opens the file for a sequential pass.
//
// If ctx is already done, Open returns the context error without touching
// the filesystem. Filesystem errors are wrapped with the path and still
// satisfy errors.Is(err, os.ErrNotExist) and friends.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", l.path)
	}
	adviseSequential(f)
	return f, nil
}
