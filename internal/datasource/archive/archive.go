// Package archive exposes the entries of a zip archive as data sources.
package archive

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zip"
)

// Archive is an open zip file. Entries stay readable until Close.
type Archive struct {
	path string
	zr   *zip.ReadCloser
}

// Open opens the zip archive at p.
func Open(p string) (*Archive, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, errors.Wrapf(err, "open archive %s", p)
	}
	return &Archive{path: p, zr: zr}, nil
}

// Close releases the archive file.
func (a *Archive) Close() error { return a.zr.Close() }

// Entries returns the regular-file entries sorted by name.
func (a *Archive) Entries() []*Entry {
	out := make([]*Entry, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		out = append(out, &Entry{archive: a.path, f: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Entry is one file inside an archive.
type Entry struct {
	archive string
	f       *zip.File
}

// Name is the entry path inside the archive. It is the progress key.
func (e *Entry) Name() string { return e.f.Name }

// Base is the last element of Name, used for suffix and sidecar matching.
func (e *Entry) Base() string { return path.Base(e.f.Name) }

// HasSuffix reports whether the entry name ends in suffix, ignoring case.
func (e *Entry) HasSuffix(suffix string) bool {
	return strings.HasSuffix(strings.ToLower(e.f.Name), strings.ToLower(suffix))
}

// Open returns a decompressing reader over the entry.
func (e *Entry) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	rc, err := e.f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s in %s", e.f.Name, e.archive)
	}
	return rc, nil
}
