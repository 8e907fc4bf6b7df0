package datasource

import (
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decompressed wraps a Source and transparently decodes .gz and .zst content
// based on the shard name.
type decompressed struct {
	name string
	src  Source
}

func (d *decompressed) Name() string { return d.name }

func (d *decompressed) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := d.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	return decode(d.name, rc)
}

// withCodec returns a Shard named name that decodes src according to name.
func withCodec(name string, src Source) Shard {
	return &decompressed{name: name, src: src}
}

func decode(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		zr, err := gzip.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, errors.Wrapf(err, "gzip %s", name)
		}
		return &stacked{Reader: zr, closers: []io.Closer{zr, rc}}, nil
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			_ = rc.Close()
			return nil, errors.Wrapf(err, "zstd %s", name)
		}
		return &stacked{Reader: zr, closers: []io.Closer{zstdCloser{zr}, rc}}, nil
	}
	return rc, nil
}

// stacked closes every layer, innermost decoder first.
type stacked struct {
	io.Reader
	closers []io.Closer
}

func (s *stacked) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error { z.d.Close(); return nil }
