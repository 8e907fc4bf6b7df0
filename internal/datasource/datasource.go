// Package datasource locates the shards of an ingestion run and opens them as
// plain record streams.
package datasource

import (
	"context"
	"io"
)

// Source opens a byte stream.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Shard is one named input file. Name is the stable key used by the
// progress ledger; it must not change between runs over the same input.
type Shard interface {
	Source
	Name() string
}

// Input is the result of discovery: the ordered shards and an optional
// sidecar carrying column names.
type Input struct {
	Shards  []Shard
	Sidecar Source

	closers []io.Closer
}

// Close releases archives opened during discovery.
func (in *Input) Close() error {
	var first error
	for _, c := range in.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	in.closers = nil
	return first
}

// ShardNames returns the progress keys in shard order.
func (in *Input) ShardNames() []string {
	out := make([]string, len(in.Shards))
	for i, s := range in.Shards {
		out[i] = s.Name()
	}
	return out
}
