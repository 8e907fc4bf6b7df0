package storage

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"datadict/internal/column"
)

// ErrColumnsChanged is returned when a store was filled under a different
// column configuration than the current one.
var ErrColumnsChanged = errors.New("column configuration differs from the stored one")

// Fingerprint hashes the table layout of set.
func Fingerprint(set column.Set) string {
	return strconv.FormatUint(xxh3.HashString(set.Fingerprint()), 16)
}

// CheckColumns records the fingerprint of set in a fresh store, or verifies
// that an existing store was built for the same columns. Resuming into a
// store with a different layout would mix dictionaries, so it is refused.
func CheckColumns(ctx context.Context, s Store, set column.Set) error {
	want := Fingerprint(set)
	got, ok, err := s.Meta(ctx, MetaColumnFingerprint)
	if err != nil {
		return errors.Wrap(err, "read column fingerprint")
	}
	if !ok {
		return errors.Wrap(s.SetMeta(ctx, MetaColumnFingerprint, want), "write column fingerprint")
	}
	if got != want {
		return errors.WithHint(
			errors.Wrapf(ErrColumnsChanged, "stored %s, current %s", got, want),
			"use a new storage.output or dsn, or restore the previous columns settings")
	}
	return nil
}
