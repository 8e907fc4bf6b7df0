// Package storage defines the dictionary store contract and a registry of
// backends.
//
// A store holds one dictionary table per tracked column (surrogate id plus
// unique value), a ledger of per-file progress, and a small key/value meta
// table. Dictionary writes and progress writes made between Begin and Commit
// become durable together; that co-commit is what makes resume safe.
//
// Backends register themselves in init; import storage/all to enable every
// built-in kind.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"datadict/internal/column"
)

// Well-known meta keys.
const (
	MetaColumnFingerprint = "column_fingerprint"
	MetaLastRunID         = "last_run_id"
	MetaDelimiter         = "delimiter"
)

var (
	// ErrUnknownKind is returned by New for an unregistered backend kind.
	ErrUnknownKind = errors.New("unknown storage kind")
	// ErrTxOpen is returned by Begin when a transaction is already open.
	ErrTxOpen = errors.New("transaction already open")
	// ErrNoTx is returned by Commit when no transaction is open.
	ErrNoTx = errors.New("no open transaction")
	// ErrValueTooLong is returned by InsertIfAbsent when a value exceeds the
	// backend's MaxValueLen. Nothing of the batch is written.
	ErrValueTooLong = errors.New("value exceeds the store's length limit")
)

// Progress is the ledger record of one input file.
type Progress struct {
	File      string
	LastRow   int64
	Finished  bool
	UpdatedAt time.Time
}

// Table is a registered dictionary table with its current row count.
type Table struct {
	column.Descriptor
	Rows int64
}

// Store is the write side used by the ingestion pipeline. Implementations
// are used by a single goroutine at a time.
type Store interface {
	// EnsureTable creates the dictionary table for d if needed and registers
	// it. It is idempotent.
	EnsureTable(ctx context.Context, d column.Descriptor) error

	// InsertIfAbsent adds each value not yet present in d's table, assigning
	// a fresh id, and returns how many were added. Overlapping calls are safe.
	InsertIfAbsent(ctx context.Context, d column.Descriptor, values []string) (int64, error)

	// Progress returns the ledger record for file; unknown files yield
	// {LastRow: 0, Finished: false}.
	Progress(ctx context.Context, file string) (Progress, error)

	// SetProgress upserts the ledger record for p.File.
	SetProgress(ctx context.Context, p Progress) error

	// Begin opens a transaction covering all subsequent writes until Commit.
	Begin(ctx context.Context) error
	// Commit makes every write since Begin durable.
	Commit(ctx context.Context) error
	// Rollback discards an open transaction. It is a no-op when none is open.
	Rollback() error

	Meta(ctx context.Context, key string) (string, bool, error)
	SetMeta(ctx context.Context, key, value string) error

	Close() error
}

// Reader is the read side used by export, encode and status.
type Reader interface {
	// Tables lists registered dictionary tables ordered by column index.
	Tables(ctx context.Context) ([]Table, error)
	// Scan calls fn for every entry of d's table in id order. Returning an
	// error from fn stops the scan and returns that error.
	Scan(ctx context.Context, d column.Descriptor, fn func(id int64, value string) error) error
	// ListProgress returns every ledger record ordered by file name.
	ListProgress(ctx context.Context) ([]Progress, error)
}

// Backend is a store that can also be read.
type Backend interface {
	Store
	Reader
}

// ValueLimiter is implemented by backends that cannot store values longer
// than a fixed number of bytes.
type ValueLimiter interface {
	MaxValueLen() int
}

// MaxValueLen returns the longest value s accepts in bytes, or 0 when it
// takes values of any length.
func MaxValueLen(s Store) int {
	if l, ok := s.(ValueLimiter); ok {
		return l.MaxValueLen()
	}
	return 0
}

// CheckValueLen returns ErrValueTooLong for the first of values longer than
// limit bytes. A limit of 0 or less accepts everything.
func CheckValueLen(values []string, limit int) error {
	if limit <= 0 {
		return nil
	}
	for i, v := range values {
		if len(v) > limit {
			return errors.Wrapf(ErrValueTooLong, "value %d of the batch has %d bytes, limit %d", i, len(v), limit)
		}
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Backend, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on a duplicate
// registration, which can only happen through a programming error.
func Register(kind string, f Factory) {
	kind = strings.ToLower(kind)
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("storage: Register called twice for " + kind)
	}
	factories[kind] = f
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the backend registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Backend, error) {
	mu.RLock()
	f, ok := factories[strings.ToLower(cfg.Kind)]
	mu.RUnlock()
	if !ok {
		return nil, errors.WithHintf(errors.Wrapf(ErrUnknownKind, "%q", cfg.Kind),
			"registered kinds: %s", strings.Join(Kinds(), ", "))
	}
	b, err := f(ctx, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.Kind)
	}
	return b, nil
}
