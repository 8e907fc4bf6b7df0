// Package bolt implements storage.Backend on an embedded bbolt file.
//
// Each dictionary table is a bucket holding two sub-buckets: keys maps a
// value to its id and ids maps an id back to its value, so lookups and
// id-ordered scans are both direct. Ids come from the table bucket's
// sequence.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	bolt "go.etcd.io/bbolt"

	"datadict/internal/column"
	"datadict/internal/storage"
)

var (
	bucketColumns  = []byte("dd_columns")
	bucketProgress = []byte("dd_file_progress")
	bucketMeta     = []byte("dd_meta")
	bucketKeys     = []byte("keys")
	bucketIDs      = []byte("ids")
)

// Store is a bbolt-backed storage.Backend.
type Store struct {
	db  *bolt.DB
	tx  *bolt.Tx
	now func() time.Time
}

var (
	_ storage.Backend      = (*Store)(nil)
	_ storage.ValueLimiter = (*Store)(nil)
)

// Open opens or creates the bbolt file at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("bolt: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt: open %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketColumns, bucketProgress, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "bolt: init buckets")
	}
	return &Store{db: db, now: time.Now}, nil
}

func init() {
	storage.Register("bolt", func(_ context.Context, cfg storage.Config) (storage.Backend, error) {
		return Open(cfg.DSN)
	})
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.Update(fn)
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.db.View(fn)
}

// EnsureTable implements storage.Store.
func (s *Store) EnsureTable(_ context.Context, d column.Descriptor) error {
	return errors.Wrapf(s.update(func(tx *bolt.Tx) error {
		_, err := ensure(tx, d)
		return err
	}), "bolt: ensure %s", d.Table())
}

func ensure(tx *bolt.Tx, d column.Descriptor) (*bolt.Bucket, error) {
	table := []byte(d.Table())
	if b := tx.Bucket(table); b != nil {
		return b, nil
	}
	b, err := tx.CreateBucket(table)
	if err != nil {
		return nil, err
	}
	if _, err := b.CreateBucket(bucketKeys); err != nil {
		return nil, err
	}
	if _, err := b.CreateBucket(bucketIDs); err != nil {
		return nil, err
	}
	return b, tx.Bucket(bucketColumns).Put(u64tob(uint64(d.Index)), encodeColumn(d))
}

// InsertIfAbsent implements storage.Store.
func (s *Store) InsertIfAbsent(ctx context.Context, d column.Descriptor, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	if err := storage.CheckValueLen(values, bolt.MaxKeySize); err != nil {
		return 0, errors.Wrapf(err, "bolt: insert into %s", d.Table())
	}
	var inserted int64
	err := s.update(func(tx *bolt.Tx) error {
		b, err := ensure(tx, d)
		if err != nil {
			return err
		}
		keys, ids := b.Bucket(bucketKeys), b.Bucket(bucketIDs)
		for i, v := range values {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if v == "" {
				continue
			}
			k := []byte(v)
			if keys.Get(k) != nil {
				continue
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			id := u64tob(seq)
			if err := keys.Put(k, id); err != nil {
				return err
			}
			if err := ids.Put(id, k); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "bolt: insert into %s", d.Table())
	}
	return inserted, nil
}

// MaxValueLen implements storage.ValueLimiter: values are bucket keys.
func (s *Store) MaxValueLen() int { return bolt.MaxKeySize }

// Progress implements storage.Store.
func (s *Store) Progress(_ context.Context, file string) (storage.Progress, error) {
	p := storage.Progress{File: file}
	err := s.view(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketProgress).Get([]byte(file)); v != nil {
			return decodeProgress(v, &p)
		}
		return nil
	})
	return p, errors.Wrapf(err, "bolt: read progress %s", file)
}

// SetProgress implements storage.Store.
func (s *Store) SetProgress(_ context.Context, p storage.Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.now()
	}
	err := s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgress).Put([]byte(p.File), encodeProgress(p))
	})
	return errors.Wrapf(err, "bolt: write progress %s", p.File)
}

// Begin implements storage.Store.
func (s *Store) Begin(context.Context) error {
	if s.tx != nil {
		return storage.ErrTxOpen
	}
	tx, err := s.db.Begin(true)
	if err != nil {
		return errors.Wrap(err, "bolt: begin")
	}
	s.tx = tx
	return nil
}

// Commit implements storage.Store.
func (s *Store) Commit(context.Context) error {
	if s.tx == nil {
		return storage.ErrNoTx
	}
	tx := s.tx
	s.tx = nil
	return errors.Wrap(tx.Commit(), "bolt: commit")
}

// Rollback implements storage.Store.
func (s *Store) Rollback() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		return errors.Wrap(err, "bolt: rollback")
	}
	return nil
}

// Meta implements storage.Store.
func (s *Store) Meta(_ context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.view(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketMeta).Get([]byte(key)); b != nil {
			v, ok = string(b), true
		}
		return nil
	})
	return v, ok, errors.Wrapf(err, "bolt: read meta %s", key)
}

// SetMeta implements storage.Store.
func (s *Store) SetMeta(_ context.Context, key, value string) error {
	err := s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(key), []byte(value))
	})
	return errors.Wrapf(err, "bolt: write meta %s", key)
}

// Tables implements storage.Reader.
func (s *Store) Tables(context.Context) ([]storage.Table, error) {
	var out []storage.Table
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketColumns).ForEach(func(k, v []byte) error {
			t := storage.Table{Descriptor: decodeColumn(k, v)}
			if b := tx.Bucket([]byte(t.Table())); b != nil {
				t.Rows = int64(b.Bucket(bucketIDs).Stats().KeyN)
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt: list tables")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Scan implements storage.Reader.
func (s *Store) Scan(ctx context.Context, d column.Descriptor, fn func(id int64, value string) error) error {
	return s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(d.Table()))
		if b == nil {
			return errors.Newf("bolt: table %s does not exist", d.Table())
		}
		c := b.Bucket(bucketIDs).Cursor()
		n := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if n++; n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if err := fn(int64(btou64(k)), string(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListProgress implements storage.Reader.
func (s *Store) ListProgress(context.Context) ([]storage.Progress, error) {
	var out []storage.Progress
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgress).ForEach(func(k, v []byte) error {
			p := storage.Progress{File: string(k)}
			if err := decodeProgress(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, errors.Wrap(err, "bolt: list progress")
}

// Close rolls back any open transaction and closes the file.
func (s *Store) Close() error {
	err := s.Rollback()
	if cerr := s.db.Close(); cerr != nil {
		return errors.Wrap(cerr, "bolt: close")
	}
	return err
}

const progressLen = 8 + 1 + 8

func encodeProgress(p storage.Progress) []byte {
	b := make([]byte, progressLen)
	binary.BigEndian.PutUint64(b[0:8], uint64(p.LastRow))
	if p.Finished {
		b[8] = 1
	}
	binary.BigEndian.PutUint64(b[9:17], uint64(p.UpdatedAt.UnixMilli()))
	return b
}

func decodeProgress(b []byte, p *storage.Progress) error {
	if len(b) != progressLen {
		return errors.Newf("corrupt progress record for %s (%d bytes)", p.File, len(b))
	}
	p.LastRow = int64(binary.BigEndian.Uint64(b[0:8]))
	p.Finished = b[8] == 1
	p.UpdatedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(b[9:17])))
	return nil
}

// encodeColumn stores the sanitized name; the table name is derived from it.
func encodeColumn(d column.Descriptor) []byte { return []byte(d.Name) }

func decodeColumn(k, v []byte) column.Descriptor {
	return column.Descriptor{Index: int(btou64(k)), Name: string(bytes.Clone(v))}
}

// u64tob encodes v as big endian so byte order matches numeric order.
func u64tob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btou64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
