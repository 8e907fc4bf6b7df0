package ingest

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ShardError reports a fatal read failure in one shard. Row is the number of
// records consumed when the failure happened.
type ShardError struct {
	File string
	Row  int64
	Err  error
}

func (e *ShardError) Error() string {
	return fmt.Sprintf("shard %s: after row %d: %v", e.File, e.Row, e.Err)
}

func (e *ShardError) Unwrap() error { return e.Err }

// StoreError reports a fatal storage failure. File is the shard whose batch
// was being written, if any.
type StoreError struct {
	Op   string
	File string
	Err  error
}

func (e *StoreError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.File, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// failedFile returns the shard named by a pipeline error.
func failedFile(err error) (string, bool) {
	var se *ShardError
	if errors.As(err, &se) {
		return se.File, true
	}
	var st *StoreError
	if errors.As(err, &st) && st.File != "" {
		return st.File, true
	}
	return "", false
}

// withResumeHint tells the operator where the next run will pick up.
func withResumeHint(err error, file string, row int64) error {
	return errors.WithHintf(err, "resume will start at row %d of %s", row, file)
}
