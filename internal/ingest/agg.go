package ingest

import (
	"go.uber.org/zap"

	"datadict/internal/logging"
)

// errAgg aggregates recoverable errors of one shard: every occurrence is
// counted, only the first limit distinct messages are logged individually.
type errAgg struct {
	log     *zap.Logger
	limit   int
	count   int
	first   []string
	buckets map[string]int
}

func newErrAgg(log *zap.Logger, limit int) *errAgg {
	return &errAgg{log: log, limit: limit, buckets: make(map[string]int)}
}

// add records msg and logs it at warn level while under the limit.
func (a *errAgg) add(msg string, fields ...zap.Field) {
	a.count++
	n := a.buckets[msg]
	a.buckets[msg] = n + 1
	if n == 0 && len(a.first) < a.limit {
		a.first = append(a.first, msg)
		a.log.Warn(msg, fields...)
	}
}

// flush logs the totals when more occurrences were seen than logged.
func (a *errAgg) flush(what string) {
	if a.count <= len(a.first) {
		return
	}
	a.log.Warn(what+" (summary)",
		zap.Int(logging.FieldCount, a.count),
		zap.Int("distinct", len(a.buckets)),
		zap.Int("logged", len(a.first)),
	)
}
