// Package loading collapses and batches concurrent row requests so that
// many simultaneously rendering panels produce a minimal number of fetches
// against the backing store.
package loading

import (
	"golang.org/x/sync/singleflight"

	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
)

// Deduplicator guarantees at-most-one concurrent execution per key.
// Callers arriving while a key is in flight share the first execution's
// result; the in-flight entry is dropped on settlement regardless of
// outcome, so a later call starts fresh.
type Deduplicator struct {
	group  singleflight.Group
	logger *logging.ChanneledLogger
}

// NewDeduplicator creates a request deduplicator
func NewDeduplicator(logger *logging.ChanneledLogger) *Deduplicator {
	return &Deduplicator{logger: logger}
}

// Deduplicate runs factory at most once per key among concurrent callers
// and hands every caller the same result.
func Deduplicate[T any](d *Deduplicator, key string, factory func() (T, error)) (T, error) {
	v, err, shared := d.group.Do(key, func() (any, error) {
		return factory()
	})

	if shared && d.logger != nil {
		d.logger.Loader().Debug("Request coalesced with in-flight execution", "key", key)
	}

	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
