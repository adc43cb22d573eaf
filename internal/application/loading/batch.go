package loading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
)

// Fetcher is the underlying row-fetch operation a batch flushes to
type Fetcher func(ctx context.Context, entityIDs []string, dateRange analytics.DateRange) ([]analytics.AnalysisRow, error)

type loadResult struct {
	rows []analytics.AnalysisRow
	err  error
}

type pendingCall struct {
	key  analytics.BatchKey
	done chan loadResult
}

// pendingBatch collects calls while its window is open. It is detached from
// the loader before execution so late callers open a fresh window.
type pendingBatch struct {
	calls   []*pendingCall
	timer   *time.Timer
	flushed bool
}

// BatchLoaderConfig carries the batching knobs
type BatchLoaderConfig struct {
	MaxWaitTime  time.Duration // How long the batch window stays open
	MaxBatchSize int           // Pending calls that force an early flush
	RowCacheTTL  time.Duration // TTL for cached union results
	FetchTimeout time.Duration // Bound on the underlying fetch
}

// BatchLoader micro-batches near-simultaneous load calls into one
// underlying fetch. Calls in the same open window merge into a union
// entity set and an enclosing date range; the single result is partitioned
// back per caller. A failed fetch rejects every caller in the batch with
// the same error.
type BatchLoader struct {
	fetch       Fetcher
	cache       *caching.Store
	config      BatchLoaderConfig
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker

	mu      sync.Mutex
	pending *pendingBatch
}

// NewBatchLoader creates a batch loader over the given fetch operation
func NewBatchLoader(fetch Fetcher, cache *caching.Store, config BatchLoaderConfig, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *BatchLoader {
	return &BatchLoader{
		fetch:       fetch,
		cache:       cache,
		config:      config,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// Load returns the rows for key, joining the open batch window when one
// exists. An empty entity set resolves immediately without entering a
// batch. Load blocks until the batch settles or ctx is done.
func (l *BatchLoader) Load(ctx context.Context, key analytics.BatchKey) ([]analytics.AnalysisRow, error) {
	if len(key.EntityIDs) == 0 {
		return []analytics.AnalysisRow{}, nil
	}

	// A previously flushed batch with the identical union/range
	// short-circuits the window entirely.
	if cached, ok := l.cache.Get(key.String()); ok {
		if rows, ok := cached.([]analytics.AnalysisRow); ok {
			l.logger.LogCacheOperation("batch_load", key.String(), true, 0)
			return partitionRows(rows, key), nil
		}
	}

	call := &pendingCall{key: key, done: make(chan loadResult, 1)}

	l.mu.Lock()
	if l.pending == nil {
		batch := &pendingBatch{}
		batch.timer = time.AfterFunc(l.config.MaxWaitTime, func() {
			l.flushBatch(batch)
		})
		l.pending = batch
	}
	batch := l.pending
	batch.calls = append(batch.calls, call)
	full := len(batch.calls) >= l.config.MaxBatchSize
	if full {
		// Detach now so no further calls can join past the size threshold.
		l.pending = nil
	}
	l.mu.Unlock()

	if full {
		batch.timer.Stop()
		l.flushBatch(batch)
	}

	select {
	case res := <-call.done:
		return res.rows, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flushBatch closes the window and executes the union fetch exactly once
func (l *BatchLoader) flushBatch(batch *pendingBatch) {
	l.mu.Lock()
	if batch.flushed {
		l.mu.Unlock()
		return
	}
	batch.flushed = true
	if l.pending == batch {
		l.pending = nil
	}
	calls := batch.calls
	l.mu.Unlock()

	if len(calls) == 0 {
		return
	}

	l.execute(calls)
}

func (l *BatchLoader) execute(calls []*pendingCall) {
	start := time.Now()
	marker := l.perfTracker.StartOperation("batch_flush", fmt.Sprintf("calls=%d", len(calls)))
	defer marker.Complete()

	union := make(map[string]struct{})
	enclosing := calls[0].key.Range
	for _, call := range calls {
		for _, id := range call.key.EntityIDs {
			union[id] = struct{}{}
		}
		enclosing = enclosing.Enclose(call.key.Range)
	}

	entityIDs := make([]string, 0, len(union))
	for id := range union {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	ctx, cancel := context.WithTimeout(context.Background(), l.config.FetchTimeout)
	defer cancel()

	rows, err := l.fetch(ctx, entityIDs, enclosing)
	if err != nil {
		// All-or-nothing: every caller in the batch sees the same failure.
		marker.SetError(err)
		l.logger.Loader().Error("Batch fetch failed",
			"error", err.Error(),
			"calls", len(calls),
			"entityCount", len(entityIDs))
		for _, call := range calls {
			call.done <- loadResult{err: err}
		}
		return
	}

	unionKey := analytics.NewBatchKey(entityIDs, enclosing).String()
	l.cache.Set(unionKey, rows, l.config.RowCacheTTL)

	for _, call := range calls {
		call.done <- loadResult{rows: partitionRows(rows, call.key)}
	}

	marker.SetSuccess(true)
	marker.AddMetadata("rowCount", len(rows))
	l.logger.Loader().Info("Batch flushed",
		"calls", len(calls),
		"entityCount", len(entityIDs),
		"rowCount", len(rows),
		"duration", time.Since(start))
}

// partitionRows filters the union result down to one caller's entity set
// and requested range
func partitionRows(rows []analytics.AnalysisRow, key analytics.BatchKey) []analytics.AnalysisRow {
	set := key.EntitySet()
	out := make([]analytics.AnalysisRow, 0, len(rows))
	for _, row := range rows {
		if _, ok := set[row.EntityID]; !ok {
			continue
		}
		if !key.Range.Contains(row.ObservedAt) {
			continue
		}
		out = append(out, row)
	}
	return out
}
