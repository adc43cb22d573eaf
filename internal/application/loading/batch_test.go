package loading

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
)

type recordingFetcher struct {
	mu       sync.Mutex
	calls    int32
	requests [][]string
	rows     []analytics.AnalysisRow
	err      error
}

func (f *recordingFetcher) fetch(_ context.Context, entityIDs []string, _ analytics.DateRange) ([]analytics.AnalysisRow, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.requests = append(f.requests, entityIDs)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *recordingFetcher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func testWindow() analytics.DateRange {
	return analytics.DateRange{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}
}

func rowFor(id, entityID string, observedAt time.Time) analytics.AnalysisRow {
	return analytics.AnalysisRow{
		ID:          id,
		EntityID:    entityID,
		Topic:       "pricing",
		Provider:    "gpt",
		IsMentioned: true,
		ObservedAt:  observedAt,
	}
}

func newTestLoader(t *testing.T, fetcher *recordingFetcher, maxWait time.Duration, maxSize int) *BatchLoader {
	t.Helper()
	logger := newTestLogger(t)
	return NewBatchLoader(fetcher.fetch, caching.NewStore(logger), BatchLoaderConfig{
		MaxWaitTime:  maxWait,
		MaxBatchSize: maxSize,
		RowCacheTTL:  time.Minute,
		FetchTimeout: 5 * time.Second,
	}, logger, performance.NewTracker(performance.DefaultTrackerConfig()))
}

func TestLoadCoalescesWindowIntoUnionFetch(t *testing.T) {
	window := testWindow()
	inside := window.Start.Add(time.Hour)
	fetcher := &recordingFetcher{rows: []analytics.AnalysisRow{
		rowFor("r1", "e1", inside),
		rowFor("r2", "e2", inside),
		rowFor("r3", "e3", inside),
	}}
	loader := newTestLoader(t, fetcher, 30*time.Millisecond, 10)

	keyA := analytics.NewBatchKey([]string{"e1", "e2"}, window)
	keyB := analytics.NewBatchKey([]string{"e2", "e3"}, window)

	var rowsA, rowsB []analytics.AnalysisRow
	var errA, errB error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rowsA, errA = loader.Load(context.Background(), keyA)
	}()
	go func() {
		defer wg.Done()
		rowsB, errB = loader.Load(context.Background(), keyB)
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, 1, fetcher.callCount(), "both callers must share one union fetch")
	require.Len(t, fetcher.requests, 1)
	assert.Equal(t, []string{"e1", "e2", "e3"}, fetcher.requests[0])

	idsOf := func(rows []analytics.AnalysisRow) []string {
		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.EntityID)
		}
		return ids
	}
	assert.ElementsMatch(t, []string{"e1", "e2"}, idsOf(rowsA))
	assert.ElementsMatch(t, []string{"e2", "e3"}, idsOf(rowsB))
}

func TestLoadPartitionFiltersByRange(t *testing.T) {
	window := testWindow()
	fetcher := &recordingFetcher{rows: []analytics.AnalysisRow{
		rowFor("r1", "e1", window.Start.Add(time.Hour)),
		rowFor("r2", "e1", window.End.Add(time.Hour)),
	}}
	loader := newTestLoader(t, fetcher, 5*time.Millisecond, 10)

	rows, err := loader.Load(context.Background(), analytics.NewBatchKey([]string{"e1"}, window))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0].ID)
}

func TestLoadFullBatchFlushesEarly(t *testing.T) {
	window := testWindow()
	fetcher := &recordingFetcher{}
	loader := newTestLoader(t, fetcher, 10*time.Second, 2)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			key := analytics.NewBatchKey([]string{fmt.Sprintf("e%d", i)}, window)
			_, err := loader.Load(context.Background(), key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 5*time.Second, "a full batch must flush without waiting out the window")
	assert.Equal(t, 1, fetcher.callCount())
}

func TestLoadFailureRejectsEveryCaller(t *testing.T) {
	window := testWindow()
	boom := fmt.Errorf("%w: connection refused", analytics.ErrDataAccess)
	fetcher := &recordingFetcher{err: boom}
	loader := newTestLoader(t, fetcher, 20*time.Millisecond, 10)

	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errA = loader.Load(context.Background(), analytics.NewBatchKey([]string{"e1"}, window))
	}()
	go func() {
		defer wg.Done()
		_, errB = loader.Load(context.Background(), analytics.NewBatchKey([]string{"e2"}, window))
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, analytics.ErrDataAccess)
	assert.ErrorIs(t, errB, analytics.ErrDataAccess)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestLoadEmptyEntitySetShortCircuits(t *testing.T) {
	fetcher := &recordingFetcher{}
	loader := newTestLoader(t, fetcher, 10*time.Millisecond, 10)

	rows, err := loader.Load(context.Background(), analytics.NewBatchKey(nil, testWindow()))
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Equal(t, 0, fetcher.callCount())
}

func TestLoadServesCachedUnionWithoutRefetch(t *testing.T) {
	window := testWindow()
	fetcher := &recordingFetcher{rows: []analytics.AnalysisRow{
		rowFor("r1", "e1", window.Start.Add(time.Hour)),
	}}
	loader := newTestLoader(t, fetcher, 5*time.Millisecond, 10)
	key := analytics.NewBatchKey([]string{"e1"}, window)

	first, err := loader.Load(context.Background(), key)
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.callCount(), "the cached union must satisfy the repeat load")
	assert.Equal(t, first, second)
}

func TestLoadHonorsCallerContext(t *testing.T) {
	fetcher := &recordingFetcher{}
	loader := newTestLoader(t, fetcher, 10*time.Second, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := loader.Load(ctx, analytics.NewBatchKey([]string{"e1"}, testWindow()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
