package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptwatch/promptwatch-go/internal/application/aggregation"
	"github.com/promptwatch/promptwatch-go/internal/application/loading"
	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/messaging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
)

// fakeRowRepository serves canned rows and counts fetches.
type fakeRowRepository struct {
	mu      sync.Mutex
	rows    []analytics.AnalysisRow
	fetches int32
	err     error
}

func (r *fakeRowRepository) FetchRows(_ context.Context, entityIDs []string, dateRange analytics.DateRange) ([]analytics.AnalysisRow, error) {
	atomic.AddInt32(&r.fetches, 1)
	if r.err != nil {
		return nil, r.err
	}

	set := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		set[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]analytics.AnalysisRow, 0, len(r.rows))
	for _, row := range r.rows {
		if _, ok := set[row.EntityID]; !ok {
			continue
		}
		if !dateRange.Contains(row.ObservedAt) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (r *fakeRowRepository) StoreRows(_ context.Context, rows []analytics.AnalysisRow) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.rows = append(r.rows, rows...)
	r.mu.Unlock()
	return nil
}

func (r *fakeRowRepository) fetchCount() int {
	return int(atomic.LoadInt32(&r.fetches))
}

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.DefaultLevel = slog.LevelError
	logger, err := logging.NewChanneledLogger(cfg)
	require.NoError(t, err)
	return logger
}

type testStack struct {
	dashboard   *DashboardService
	competitors *CompetitorService
	ingestion   *IngestionService
	cache       *caching.Store
	broadcaster *messaging.StalenessBroadcaster
	repo        *fakeRowRepository
}

func newTestStack(t *testing.T, repo *fakeRowRepository) *testStack {
	t.Helper()

	logger := newTestLogger(t)
	tracker := performance.NewTracker(performance.DefaultTrackerConfig())
	cache := caching.NewStore(logger)
	broadcaster := messaging.NewStalenessBroadcaster(10, logger)
	dedup := loading.NewDeduplicator(logger)
	loader := loading.NewBatchLoader(repo.FetchRows, cache, loading.BatchLoaderConfig{
		MaxWaitTime:  10 * time.Millisecond,
		MaxBatchSize: 10,
		RowCacheTTL:  time.Minute,
		FetchTimeout: 5 * time.Second,
	}, logger, tracker)
	engine := aggregation.NewEngine(1000, 10*time.Second, logger, tracker)

	return &testStack{
		dashboard:   NewDashboardService(cache, dedup, loader, engine, broadcaster, logger, tracker),
		competitors: NewCompetitorService(cache, dedup, loader, engine, broadcaster, logger, tracker),
		ingestion:   NewIngestionService(repo, cache, broadcaster, logger, tracker),
		cache:       cache,
		broadcaster: broadcaster,
		repo:        repo,
	}
}

func weeklyWindow() analytics.DateRange {
	return analytics.DateRange{
		Start: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	}
}

func mentionRow(id, entityID, topic, provider string, observedAt time.Time, rank int) analytics.AnalysisRow {
	return analytics.AnalysisRow{
		ID:           id,
		EntityID:     entityID,
		Topic:        topic,
		Provider:     provider,
		IsMentioned:  true,
		RankPosition: &rank,
		ObservedAt:   observedAt,
	}
}

func TestGetDashboardDataComputesComposite(t *testing.T) {
	window := weeklyWindow()
	inside := window.Start.Add(time.Hour)

	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", inside, 1),
		mentionRow("r2", "brand-a", "pricing", "claude", inside, 3),
		{ID: "r3", EntityID: "brand-b", Topic: "support", Provider: "gpt", ObservedAt: inside},
	}}
	stack := newTestStack(t, repo)

	data, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a", "brand-b"}, "weekly", window)
	require.NoError(t, err)

	require.NotNil(t, data.Current)
	assert.Equal(t, 67, data.Current.VisibilityScore)
	assert.Equal(t, 2, data.Current.TotalMentions)
	assert.Equal(t, 2.0, data.Current.AverageRank)
	require.NotNil(t, data.Current.Trend)
	assert.Equal(t, data.Trend, *data.Current.Trend)

	require.NotNil(t, data.Previous)
	assert.Equal(t, 0, data.Previous.TotalRows)
	assert.Equal(t, 100, data.Trend, "growth from an empty previous window reads as 100")

	require.Len(t, data.TopicRankings, 1)
	assert.Equal(t, TopicRanking{Topic: "pricing", Mentions: 2, Rank: 1}, data.TopicRankings[0])

	require.Len(t, data.Providers, 2)
	assert.Equal(t, "claude", data.Providers[0].Provider)
	assert.Equal(t, "gpt", data.Providers[1].Provider)

	require.Len(t, data.Entities, 2)
	assert.Equal(t, "brand-a", data.Entities[0].EntityID, "entities rank by visibility descending")
	assert.Equal(t, 100, data.Entities[0].Snapshot.VisibilityScore)
	assert.Equal(t, "brand-b", data.Entities[1].EntityID)

	assert.Nil(t, data.SectionErrors)
	assert.False(t, data.Stale)
	assert.Equal(t, "weekly", data.Period)
}

func TestGetDashboardDataBatchesBothWindows(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	_, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.fetchCount(), "current and previous window loads must share one batched fetch")
}

func TestGetDashboardDataCacheHitSkipsRefetch(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	first, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
	require.NoError(t, err)
	fetchesAfterFirst := repo.fetchCount()

	second, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
	require.NoError(t, err)

	assert.Equal(t, fetchesAfterFirst, repo.fetchCount())
	assert.Equal(t, first.Current, second.Current)
	assert.False(t, second.Stale)
}

func TestGetDashboardDataValidation(t *testing.T) {
	stack := newTestStack(t, &fakeRowRepository{})
	window := weeklyWindow()

	_, err := stack.dashboard.GetDashboardData(context.Background(), nil, "weekly", window)
	assert.ErrorIs(t, err, analytics.ErrValidation)

	_, err = stack.dashboard.GetDashboardData(context.Background(), []string{""}, "weekly", window)
	assert.ErrorIs(t, err, analytics.ErrValidation)

	inverted := analytics.DateRange{Start: window.End, End: window.Start}
	_, err = stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", inverted)
	assert.ErrorIs(t, err, analytics.ErrValidation)

	assert.Equal(t, 0, stack.repo.fetchCount(), "invalid queries must not reach the store")
}

func TestGetDashboardDataFetchFailure(t *testing.T) {
	repo := &fakeRowRepository{err: fmt.Errorf("%w: connection refused", analytics.ErrDataAccess)}
	stack := newTestStack(t, repo)

	_, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", weeklyWindow())
	assert.ErrorIs(t, err, analytics.ErrDataAccess)

	states := stack.dashboard.QueryStates()
	key := dashboardKey([]string{"brand-a"}, "weekly", weeklyWindow())
	assert.Equal(t, string(StateError), states[key])
}

func TestGetDashboardDataServesStaleWhileRefreshing(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	key := dashboardKey([]string{"brand-a"}, "weekly", window)
	seeded := &DashboardData{
		Current:    &analytics.MetricsSnapshot{VisibilityScore: 42},
		Period:     "weekly",
		Range:      window,
		ComputedAt: time.Now().UTC().Add(-time.Hour),
	}
	stack.cache.Set(key, seeded, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	data, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
	require.NoError(t, err)
	assert.True(t, data.Stale, "an aged entry is served optimistically, flagged")
	assert.Equal(t, 42, data.Current.VisibilityScore, "the stale value is handed back unchanged")

	// The background refresh replaces the entry with a fresh composite.
	assert.Eventually(t, func() bool {
		cached, ok := stack.cache.Get(key)
		if !ok {
			return false
		}
		refreshed, ok := cached.(*DashboardData)
		return ok && refreshed.Current.VisibilityScore == 100
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRefreshFullClearsCache(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	_, err := stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
	require.NoError(t, err)
	fetchesAfterFirst := repo.fetchCount()

	stack.dashboard.Refresh(false)
	assert.Empty(t, stack.dashboard.QueryStates())

	_, err = stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
	require.NoError(t, err)
	assert.Greater(t, repo.fetchCount(), fetchesAfterFirst, "a full refresh must force a refetch")
}

func TestRefreshSelectiveKeepsFreshEntries(t *testing.T) {
	stack := newTestStack(t, &fakeRowRepository{})
	stack.cache.Set("dashboard:aged", &DashboardData{}, time.Millisecond)
	stack.cache.Set("dashboard:fresh", &DashboardData{}, time.Minute)
	time.Sleep(5 * time.Millisecond)

	stack.dashboard.Refresh(true)

	_, ok := stack.cache.Get("dashboard:fresh")
	assert.True(t, ok)
	assert.Equal(t, 1, stack.cache.Len())
}

func TestGetDashboardDataCoalescesConcurrentQueries(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	const callers = 8
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = stack.dashboard.GetDashboardData(context.Background(), []string{"brand-a"}, "weekly", window)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, 1, repo.fetchCount(), "identical concurrent queries must share one computation")
}
