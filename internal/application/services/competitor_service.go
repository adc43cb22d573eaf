package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/application/aggregation"
	"github.com/promptwatch/promptwatch-go/internal/application/loading"
	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/messaging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
	"github.com/promptwatch/promptwatch-go/pkg/config"
)

// CompetitorEntry is one entity's standing in the competitor comparison
type CompetitorEntry struct {
	EntityID string                     `json:"entityId"`
	Rank     int                        `json:"rank"`
	Trend    int                        `json:"trend"`
	Snapshot *analytics.MetricsSnapshot `json:"snapshot"`
}

// CompetitorAnalytics is the composite competitor-panel response
type CompetitorAnalytics struct {
	Entries    []CompetitorEntry   `json:"entries"`
	Range      analytics.DateRange `json:"range"`
	Stale      bool                `json:"stale"`
	ComputedAt time.Time           `json:"computedAt"`
}

// CompetitorService answers competitor-panel queries on the same
// dedup/batch/aggregate path as the dashboard, ranked by visibility.
type CompetitorService struct {
	cache       *caching.Store
	dedup       *loading.Deduplicator
	loader      *loading.BatchLoader
	engine      *aggregation.Engine
	lifecycle   *lifecycleTracker
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
	ttl         time.Duration
}

// NewCompetitorService creates the competitor analytics service
func NewCompetitorService(
	cache *caching.Store,
	dedup *loading.Deduplicator,
	loader *loading.BatchLoader,
	engine *aggregation.Engine,
	broadcaster *messaging.StalenessBroadcaster,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *CompetitorService {
	return &CompetitorService{
		cache:       cache,
		dedup:       dedup,
		loader:      loader,
		engine:      engine,
		lifecycle:   newLifecycleTracker(broadcaster),
		logger:      logger,
		perfTracker: perfTracker,
		ttl:         config.CompetitorTTL,
	}
}

// GetCompetitorAnalytics computes per-entity snapshots over the window,
// ranks entities by visibility score, and attaches each entity's
// period-over-period trend.
func (s *CompetitorService) GetCompetitorAnalytics(ctx context.Context, entityIDs []string, dateRange analytics.DateRange) (*CompetitorAnalytics, error) {
	if err := validateQuery(entityIDs, dateRange); err != nil {
		return nil, err
	}

	key := "competitors:" + analytics.NewBatchKey(entityIDs, dateRange).String()
	start := time.Now()
	marker := s.perfTracker.StartOperation("get_competitor_analytics", key)
	defer marker.Complete()

	if cached, ok := s.cache.Get(key); ok {
		if result, ok := cached.(*CompetitorAnalytics); ok {
			marker.AddCacheHit()
			s.lifecycle.transition(key, StateCached)
			s.logger.LogCacheOperation("competitors", key, true, time.Since(start))
			out := *result
			out.Stale = false
			return &out, nil
		}
	}
	marker.AddCacheMiss()

	if staleVal, _, found := s.cache.GetStale(key); found {
		if stale, ok := staleVal.(*CompetitorAnalytics); ok {
			s.lifecycle.transition(key, StateStale)
			s.refreshAsync(entityIDs, dateRange, key)
			out := *stale
			out.Stale = true
			return &out, nil
		}
	}

	result, err := loading.Deduplicate(s.dedup, "compute:"+key, func() (*CompetitorAnalytics, error) {
		return s.compute(ctx, entityIDs, dateRange, key)
	})
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	marker.SetSuccess(true)
	s.logger.Analytics().Info("Competitor analytics computed", "key", key, "entities", len(result.Entries), "duration", time.Since(start))
	out := *result
	out.Stale = false
	return &out, nil
}

func (s *CompetitorService) refreshAsync(entityIDs []string, dateRange analytics.DateRange, key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.FetchTimeout+config.ComputeTimeout)
		defer cancel()

		_, err := loading.Deduplicate(s.dedup, "compute:"+key, func() (*CompetitorAnalytics, error) {
			return s.compute(ctx, entityIDs, dateRange, key)
		})
		if err != nil {
			s.lifecycle.transition(key, StateError)
			s.logger.Analytics().Error("Background competitor refresh failed", "key", key, "error", err.Error())
		}
	}()
}

func (s *CompetitorService) compute(ctx context.Context, entityIDs []string, dateRange analytics.DateRange, key string) (*CompetitorAnalytics, error) {
	s.lifecycle.transition(key, StatePending)

	currentKey := analytics.NewBatchKey(entityIDs, dateRange)
	previousKey := analytics.NewBatchKey(entityIDs, dateRange.Previous())

	var wg sync.WaitGroup
	var currentRows, previousRows []analytics.AnalysisRow
	var currentErr, previousErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		currentRows, currentErr = s.loadRows(ctx, currentKey)
	}()
	go func() {
		defer wg.Done()
		previousRows, previousErr = s.loadRows(ctx, previousKey)
	}()
	wg.Wait()

	if currentErr != nil {
		s.lifecycle.transition(key, StateError)
		return nil, currentErr
	}
	if previousErr != nil {
		s.lifecycle.transition(key, StateError)
		return nil, previousErr
	}

	currentGroups := groupRows(currentRows, func(row analytics.AnalysisRow) string { return row.EntityID })
	previousGroups := groupRows(previousRows, func(row analytics.AnalysisRow) string { return row.EntityID })

	entries := make([]CompetitorEntry, 0, len(currentKey.EntityIDs))
	for _, entityID := range currentKey.EntityIDs {
		snapshot, err := s.engine.ComputeMetrics(ctx, currentGroups[entityID])
		if err != nil {
			s.lifecycle.transition(key, StateError)
			return nil, fmt.Errorf("entity %s: %w", entityID, err)
		}
		previousSnapshot, err := s.engine.ComputeMetrics(ctx, previousGroups[entityID])
		if err != nil {
			s.lifecycle.transition(key, StateError)
			return nil, fmt.Errorf("entity %s previous window: %w", entityID, err)
		}

		entries = append(entries, CompetitorEntry{
			EntityID: entityID,
			Trend:    aggregation.Trend(snapshot, previousSnapshot),
			Snapshot: snapshot,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Snapshot, entries[j].Snapshot
		if a.VisibilityScore != b.VisibilityScore {
			return a.VisibilityScore > b.VisibilityScore
		}
		if a.TotalMentions != b.TotalMentions {
			return a.TotalMentions > b.TotalMentions
		}
		return entries[i].EntityID < entries[j].EntityID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	result := &CompetitorAnalytics{
		Entries:    entries,
		Range:      dateRange,
		ComputedAt: time.Now().UTC(),
	}

	s.cache.Set(key, result, s.ttl)
	s.lifecycle.transition(key, StateCached)
	return result, nil
}

func (s *CompetitorService) loadRows(ctx context.Context, key analytics.BatchKey) ([]analytics.AnalysisRow, error) {
	return loading.Deduplicate(s.dedup, key.String(), func() ([]analytics.AnalysisRow, error) {
		return s.loader.Load(ctx, key)
	})
}
