// Package services contains the orchestration layer that composes caching,
// deduplication, batch loading, and aggregation into composite analytics
// answers for the dashboard and competitor panels.
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

// TopicRanking is one entry of the per-topic mention ranking
type TopicRanking struct {
	Topic    string `json:"topic"`
	Mentions int    `json:"mentions"`
	Rank     int    `json:"rank"`
}

// ProviderStats is the metric snapshot for one answer provider
type ProviderStats struct {
	Provider string                     `json:"provider"`
	Snapshot *analytics.MetricsSnapshot `json:"snapshot"`
}

// EntityStats is the metric snapshot for one tracked entity
type EntityStats struct {
	EntityID string                     `json:"entityId"`
	Snapshot *analytics.MetricsSnapshot `json:"snapshot"`
}

// DashboardData is the composite response assembled by the orchestrator.
// Secondary sections that failed are absent and reported in SectionErrors;
// a failure there never fails the whole response.
type DashboardData struct {
	Current       *analytics.MetricsSnapshot `json:"current"`
	Previous      *analytics.MetricsSnapshot `json:"previous"`
	Trend         int                        `json:"trend"`
	TopicRankings []TopicRanking             `json:"topicRankings"`
	Providers     []ProviderStats            `json:"providers"`
	Entities      []EntityStats              `json:"entities"`
	SectionErrors map[string]string          `json:"sectionErrors,omitempty"`
	Period        string                     `json:"period"`
	Range         analytics.DateRange        `json:"range"`
	Stale         bool                       `json:"stale"`
	Error         string                     `json:"error,omitempty"`
	ComputedAt    time.Time                  `json:"computedAt"`
}

// DashboardService orchestrates composite dashboard queries. It owns the
// cache store and the loading machinery exclusively; consumers only ever
// receive copies of cached values.
type DashboardService struct {
	cache        *caching.Store
	dedup        *loading.Deduplicator
	loader       *loading.BatchLoader
	engine       *aggregation.Engine
	lifecycle    *lifecycleTracker
	logger       *logging.ChanneledLogger
	perfTracker  *performance.Tracker
	dashboardTTL time.Duration
	breakdownTTL time.Duration
}

// NewDashboardService creates the dashboard orchestrator
func NewDashboardService(
	cache *caching.Store,
	dedup *loading.Deduplicator,
	loader *loading.BatchLoader,
	engine *aggregation.Engine,
	broadcaster *messaging.StalenessBroadcaster,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *DashboardService {
	return &DashboardService{
		cache:        cache,
		dedup:        dedup,
		loader:       loader,
		engine:       engine,
		lifecycle:    newLifecycleTracker(broadcaster),
		logger:       logger,
		perfTracker:  perfTracker,
		dashboardTTL: config.DashboardTTL,
		breakdownTTL: config.BreakdownTTL,
	}
}

// GetDashboardData answers a composite dashboard query. Fresh cache entries
// return immediately; stale entries are served optimistically, flagged,
// while a background refresh runs; misses compute synchronously, coalesced
// so identical concurrent queries share one computation.
func (s *DashboardService) GetDashboardData(ctx context.Context, entityIDs []string, period string, dateRange analytics.DateRange) (*DashboardData, error) {
	if err := validateQuery(entityIDs, dateRange); err != nil {
		return nil, err
	}

	key := dashboardKey(entityIDs, period, dateRange)
	start := time.Now()
	marker := s.perfTracker.StartOperation("get_dashboard_data", key)
	defer marker.Complete()

	if cached, ok := s.cache.Get(key); ok {
		if data, ok := cached.(*DashboardData); ok {
			marker.AddCacheHit()
			s.lifecycle.transition(key, StateCached)
			s.logger.LogCacheOperation("dashboard", key, true, time.Since(start))
			return cloneDashboard(data, false, ""), nil
		}
	}
	marker.AddCacheMiss()

	if staleVal, _, found := s.cache.GetStale(key); found {
		if stale, ok := staleVal.(*DashboardData); ok {
			s.lifecycle.transition(key, StateStale)
			s.refreshAsync(entityIDs, period, dateRange, key)
			s.logger.Analytics().Info("Serving stale dashboard while refresh is pending", "key", key)
			return cloneDashboard(stale, true, ""), nil
		}
	}

	data, err := loading.Deduplicate(s.dedup, "compute:"+key, func() (*DashboardData, error) {
		return s.compute(ctx, entityIDs, period, dateRange, key)
	})
	if err != nil {
		marker.SetError(err)
		return nil, err
	}

	marker.SetSuccess(true)
	s.logger.Analytics().Info("Dashboard computed", "key", key, "duration", time.Since(start))
	return cloneDashboard(data, false, ""), nil
}

// Refresh invalidates cached composites. Selective refresh drops only
// entries whose TTL has elapsed; a full refresh clears the namespace and
// forces refetch on the next read.
func (s *DashboardService) Refresh(selective bool) {
	if selective {
		removed := s.cache.InvalidateExpired()
		s.logger.Cache().Info("Selective refresh completed", "removed", removed)
		return
	}

	s.cache.Clear()
	s.lifecycle.resetAll()
	s.logger.Cache().Info("Full refresh: cache cleared")
}

// QueryStates exposes the lifecycle state table for the status endpoint
func (s *DashboardService) QueryStates() map[string]string {
	return s.lifecycle.snapshot()
}

// refreshAsync recomputes a stale key in the background. Deduplication
// guarantees a single refresh per key no matter how many stale reads
// trigger one.
func (s *DashboardService) refreshAsync(entityIDs []string, period string, dateRange analytics.DateRange, key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), config.FetchTimeout+config.ComputeTimeout)
		defer cancel()

		_, err := loading.Deduplicate(s.dedup, "compute:"+key, func() (*DashboardData, error) {
			return s.compute(ctx, entityIDs, period, dateRange, key)
		})
		if err != nil {
			// The stale value stays available; the key is flagged instead.
			s.lifecycle.transition(key, StateError)
			s.logger.Analytics().Error("Background refresh failed", "key", key, "error", err.Error())
		}
	}()
}

func (s *DashboardService) compute(ctx context.Context, entityIDs []string, period string, dateRange analytics.DateRange, key string) (*DashboardData, error) {
	start := time.Now()
	s.lifecycle.transition(key, StatePending)

	currentKey := analytics.NewBatchKey(entityIDs, dateRange)
	previousKey := analytics.NewBatchKey(entityIDs, dateRange.Previous())

	// Both window loads go out together so they join the same batch window
	// and collapse into one underlying fetch.
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

	var current, previous *analytics.MetricsSnapshot
	var currentAggErr, previousAggErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		current, currentAggErr = s.engine.ComputeMetrics(ctx, currentRows)
	}()
	go func() {
		defer wg.Done()
		previous, previousAggErr = s.engine.ComputeMetrics(ctx, previousRows)
	}()
	wg.Wait()

	if currentAggErr != nil {
		s.lifecycle.transition(key, StateError)
		return nil, currentAggErr
	}
	if previousAggErr != nil {
		s.lifecycle.transition(key, StateError)
		return nil, previousAggErr
	}

	trend := aggregation.Trend(current, previous)
	flagged := *current
	flagged.Trend = &trend

	data := &DashboardData{
		Current:       &flagged,
		Previous:      previous,
		Trend:         trend,
		SectionErrors: make(map[string]string),
		Period:        period,
		Range:         dateRange,
		ComputedAt:    time.Now().UTC(),
	}

	// Fan out independent secondary aggregations. Each failure is captured
	// per section; the composite response still succeeds.
	var sectionMu sync.Mutex
	sections := []struct {
		name string
		run  func() error
	}{
		{"topicRankings", func() error {
			data.TopicRankings = computeTopicRankings(currentRows)
			return nil
		}},
		{"providers", func() error {
			stats, err := s.computeProviderStats(ctx, currentRows, key)
			if err != nil {
				return err
			}
			data.Providers = stats
			return nil
		}},
		{"entities", func() error {
			stats, err := s.computeEntityStats(ctx, currentRows, key)
			if err != nil {
				return err
			}
			data.Entities = stats
			return nil
		}},
	}

	wg.Add(len(sections))
	for _, section := range sections {
		go func(name string, run func() error) {
			defer wg.Done()
			if err := run(); err != nil {
				sectionMu.Lock()
				data.SectionErrors[name] = err.Error()
				sectionMu.Unlock()
				s.logger.Analytics().Error("Dashboard section failed", "section", name, "key", key, "error", err.Error())
			}
		}(section.name, section.run)
	}
	wg.Wait()

	if len(data.SectionErrors) == 0 {
		data.SectionErrors = nil
	}

	s.cache.Set(key, data, s.dashboardTTL)
	s.lifecycle.transition(key, StateCached)

	s.logger.Analytics().Info("Dashboard composite assembled",
		"key", key,
		"currentRows", len(currentRows),
		"previousRows", len(previousRows),
		"trend", trend,
		"duration", time.Since(start))
	return data, nil
}

// loadRows goes through the deduplicator into the batch loader, so N
// identical concurrent loads share one batched execution.
func (s *DashboardService) loadRows(ctx context.Context, key analytics.BatchKey) ([]analytics.AnalysisRow, error) {
	return loading.Deduplicate(s.dedup, key.String(), func() ([]analytics.AnalysisRow, error) {
		return s.loader.Load(ctx, key)
	})
}

// computeProviderStats aggregates the current window per provider. The
// breakdown moves slowly, so it caches on its own longer TTL and is reused
// across composite recomputes.
func (s *DashboardService) computeProviderStats(ctx context.Context, rows []analytics.AnalysisRow, key string) ([]ProviderStats, error) {
	cacheKey := "breakdown:providers:" + key
	if cached, ok := s.cache.Get(cacheKey); ok {
		if stats, ok := cached.([]ProviderStats); ok {
			return stats, nil
		}
	}

	groups := groupRows(rows, func(row analytics.AnalysisRow) string { return row.Provider })

	providers := make([]string, 0, len(groups))
	for provider := range groups {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	stats := make([]ProviderStats, 0, len(providers))
	for _, provider := range providers {
		snapshot, err := s.engine.ComputeMetrics(ctx, groups[provider])
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", provider, err)
		}
		stats = append(stats, ProviderStats{Provider: provider, Snapshot: snapshot})
	}

	s.cache.Set(cacheKey, stats, s.breakdownTTL)
	return stats, nil
}

// computeEntityStats aggregates the current window per entity, ordered by
// visibility score descending.
func (s *DashboardService) computeEntityStats(ctx context.Context, rows []analytics.AnalysisRow, key string) ([]EntityStats, error) {
	cacheKey := "breakdown:entities:" + key
	if cached, ok := s.cache.Get(cacheKey); ok {
		if stats, ok := cached.([]EntityStats); ok {
			return stats, nil
		}
	}

	groups := groupRows(rows, func(row analytics.AnalysisRow) string { return row.EntityID })

	entities := make([]string, 0, len(groups))
	for entity := range groups {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	stats := make([]EntityStats, 0, len(entities))
	for _, entity := range entities {
		snapshot, err := s.engine.ComputeMetrics(ctx, groups[entity])
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", entity, err)
		}
		stats = append(stats, EntityStats{EntityID: entity, Snapshot: snapshot})
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Snapshot.VisibilityScore > stats[j].Snapshot.VisibilityScore
	})

	s.cache.Set(cacheKey, stats, s.breakdownTTL)
	return stats, nil
}

// computeTopicRankings ranks topics by mention count, ties broken by
// first-encountered order.
func computeTopicRankings(rows []analytics.AnalysisRow) []TopicRanking {
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, row := range rows {
		if !row.IsMentioned || row.Topic == "" {
			continue
		}
		if _, seen := counts[row.Topic]; !seen {
			order = append(order, row.Topic)
		}
		counts[row.Topic]++
	}

	rankings := make([]TopicRanking, 0, len(order))
	for _, topic := range order {
		rankings = append(rankings, TopicRanking{Topic: topic, Mentions: counts[topic]})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].Mentions > rankings[j].Mentions
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}

	return rankings
}

func groupRows(rows []analytics.AnalysisRow, keyFn func(analytics.AnalysisRow) string) map[string][]analytics.AnalysisRow {
	groups := make(map[string][]analytics.AnalysisRow)
	for _, row := range rows {
		k := keyFn(row)
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], row)
	}
	return groups
}

// cloneDashboard returns a copy of the cached composite so callers never
// hold live aliases into the cache. Nested snapshots and slices are
// immutable once assembled, so a shallow copy suffices.
func cloneDashboard(data *DashboardData, stale bool, errMsg string) *DashboardData {
	out := *data
	out.Stale = stale
	out.Error = errMsg
	return &out
}

func dashboardKey(entityIDs []string, period string, dateRange analytics.DateRange) string {
	return "dashboard:" + period + ":" + analytics.NewBatchKey(entityIDs, dateRange).String()
}

func validateQuery(entityIDs []string, dateRange analytics.DateRange) error {
	hasEntity := false
	for _, id := range entityIDs {
		if id != "" {
			hasEntity = true
			break
		}
	}
	if !hasEntity {
		return fmt.Errorf("%w: no entity ids supplied", analytics.ErrValidation)
	}
	if !dateRange.End.After(dateRange.Start) {
		return fmt.Errorf("%w: date range end must follow start", analytics.ErrValidation)
	}
	return nil
}
