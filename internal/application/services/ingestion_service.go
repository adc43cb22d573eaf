package services

import (
	"context"
	"fmt"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/messaging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
)

// IngestionService persists newly observed analysis rows and invalidates
// the cached composites they affect.
type IngestionService struct {
	repo        analytics.RowRepository
	cache       *caching.Store
	broadcaster *messaging.StalenessBroadcaster
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewIngestionService creates the row ingestion service
func NewIngestionService(
	repo analytics.RowRepository,
	cache *caching.Store,
	broadcaster *messaging.StalenessBroadcaster,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *IngestionService {
	return &IngestionService{
		repo:        repo,
		cache:       cache,
		broadcaster: broadcaster,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// IngestRows validates and stores rows, then drops every cached row set and
// composite so the next read observes the new facts.
func (s *IngestionService) IngestRows(ctx context.Context, rows []analytics.AnalysisRow) (int, error) {
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no rows supplied", analytics.ErrValidation)
	}
	for i, row := range rows {
		if row.EntityID == "" || row.Topic == "" || row.Provider == "" {
			return 0, fmt.Errorf("%w: row %d is missing entity, topic, or provider", analytics.ErrValidation, i)
		}
		if row.ObservedAt.IsZero() {
			return 0, fmt.Errorf("%w: row %d has no observation time", analytics.ErrValidation, i)
		}
	}

	start := time.Now()
	marker := s.perfTracker.StartOperation("ingest_rows", fmt.Sprintf("rows=%d", len(rows)))
	defer marker.Complete()

	if err := s.repo.StoreRows(ctx, rows); err != nil {
		marker.SetError(err)
		return 0, err
	}

	invalidated := s.cache.InvalidatePrefix("rows:")
	invalidated += s.cache.InvalidatePrefix("dashboard:")
	invalidated += s.cache.InvalidatePrefix("breakdown:")
	invalidated += s.cache.InvalidatePrefix("competitors:")
	s.broadcaster.Broadcast("*", string(StateStale))

	marker.SetSuccess(true)
	marker.AddMetadata("invalidated", invalidated)
	s.logger.Analytics().Info("Rows ingested",
		"rowCount", len(rows),
		"invalidated", invalidated,
		"duration", time.Since(start))
	return len(rows), nil
}
