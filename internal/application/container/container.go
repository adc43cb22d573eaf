// Package container provides dependency injection for all singleton services
package container

import (
	"github.com/promptwatch/promptwatch-go/internal/application/aggregation"
	"github.com/promptwatch/promptwatch-go/internal/application/loading"
	"github.com/promptwatch/promptwatch-go/internal/application/services"
	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/messaging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
	"github.com/promptwatch/promptwatch-go/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies.
// The cache store and loading machinery live here and are handed only to
// the orchestrating services; nothing else mutates them.
type Container struct {
	// Analytics services
	DashboardService  *services.DashboardService
	CompetitorService *services.CompetitorService
	IngestionService  *services.IngestionService

	// Infrastructure
	Cache       *caching.Store
	Sweeper     *caching.Sweeper
	Broadcaster *messaging.StalenessBroadcaster
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
}

// NewContainer creates and wires all singleton services around the given
// row repository.
func NewContainer(repo analytics.RowRepository, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *Container {
	cache := caching.NewStore(logger)
	sweeper := caching.NewSweeper(cache, config.SweepInterval, config.SweepVerbose, logger)
	broadcaster := messaging.NewStalenessBroadcaster(config.SubscriberSendBuffer, logger)

	dedup := loading.NewDeduplicator(logger)
	loader := loading.NewBatchLoader(repo.FetchRows, cache, loading.BatchLoaderConfig{
		MaxWaitTime:  config.BatchMaxWaitTime,
		MaxBatchSize: config.BatchMaxSize,
		RowCacheTTL:  config.RowCacheTTL,
		FetchTimeout: config.FetchTimeout,
	}, logger, perfTracker)

	engine := aggregation.NewEngine(config.OffloadThreshold, config.ComputeTimeout, logger, perfTracker)

	return &Container{
		DashboardService:  services.NewDashboardService(cache, dedup, loader, engine, broadcaster, logger, perfTracker),
		CompetitorService: services.NewCompetitorService(cache, dedup, loader, engine, broadcaster, logger, perfTracker),
		IngestionService:  services.NewIngestionService(repo, cache, broadcaster, logger, perfTracker),

		Cache:       cache,
		Sweeper:     sweeper,
		Broadcaster: broadcaster,
		Logger:      logger,
		PerfTracker: perfTracker,
	}
}
