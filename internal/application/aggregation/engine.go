// Package aggregation turns raw analysis rows into metric snapshots. The
// fold is pure, single-pass, and order-independent; execution either runs
// inline or is offloaded to a worker goroutine for large row sets.
package aggregation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
)

// Engine computes metric snapshots, selecting the inline or offloaded
// strategy by row count. Both strategies run the identical fold.
type Engine struct {
	offloadThreshold int
	inline           ComputeStrategy
	offloaded        ComputeStrategy
	logger           *logging.ChanneledLogger
	perfTracker      *performance.Tracker
}

// NewEngine creates an engine. Row sets larger than offloadThreshold are
// computed on a worker goroutine bounded by computeTimeout.
func NewEngine(offloadThreshold int, computeTimeout time.Duration, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *Engine {
	return &Engine{
		offloadThreshold: offloadThreshold,
		inline:           InlineStrategy{},
		offloaded:        NewOffloadedStrategy(computeTimeout),
		logger:           logger,
		perfTracker:      perfTracker,
	}
}

// ComputeMetrics folds rows into a snapshot. The strategy choice never
// changes the result, only where the work runs.
func (e *Engine) ComputeMetrics(ctx context.Context, rows []analytics.AnalysisRow) (*analytics.MetricsSnapshot, error) {
	start := time.Now()
	marker := e.perfTracker.StartOperation("compute_metrics", fmt.Sprintf("rows=%d", len(rows)))
	defer marker.Complete()

	strategy := e.inline
	path := "inline"
	if len(rows) > e.offloadThreshold {
		strategy = e.offloaded
		path = "offloaded"
	}
	marker.AddMetadata("path", path)

	snapshot, err := strategy.Compute(ctx, rows)
	if err != nil {
		marker.SetError(err)
		e.logger.Analytics().Error("Metrics computation failed", "error", err.Error(), "rowCount", len(rows), "path", path)
		return nil, err
	}

	marker.SetSuccess(true)
	e.logger.Analytics().Debug("Metrics computed", "rowCount", len(rows), "path", path, "duration", time.Since(start))
	return snapshot, nil
}

// computeSnapshot is the shared fold. It must stay deterministic for a
// given input so that repeated calls and both execution paths produce
// identical snapshots.
func computeSnapshot(rows []analytics.AnalysisRow) *analytics.MetricsSnapshot {
	totalRows := len(rows)

	mentioned := 0
	rankSum := 0
	rankCount := 0
	sentimentSum := 0.0
	sentimentCount := 0

	entities := make(map[string]struct{})
	topicCounts := make(map[string]int)
	topicOrder := make([]string, 0)

	for _, row := range rows {
		if row.EntityID != "" {
			entities[row.EntityID] = struct{}{}
		}

		if row.IsMentioned {
			mentioned++

			if row.RankPosition != nil {
				rankSum += *row.RankPosition
				rankCount++
			}

			if row.Topic != "" {
				if _, seen := topicCounts[row.Topic]; !seen {
					topicOrder = append(topicOrder, row.Topic)
				}
				topicCounts[row.Topic]++
			}
		}

		// Absent sentiment is excluded from the average; it is not a
		// neutral zero. Any neutral substitution belongs to presentation.
		if row.SentimentScore != nil {
			sentimentSum += *row.SentimentScore
			sentimentCount++
		}
	}

	snapshot := &analytics.MetricsSnapshot{
		TotalRows:         totalRows,
		TotalMentions:     mentioned,
		ActiveEntityCount: len(entities),
	}

	if totalRows > 0 {
		snapshot.VisibilityScore = int(math.Round(float64(mentioned) / float64(totalRows) * 100))
	}

	if rankCount > 0 {
		snapshot.AverageRank = math.Round(float64(rankSum)/float64(rankCount)*10) / 10
	}

	if sentimentCount > 0 {
		// Maps the mean sentiment in [-1,1] onto [0,100].
		snapshot.SentimentScore = int(math.Round((sentimentSum/float64(sentimentCount) + 1) * 50))
	}

	// Highest mention count wins; ties break by first-encountered order.
	best := ""
	bestCount := 0
	for _, topic := range topicOrder {
		if topicCounts[topic] > bestCount {
			best = topic
			bestCount = topicCounts[topic]
		}
	}
	if best != "" {
		snapshot.TopTopic = &best
	}

	return snapshot
}
