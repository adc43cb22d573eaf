package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
)

// ComputeStrategy abstracts where the aggregation fold runs. Every
// implementation must produce an identical snapshot for identical input.
type ComputeStrategy interface {
	Compute(ctx context.Context, rows []analytics.AnalysisRow) (*analytics.MetricsSnapshot, error)
}

// InlineStrategy runs the fold on the caller's goroutine
type InlineStrategy struct{}

// Compute folds rows synchronously
func (InlineStrategy) Compute(_ context.Context, rows []analytics.AnalysisRow) (*analytics.MetricsSnapshot, error) {
	return computeSnapshot(rows), nil
}

// OffloadedStrategy runs the fold on a worker goroutine so large inputs do
// not block the caller's execution context. The computation is bounded by a
// timeout; exceeding it fails with ErrComputationTimeout instead of hanging.
type OffloadedStrategy struct {
	timeout time.Duration
	compute func([]analytics.AnalysisRow) *analytics.MetricsSnapshot
}

// NewOffloadedStrategy creates an offloaded strategy with the given bound
func NewOffloadedStrategy(timeout time.Duration) *OffloadedStrategy {
	return &OffloadedStrategy{
		timeout: timeout,
		compute: computeSnapshot,
	}
}

// Compute folds rows on a worker goroutine, honoring ctx and the timeout.
// The worker is left to finish and its buffered result is dropped when the
// bound is exceeded; only the timeout forces cancellation here.
func (s *OffloadedStrategy) Compute(ctx context.Context, rows []analytics.AnalysisRow) (*analytics.MetricsSnapshot, error) {
	result := make(chan *analytics.MetricsSnapshot, 1)

	go func() {
		result <- s.compute(rows)
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case snapshot := <-result:
		return snapshot, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: offloaded computation exceeded %s for %d rows", analytics.ErrComputationTimeout, s.timeout, len(rows))
	}
}
