package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
)

func TestOffloadedStrategyTimesOut(t *testing.T) {
	strategy := &OffloadedStrategy{
		timeout: 20 * time.Millisecond,
		compute: func(rows []analytics.AnalysisRow) *analytics.MetricsSnapshot {
			time.Sleep(200 * time.Millisecond)
			return computeSnapshot(rows)
		},
	}

	_, err := strategy.Compute(context.Background(), sampleRows())
	require.Error(t, err)
	assert.ErrorIs(t, err, analytics.ErrComputationTimeout)
}

func TestOffloadedStrategyHonorsContext(t *testing.T) {
	strategy := &OffloadedStrategy{
		timeout: time.Second,
		compute: func(rows []analytics.AnalysisRow) *analytics.MetricsSnapshot {
			time.Sleep(200 * time.Millisecond)
			return computeSnapshot(rows)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := strategy.Compute(ctx, sampleRows())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOffloadedStrategyDelivers(t *testing.T) {
	strategy := NewOffloadedStrategy(time.Second)

	snapshot, err := strategy.Compute(context.Background(), sampleRows())
	require.NoError(t, err)
	assert.Equal(t, *computeSnapshot(sampleRows()), *snapshot)
}
