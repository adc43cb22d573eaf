package performance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOperations(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())

	marker := tracker.StartOperation("compute_metrics", "rows=10")
	marker.SetSuccess(true)
	marker.Complete()

	failed := tracker.StartOperation("compute_metrics", "rows=10")
	failed.SetError(errors.New("boom"))
	failed.Complete()

	summary := tracker.GetSummary()
	stats, ok := summary["compute_metrics"]
	require.True(t, ok)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, 1, stats.Failures)
	assert.GreaterOrEqual(t, stats.AverageDuration(), time.Duration(0))
}

func TestMarkerCacheHitRatio(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	marker := tracker.StartOperation("get_dashboard_data", "k")

	marker.AddCacheHit()
	marker.AddCacheHit()
	marker.AddCacheMiss()
	marker.Complete()

	assert.InDelta(t, 2.0/3.0, marker.GetCacheHitRatio(), 0.001)
}

func TestTrackerReset(t *testing.T) {
	tracker := NewTracker(DefaultTrackerConfig())
	tracker.StartOperation("op", "scope").Complete()
	require.NotEmpty(t, tracker.GetSummary())

	tracker.Reset()
	assert.Empty(t, tracker.GetSummary())
}
