package aggregation

import (
	"math"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
)

// Trend returns the period-over-period visibility delta as a percent.
// A zero previous score yields 100 when the current score is positive and 0
// otherwise, so a window coming up from nothing reads as full growth rather
// than a division by zero.
func Trend(current, previous *analytics.MetricsSnapshot) int {
	if previous == nil || previous.VisibilityScore == 0 {
		if current != nil && current.VisibilityScore > 0 {
			return 100
		}
		return 0
	}
	if current == nil {
		return -100
	}

	delta := float64(current.VisibilityScore-previous.VisibilityScore) / float64(previous.VisibilityScore) * 100
	return int(math.Round(delta))
}
