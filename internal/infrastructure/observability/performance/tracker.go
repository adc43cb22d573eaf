package performance

import (
	"fmt"
	"sync"
	"time"
)

// Tracker manages performance markers and aggregates operation statistics
type Tracker struct {
	markers map[string]*Marker
	mu      sync.RWMutex
	started time.Time
	config  *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers    int           `json:"maxMarkers"`    // Maximum number of markers to retain
	SlowThreshold time.Duration `json:"slowThreshold"` // Duration above which an operation is slow
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:    10000,
		SlowThreshold: time.Second,
	}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	return &Tracker{
		markers: make(map[string]*Marker),
		started: time.Now(),
		config:  config,
	}
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, scope string) *Marker {
	marker := &Marker{
		Operation: operation,
		Scope:     scope,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true,
	}

	markerID := fmt.Sprintf("%s_%s_%d", operation, scope, time.Now().UnixNano())

	t.mu.Lock()
	if len(t.markers) < t.config.MaxMarkers {
		t.markers[markerID] = marker
	}
	t.mu.Unlock()

	return marker
}

// OperationStats summarizes completed markers for one operation name
type OperationStats struct {
	Operation     string        `json:"operation"`
	Count         int           `json:"count"`
	Failures      int           `json:"failures"`
	SlowCount     int           `json:"slowCount"`
	TotalDuration time.Duration `json:"totalDuration"`
	MaxDuration   time.Duration `json:"maxDuration"`
}

// AverageDuration returns the mean duration across completed operations
func (s *OperationStats) AverageDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// GetSummary returns aggregate statistics grouped by operation name
func (t *Tracker) GetSummary() map[string]*OperationStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := make(map[string]*OperationStats)
	for _, marker := range t.markers {
		if !marker.Completed {
			continue
		}

		stats, exists := summary[marker.Operation]
		if !exists {
			stats = &OperationStats{Operation: marker.Operation}
			summary[marker.Operation] = stats
		}

		stats.Count++
		stats.TotalDuration += marker.Duration
		if marker.Duration > stats.MaxDuration {
			stats.MaxDuration = marker.Duration
		}
		if !marker.Success {
			stats.Failures++
		}
		if marker.Duration > t.config.SlowThreshold {
			stats.SlowCount++
		}
	}

	return summary
}

// Uptime returns how long the tracker has been running
func (t *Tracker) Uptime() time.Duration {
	return time.Since(t.started)
}

// Reset discards all retained markers
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markers = make(map[string]*Marker)
}
