// Package analytics defines the core data model for visibility analytics:
// observed fact rows, computed metric snapshots, and the keys used to
// address batched loads and cache entries.
package analytics

import (
	"sort"
	"strings"
	"time"
)

// AnalysisRow is one observed fact: whether an entity was mentioned by a
// provider for a topic, at what rank, and with what sentiment. Rows are
// immutable once read from the store.
//
// Optional fields are pointers so that "absent" and "zero" stay distinct.
// A nil SentimentScore means no sentiment was measured; a zero value means
// a measured neutral. The aggregation core never conflates the two.
type AnalysisRow struct {
	ID              string    `json:"id"`
	EntityID        string    `json:"entityId"`
	Topic           string    `json:"topic"`
	Provider        string    `json:"provider"`
	IsMentioned     bool      `json:"isMentioned"`
	RankPosition    *int      `json:"rankPosition,omitempty"`
	SentimentScore  *float64  `json:"sentimentScore,omitempty"`
	ConfidenceScore *float64  `json:"confidenceScore,omitempty"`
	ObservedAt      time.Time `json:"observedAt"`
}

// MetricsSnapshot is a computed aggregate over a row set and a window.
// Snapshots are never mutated after creation; recomputation replaces them.
type MetricsSnapshot struct {
	VisibilityScore   int       `json:"visibilityScore"`
	AverageRank       float64   `json:"averageRank"`
	TotalMentions     int       `json:"totalMentions"`
	SentimentScore    int       `json:"sentimentScore"`
	TotalRows         int       `json:"totalRows"`
	ActiveEntityCount int       `json:"activeEntityCount"`
	TopTopic          *string `json:"topTopic"`
	Trend             *int    `json:"trend,omitempty"`
}

// DateRange is a half-open observation window [Start, End).
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls within the window.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Duration returns the window length.
func (r DateRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Previous returns the contiguous, non-overlapping window of identical
// length immediately preceding this window's start.
func (r DateRange) Previous() DateRange {
	d := r.Duration()
	return DateRange{Start: r.Start.Add(-d), End: r.Start}
}

// Enclose returns the smallest range covering both r and other
// (min start, max end).
func (r DateRange) Enclose(other DateRange) DateRange {
	out := r
	if other.Start.Before(out.Start) {
		out.Start = other.Start
	}
	if other.End.After(out.End) {
		out.End = other.End
	}
	return out
}

// BatchKey identifies one logical load request: a set of entity ids and a
// date range. Keys with differing entity sets are never merged outside a
// shared batch window; the canonical string form addresses cache entries.
type BatchKey struct {
	EntityIDs []string  `json:"entityIds"`
	Range     DateRange `json:"range"`
}

// NewBatchKey builds a key with a deduplicated, sorted entity id set so
// that logically identical requests produce identical canonical strings.
func NewBatchKey(entityIDs []string, dateRange DateRange) BatchKey {
	seen := make(map[string]struct{}, len(entityIDs))
	ids := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return BatchKey{EntityIDs: ids, Range: dateRange}
}

// String returns the canonical cache/dedup key for this request.
func (k BatchKey) String() string {
	var b strings.Builder
	b.WriteString("rows:")
	b.WriteString(strings.Join(k.EntityIDs, ","))
	b.WriteString(":")
	b.WriteString(k.Range.Start.UTC().Format(time.RFC3339))
	b.WriteString(":")
	b.WriteString(k.Range.End.UTC().Format(time.RFC3339))
	return b.String()
}

// EntitySet returns the entity ids as a membership set.
func (k BatchKey) EntitySet() map[string]struct{} {
	set := make(map[string]struct{}, len(k.EntityIDs))
	for _, id := range k.EntityIDs {
		set[id] = struct{}{}
	}
	return set
}
