package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
)

func TestGetCompetitorAnalyticsRanksByVisibility(t *testing.T) {
	window := weeklyWindow()
	inside := window.Start.Add(time.Hour)

	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", inside, 2),
		{ID: "r2", EntityID: "brand-a", Topic: "pricing", Provider: "claude", ObservedAt: inside},
		mentionRow("r3", "brand-b", "pricing", "gpt", inside, 1),
	}}
	stack := newTestStack(t, repo)

	result, err := stack.competitors.GetCompetitorAnalytics(context.Background(), []string{"brand-a", "brand-b"}, window)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)

	assert.Equal(t, "brand-b", result.Entries[0].EntityID, "full visibility outranks partial")
	assert.Equal(t, 1, result.Entries[0].Rank)
	assert.Equal(t, 100, result.Entries[0].Snapshot.VisibilityScore)
	assert.Equal(t, 100, result.Entries[0].Trend, "no previous window reads as full growth")

	assert.Equal(t, "brand-a", result.Entries[1].EntityID)
	assert.Equal(t, 2, result.Entries[1].Rank)
	assert.Equal(t, 50, result.Entries[1].Snapshot.VisibilityScore)
}

func TestGetCompetitorAnalyticsIncludesSilentEntities(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	result, err := stack.competitors.GetCompetitorAnalytics(context.Background(), []string{"brand-a", "brand-c"}, window)
	require.NoError(t, err)
	require.Len(t, result.Entries, 2, "an entity with no rows still appears with an empty snapshot")

	assert.Equal(t, "brand-c", result.Entries[1].EntityID)
	assert.Equal(t, 0, result.Entries[1].Snapshot.TotalRows)
	assert.Equal(t, 0, result.Entries[1].Trend)
}

func TestGetCompetitorAnalyticsCacheHit(t *testing.T) {
	window := weeklyWindow()
	repo := &fakeRowRepository{rows: []analytics.AnalysisRow{
		mentionRow("r1", "brand-a", "pricing", "gpt", window.Start.Add(time.Hour), 1),
	}}
	stack := newTestStack(t, repo)

	_, err := stack.competitors.GetCompetitorAnalytics(context.Background(), []string{"brand-a"}, window)
	require.NoError(t, err)
	fetchesAfterFirst := repo.fetchCount()

	result, err := stack.competitors.GetCompetitorAnalytics(context.Background(), []string{"brand-a"}, window)
	require.NoError(t, err)

	assert.Equal(t, fetchesAfterFirst, repo.fetchCount())
	assert.False(t, result.Stale)
}

func TestGetCompetitorAnalyticsValidation(t *testing.T) {
	stack := newTestStack(t, &fakeRowRepository{})

	_, err := stack.competitors.GetCompetitorAnalytics(context.Background(), nil, weeklyWindow())
	assert.ErrorIs(t, err, analytics.ErrValidation)
}
