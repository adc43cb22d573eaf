// Package handlers provides HTTP handlers for analytics endpoints
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptwatch/promptwatch-go/internal/application/services"
	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/caching"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
)

// AnalyticsHandlers contains all analytics-related HTTP handlers
type AnalyticsHandlers struct {
	dashboardService  *services.DashboardService
	competitorService *services.CompetitorService
	cache             *caching.Store
	logger            *logging.ChanneledLogger
	perfTracker       *performance.Tracker
}

// NewAnalyticsHandlers creates analytics handlers with injected dependencies
func NewAnalyticsHandlers(
	dashboardService *services.DashboardService,
	competitorService *services.CompetitorService,
	cache *caching.Store,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *AnalyticsHandlers {
	return &AnalyticsHandlers{
		dashboardService:  dashboardService,
		competitorService: competitorService,
		cache:             cache,
		logger:            logger,
		perfTracker:       perfTracker,
	}
}

// HandleDashboard handles GET /api/v1/analytics/dashboard
func (h *AnalyticsHandlers) HandleDashboard(c *gin.Context) {
	start := time.Now()
	h.logger.Analytics().Debug("Received dashboard request", "method", c.Request.Method, "path", c.Request.URL.Path)

	entityIDs := parseEntityIDs(c)
	period, dateRange, err := parsePeriod(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := h.dashboardService.GetDashboardData(c.Request.Context(), entityIDs, period, dateRange)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Analytics().Info("Dashboard request served",
		"entityCount", len(entityIDs),
		"period", period,
		"stale", data.Stale,
		"duration", time.Since(start))
	c.JSON(http.StatusOK, data)
}

// HandleCompetitors handles GET /api/v1/analytics/competitors
func (h *AnalyticsHandlers) HandleCompetitors(c *gin.Context) {
	start := time.Now()

	entityIDs := parseEntityIDs(c)
	_, dateRange, err := parsePeriod(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.competitorService.GetCompetitorAnalytics(c.Request.Context(), entityIDs, dateRange)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Analytics().Info("Competitor request served",
		"entityCount", len(entityIDs),
		"stale", result.Stale,
		"duration", time.Since(start))
	c.JSON(http.StatusOK, result)
}

// HandleRefresh handles POST /api/v1/analytics/refresh
func (h *AnalyticsHandlers) HandleRefresh(c *gin.Context) {
	selective, _ := strconv.ParseBool(c.DefaultQuery("selective", "false"))
	h.dashboardService.Refresh(selective)
	c.JSON(http.StatusOK, gin.H{"refreshed": true, "selective": selective})
}

// HandleStatus handles GET /api/v1/analytics/status
func (h *AnalyticsHandlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":       h.cache.Summary(),
		"queries":     h.dashboardService.QueryStates(),
		"performance": h.perfTracker.GetSummary(),
		"uptime":      h.perfTracker.Uptime().String(),
	})
}

func (h *AnalyticsHandlers) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, analytics.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, analytics.ErrComputationTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, analytics.ErrDataAccess):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseEntityIDs(c *gin.Context) []string {
	raw := c.Query("entityIds")
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

// parsePeriod resolves the requested window: an explicit startDate/endDate
// pair wins, otherwise the named period counts back from now.
func parsePeriod(c *gin.Context) (string, analytics.DateRange, error) {
	startStr := c.Query("startDate")
	endStr := c.Query("endDate")

	if startStr != "" || endStr != "" {
		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return "", analytics.DateRange{}, errors.New("invalid startDate, expected RFC3339")
		}
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return "", analytics.DateRange{}, errors.New("invalid endDate, expected RFC3339")
		}
		return "custom", analytics.DateRange{Start: start, End: end}, nil
	}

	period := c.DefaultQuery("period", "weekly")
	now := time.Now().UTC()

	var span time.Duration
	switch period {
	case "daily":
		span = 24 * time.Hour
	case "weekly":
		span = 7 * 24 * time.Hour
	case "monthly":
		span = 28 * 24 * time.Hour
	default:
		return "", analytics.DateRange{}, errors.New("unknown period, expected daily, weekly, or monthly")
	}

	return period, analytics.DateRange{Start: now.Add(-span), End: now}, nil
}
