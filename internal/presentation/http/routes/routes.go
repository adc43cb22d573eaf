// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptwatch/promptwatch-go/internal/application/container"
	"github.com/promptwatch/promptwatch-go/internal/presentation/http/handlers"
	"github.com/promptwatch/promptwatch-go/internal/presentation/http/middleware"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	// Initialize handlers
	analyticsHandlers := handlers.NewAnalyticsHandlers(
		container.DashboardService,
		container.CompetitorService,
		container.Cache,
		container.Logger,
		container.PerfTracker,
	)
	ingestHandlers := handlers.NewIngestHandlers(container.IngestionService, container.Logger)
	realtimeHandlers := handlers.NewRealtimeHandlers(container.Broadcaster, container.Logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		analyticsAPI := api.Group("/analytics")
		{
			analyticsAPI.GET("/dashboard", analyticsHandlers.HandleDashboard)
			analyticsAPI.GET("/competitors", analyticsHandlers.HandleCompetitors)
			analyticsAPI.GET("/status", analyticsHandlers.HandleStatus)
			analyticsAPI.POST("/refresh", analyticsHandlers.HandleRefresh)
			analyticsAPI.POST("/rows", ingestHandlers.HandleIngestRows)
			analyticsAPI.GET("/subscribe", realtimeHandlers.HandleSubscribe)
		}
	}

	return r
}
