// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/promptwatch/promptwatch-go/internal/application/container"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/performance"
	persistence "github.com/promptwatch/promptwatch-go/internal/infrastructure/persistence/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/persistence/database"
	"github.com/promptwatch/promptwatch-go/internal/presentation/http/server"
	"github.com/promptwatch/promptwatch-go/pkg/config"
)

// Initialize performs the complete startup sequence
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Initialize channeled logging
	logger, err := logging.NewChanneledLogger(logging.DefaultLoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Initialize performance tracking
	perfTracker := performance.NewTracker(performance.DefaultTrackerConfig())
	logger.Startup().Info("Performance tracker initialized")

	// Step 3: Connect to the analytics store
	logger.Startup().Info("Connecting to analytics store...")
	db, err := database.Connect(logger)
	if err != nil {
		return fmt.Errorf("failed to connect to analytics store: %w", err)
	}

	// Step 4: Ensure schema
	logger.Startup().Info("Ensuring analytics schema...")
	if err := persistence.NewTableCreator().CreateSchema(db.DB); err != nil {
		return fmt.Errorf("failed to create analytics schema: %w", err)
	}

	// Step 5: Create dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	repo := persistence.NewSQLRowRepository(db, logger)
	appContainer := container.NewContainer(repo, logger, perfTracker)
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 6: Start background cache sweeper
	logger.Startup().Info("Starting background cache sweeper...")
	go appContainer.Sweeper.Start(ctx)

	// Step 7: Start HTTP server
	port := config.Port
	httpServer := server.New(port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", port)

	// Wait for shutdown signal
	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()

	// Cancel background tasks
	cancelBackgroundTasks()

	// Stop server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Closing analytics store...")
	if err := db.Close(); err != nil {
		logger.Shutdown().Error("Error closing analytics store", "error", err.Error())
	} else {
		logger.Shutdown().Info("Analytics store closed successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
