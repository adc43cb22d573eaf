package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/promptwatch/promptwatch-go/internal/application/services"
	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
)

// IngestHandlers contains handlers for analysis row ingestion
type IngestHandlers struct {
	ingestionService *services.IngestionService
	logger           *logging.ChanneledLogger
}

// NewIngestHandlers creates ingestion handlers with injected dependencies
func NewIngestHandlers(ingestionService *services.IngestionService, logger *logging.ChanneledLogger) *IngestHandlers {
	return &IngestHandlers{
		ingestionService: ingestionService,
		logger:           logger,
	}
}

type ingestRequest struct {
	Rows []analytics.AnalysisRow `json:"rows" binding:"required"`
}

// HandleIngestRows handles POST /api/v1/analytics/rows
func (h *IngestHandlers) HandleIngestRows(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	stored, err := h.ingestionService.IngestRows(c.Request.Context(), req.Rows)
	if err != nil {
		switch {
		case errors.Is(err, analytics.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, analytics.ErrDataAccess):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"stored": stored})
}
