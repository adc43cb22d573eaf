// Package analytics provides the concrete SQL-based implementation of the
// analysis row store collaborator.
//
// PURPOSE: persist observed analysis rows and serve the single row-fetch
// operation the batching layer flushes to. Aggregation never happens here;
// it runs over cached row sets in the application layer.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/promptwatch/promptwatch-go/internal/domain/analytics"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
	"github.com/promptwatch/promptwatch-go/internal/infrastructure/persistence/database"
	"github.com/promptwatch/promptwatch-go/pkg/config"
)

// SQLRowRepository implements analytics.RowRepository on the SQL store.
type SQLRowRepository struct {
	db     *database.DB
	logger *logging.ChanneledLogger
}

// NewSQLRowRepository creates a new instance of the repository.
func NewSQLRowRepository(db *database.DB, logger *logging.ChanneledLogger) *SQLRowRepository {
	return &SQLRowRepository{
		db:     db,
		logger: logger,
	}
}

// FetchRows returns all rows for the given entities observed within dateRange.
func (r *SQLRowRepository) FetchRows(ctx context.Context, entityIDs []string, dateRange analytics.DateRange) ([]analytics.AnalysisRow, error) {
	if len(entityIDs) == 0 {
		return []analytics.AnalysisRow{}, nil
	}

	placeholders := strings.Repeat("?,", len(entityIDs))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT id, entity_id, topic, provider, is_mentioned, rank_position, sentiment_score, confidence_score, observed_at
		FROM analysis_rows
		WHERE entity_id IN (%s) AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at`, placeholders)

	args := make([]any, 0, len(entityIDs)+2)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, dateRange.Start.UTC(), dateRange.End.UTC())

	start := time.Now()
	r.logger.Database().Debug("Executing analysis row query",
		"entityCount", len(entityIDs),
		"rangeStart", dateRange.Start,
		"rangeEnd", dateRange.End)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Database().Error("Analysis row query failed", "error", err.Error(), "entityCount", len(entityIDs))
		return nil, fmt.Errorf("%w: query analysis rows: %v", analytics.ErrDataAccess, err)
	}
	defer rows.Close()

	results := make([]analytics.AnalysisRow, 0)
	for rows.Next() {
		var row analytics.AnalysisRow
		var mentioned int
		var rank sql.NullInt64
		var sentiment, confidence sql.NullFloat64

		if err := rows.Scan(&row.ID, &row.EntityID, &row.Topic, &row.Provider, &mentioned, &rank, &sentiment, &confidence, &row.ObservedAt); err != nil {
			return nil, fmt.Errorf("%w: scan analysis row: %v", analytics.ErrDataAccess, err)
		}

		row.IsMentioned = mentioned != 0
		if rank.Valid {
			v := int(rank.Int64)
			row.RankPosition = &v
		}
		if sentiment.Valid {
			v := sentiment.Float64
			row.SentimentScore = &v
		}
		if confidence.Valid {
			v := confidence.Float64
			row.ConfidenceScore = &v
		}

		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate analysis rows: %v", analytics.ErrDataAccess, err)
	}

	duration := time.Since(start)
	r.logger.Database().Info("Analysis row query completed",
		"entityCount", len(entityIDs),
		"rowCount", len(results),
		"duration", duration)
	if duration > config.SlowQueryThreshold {
		r.logger.LogSlowQuery(query, duration)
	}

	return results, nil
}

// StoreRows persists newly observed rows, assigning ULID ids where absent.
func (r *SQLRowRepository) StoreRows(ctx context.Context, rowsToStore []analytics.AnalysisRow) error {
	if len(rowsToStore) == 0 {
		return nil
	}

	const query = `
		INSERT INTO analysis_rows (id, entity_id, topic, provider, is_mentioned, rank_position, sentiment_score, confidence_score, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	start := time.Now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin row insert: %v", analytics.ErrDataAccess, err)
	}

	for _, row := range rowsToStore {
		id := row.ID
		if id == "" {
			id = ulid.Make().String()
		}

		var rank any
		if row.RankPosition != nil {
			rank = *row.RankPosition
		}
		var sentiment any
		if row.SentimentScore != nil {
			sentiment = *row.SentimentScore
		}
		var confidence any
		if row.ConfidenceScore != nil {
			confidence = *row.ConfidenceScore
		}

		mentioned := 0
		if row.IsMentioned {
			mentioned = 1
		}

		if _, err := tx.ExecContext(ctx, query, id, row.EntityID, row.Topic, row.Provider, mentioned, rank, sentiment, confidence, row.ObservedAt.UTC()); err != nil {
			tx.Rollback()
			r.logger.Database().Error("Analysis row insert failed", "error", err.Error(), "entityId", row.EntityID)
			return fmt.Errorf("%w: insert analysis row: %v", analytics.ErrDataAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit row insert: %v", analytics.ErrDataAccess, err)
	}

	r.logger.Database().Info("Analysis rows stored",
		"rowCount", len(rowsToStore),
		"duration", time.Since(start))
	return nil
}
