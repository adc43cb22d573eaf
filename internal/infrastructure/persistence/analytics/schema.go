package analytics

import (
	"database/sql"
	"fmt"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS analysis_rows (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		provider TEXT NOT NULL,
		is_mentioned INTEGER NOT NULL DEFAULT 0,
		rank_position INTEGER,
		sentiment_score REAL,
		confidence_score REAL,
		observed_at DATETIME NOT NULL
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_analysis_rows_entity ON analysis_rows(entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_rows_observed ON analysis_rows(observed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_analysis_rows_entity_observed ON analysis_rows(entity_id, observed_at)`,
}

// TableCreator handles creation of the analytics schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the analytics tables and indexes.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}
