package analytics

import "context"

// RowRepository is the collaborator contract for the persistent row store.
// The analytics core treats it as a simple row-fetch surface; retry and
// backoff policy is left to implementations or their callers.
type RowRepository interface {
	// FetchRows returns all rows for the given entity ids whose ObservedAt
	// falls within dateRange. Failures wrap ErrDataAccess.
	FetchRows(ctx context.Context, entityIDs []string, dateRange DateRange) ([]AnalysisRow, error)

	// StoreRows persists newly observed rows, assigning ids where absent.
	StoreRows(ctx context.Context, rows []AnalysisRow) error
}
