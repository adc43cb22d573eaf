package analytics

import "errors"

// Error taxonomy for the analytics core. Callers classify failures with
// errors.Is; concrete messages carry the underlying cause.
var (
	// ErrDataAccess marks a failed fetch against the backing row store.
	ErrDataAccess = errors.New("data access failure")

	// ErrComputationTimeout marks an offloaded aggregation that exceeded
	// its time bound.
	ErrComputationTimeout = errors.New("aggregation computation timed out")

	// ErrValidation marks malformed or empty request parameters.
	ErrValidation = errors.New("invalid analytics request")

	// ErrCacheMiss is internal: a cache read found no fresh entry. It is
	// never returned to API consumers.
	ErrCacheMiss = errors.New("cache miss")
)
