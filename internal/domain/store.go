package domain

import "context"

// ObservationStore is the batch runner's view of persistence.
type ObservationStore interface {
	// CountUnhandled returns how many observations are awaiting processing.
	CountUnhandled(ctx context.Context) (int, error)
	// FetchUnhandled returns up to limit unhandled observations in id order.
	FetchUnhandled(ctx context.Context, limit int) ([]Observation, error)
	// Begin opens a unit of work for recording results.
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork groups result writes into one transaction. It is not safe for
// concurrent use.
type UnitOfWork interface {
	// Record inserts the result and marks its observation handled. Either
	// both effects apply or neither does.
	Record(ctx context.Context, result PredictionResult) error
	// RecordFailure notes a failed attempt for an observation.
	RecordFailure(ctx context.Context, observationID int64, cause error) error
	Commit() error
	// Rollback discards uncommitted work. Safe to call after Commit.
	Rollback() error
}
