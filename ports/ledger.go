package ports

import (
	"context"

	"connectomix/domain/core"
	"connectomix/domain/run"
)

// LedgerWriterPort provides append-only write access to run records.
// The manifest is recorded before any unit starts; outcomes are appended
// as units finish.
type LedgerWriterPort interface {
	RecordInvocation(ctx context.Context, manifest *run.Manifest) error
	RecordOutcome(ctx context.Context, invocation core.InvocationID, outcome *run.Outcome) error
	CompleteInvocation(ctx context.Context, invocation core.InvocationID, succeeded, failed int) error
}

// LedgerReaderPort provides read-only access to recorded runs
type LedgerReaderPort interface {
	GetInvocation(ctx context.Context, invocation core.InvocationID) (*run.Manifest, error)
	ListOutcomes(ctx context.Context, filters OutcomeFilters) ([]run.Outcome, error)
}

// OutcomeFilters narrows outcome queries
type OutcomeFilters struct {
	Invocation *core.InvocationID
	Status     *run.Status
	Subject    string
	Limit      int
	Offset     int
}

// LedgerPort combines read and write access
type LedgerPort interface {
	LedgerWriterPort
	LedgerReaderPort
}
