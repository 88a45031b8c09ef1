// Package testkit provides the in-memory run ledger and a deterministic
// synthetic data generator. The ledger always backs the invocation
// report; the generator builds small BOLD datasets with known embedded
// signals so pipeline tests can assert recovered connectivity.
package testkit

import (
	"context"
	"sort"
	"sync"

	"connectomix/domain/core"
	"connectomix/domain/run"
	"connectomix/internal/errors"
	"connectomix/ports"
)

// InMemoryLedger implements ports.LedgerPort with map storage. Every
// invocation uses one; the Postgres adapter is the durable counterpart
// and only attaches when DATABASE_URL is set.
type InMemoryLedger struct {
	mu          sync.RWMutex
	invocations map[core.InvocationID]*run.Manifest
	outcomes    []storedOutcome
}

type storedOutcome struct {
	invocation core.InvocationID
	outcome    run.Outcome
}

// NewInMemoryLedger creates an empty ledger
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		invocations: make(map[core.InvocationID]*run.Manifest),
	}
}

// RecordInvocation stores the manifest
func (l *InMemoryLedger) RecordInvocation(ctx context.Context, manifest *run.Manifest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := *manifest
	copied.Units = append([]run.Unit(nil), manifest.Units...)
	l.invocations[manifest.InvocationID] = &copied
	return nil
}

// RecordOutcome appends one unit result
func (l *InMemoryLedger) RecordOutcome(ctx context.Context, invocation core.InvocationID, outcome *run.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, storedOutcome{invocation: invocation, outcome: *outcome})
	return nil
}

// CompleteInvocation marks the invocation finished. The in-memory form
// keeps no completion columns, so this only checks the id is known.
func (l *InMemoryLedger) CompleteInvocation(ctx context.Context, invocation core.InvocationID, succeeded, failed int) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.invocations[invocation]; !ok {
		return errors.NotFound("invocation " + invocation.String())
	}
	return nil
}

// GetInvocation returns the stored manifest
func (l *InMemoryLedger) GetInvocation(ctx context.Context, invocation core.InvocationID) (*run.Manifest, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.invocations[invocation]
	if !ok {
		return nil, errors.NotFound("invocation " + invocation.String())
	}
	copied := *m
	copied.Units = append([]run.Unit(nil), m.Units...)
	return &copied, nil
}

// ListOutcomes returns matching outcomes, most recently finished first
func (l *InMemoryLedger) ListOutcomes(ctx context.Context, filters ports.OutcomeFilters) ([]run.Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []run.Outcome
	for _, s := range l.outcomes {
		if filters.Invocation != nil && s.invocation != *filters.Invocation {
			continue
		}
		if filters.Status != nil && s.outcome.Status != *filters.Status {
			continue
		}
		if filters.Subject != "" && s.outcome.Unit.Subject != filters.Subject {
			continue
		}
		matched = append(matched, s.outcome)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].FinishedAt.After(matched[j].FinishedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(matched) {
		matched = matched[:filters.Limit]
	}
	return matched, nil
}
