// Package postgres keeps the run ledger: one row per invocation and one
// per finished unit, so analyses stay auditable across machines. The
// ledger is optional and only wired up when DATABASE_URL is set.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"connectomix/domain/core"
	"connectomix/domain/run"
	"connectomix/internal"
	"connectomix/internal/errors"
	"connectomix/ports"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens and verifies a database connection
func Connect(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	return db, nil
}

// Ledger records invocations and outcomes. It satisfies the ledger
// port.
type Ledger struct {
	db  *sqlx.DB
	log *internal.Logger
}

// NewLedger creates a ledger over an open connection
func NewLedger(db *sqlx.DB, logger *internal.Logger) *Ledger {
	return &Ledger{db: db, log: logger.WithPrefix("ledger")}
}

// EnsureSchema creates the ledger tables when missing
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			invocation_id TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			method TEXT NOT NULL,
			measures TEXT NOT NULL,
			code_version TEXT NOT NULL,
			dataset_root TEXT NOT NULL,
			output_root TEXT NOT NULL,
			units JSONB NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			succeeded INTEGER,
			failed INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id BIGSERIAL PRIMARY KEY,
			invocation_id TEXT NOT NULL REFERENCES invocations(invocation_id),
			run_key TEXT NOT NULL,
			unit_hash TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			subject TEXT NOT NULL,
			status TEXT NOT NULL,
			original_volumes INTEGER NOT NULL,
			retained_volumes INTEGER NOT NULL,
			regions INTEGER NOT NULL,
			empty_regions INTEGER NOT NULL,
			failures JSONB,
			artifacts JSONB,
			elapsed_ms BIGINT NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS outcomes_invocation_idx ON outcomes (invocation_id)`,
		`CREATE INDEX IF NOT EXISTS outcomes_subject_idx ON outcomes (subject)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ledger schema: %w", err)
		}
	}
	return nil
}

// RecordInvocation writes the manifest row before any unit starts
func (l *Ledger) RecordInvocation(ctx context.Context, manifest *run.Manifest) error {
	unitsJSON, err := json.Marshal(manifest.Units)
	if err != nil {
		return fmt.Errorf("failed to marshal units: %w", err)
	}

	query := `
		INSERT INTO invocations (
			invocation_id, fingerprint, config_hash, method, measures,
			code_version, dataset_root, output_root, units, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = l.db.ExecContext(ctx, query,
		string(manifest.InvocationID),
		string(manifest.Fingerprint.Fingerprint),
		string(manifest.Fingerprint.ConfigHash),
		manifest.Fingerprint.Method,
		manifest.Fingerprint.Measures,
		manifest.Fingerprint.CodeVersion,
		manifest.DatasetRoot,
		manifest.OutputRoot,
		unitsJSON,
		manifest.StartedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to record invocation: %w", err)
	}
	l.log.Debug("recorded invocation %s with %d units", manifest.InvocationID, len(manifest.Units))
	return nil
}

// RecordOutcome appends one finished unit
func (l *Ledger) RecordOutcome(ctx context.Context, invocation core.InvocationID, outcome *run.Outcome) error {
	failuresJSON, err := json.Marshal(outcome.Failures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}
	artifactsJSON, err := json.Marshal(outcome.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	query := `
		INSERT INTO outcomes (
			invocation_id, run_key, unit_hash, fingerprint, subject, status,
			original_volumes, retained_volumes, regions, empty_regions,
			failures, artifacts, elapsed_ms, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = l.db.ExecContext(ctx, query,
		string(invocation),
		string(outcome.Unit.Key()),
		string(outcome.Unit.Hash()),
		string(outcome.Fingerprint),
		outcome.Unit.Subject,
		string(outcome.Status),
		outcome.OriginalVolumes,
		outcome.RetainedVolumes,
		outcome.Regions,
		outcome.EmptyRegions,
		failuresJSON,
		artifactsJSON,
		outcome.Elapsed.Milliseconds(),
		outcome.FinishedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// CompleteInvocation stamps the final tallies on the manifest row
func (l *Ledger) CompleteInvocation(ctx context.Context, invocation core.InvocationID, succeeded, failed int) error {
	query := `
		UPDATE invocations
		SET completed_at = $2, succeeded = $3, failed = $4
		WHERE invocation_id = $1`

	res, err := l.db.ExecContext(ctx, query, string(invocation), time.Now(), succeeded, failed)
	if err != nil {
		return fmt.Errorf("failed to complete invocation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFound("invocation " + string(invocation))
	}
	return nil
}

// GetInvocation loads a recorded manifest
func (l *Ledger) GetInvocation(ctx context.Context, invocation core.InvocationID) (*run.Manifest, error) {
	query := `
		SELECT invocation_id, fingerprint, config_hash, method, measures,
			   code_version, dataset_root, output_root, units, started_at
		FROM invocations
		WHERE invocation_id = $1`

	var (
		m         run.Manifest
		id        string
		fp        run.Fingerprint
		unitsJSON []byte
		startedAt time.Time
	)
	err := l.db.QueryRowContext(ctx, query, string(invocation)).Scan(
		&id,
		(*string)(&fp.Fingerprint),
		(*string)(&fp.ConfigHash),
		&fp.Method,
		&fp.Measures,
		&fp.CodeVersion,
		&m.DatasetRoot,
		&m.OutputRoot,
		&unitsJSON,
		&startedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("invocation " + string(invocation))
		}
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}

	if err := json.Unmarshal(unitsJSON, &m.Units); err != nil {
		return nil, fmt.Errorf("failed to unmarshal units: %w", err)
	}
	m.InvocationID = core.InvocationID(id)
	m.Fingerprint = fp
	m.StartedAt = core.NewTimestamp(startedAt)
	return &m, nil
}

// ListOutcomes returns recorded outcomes newest first, narrowed by the
// filters
func (l *Ledger) ListOutcomes(ctx context.Context, filters ports.OutcomeFilters) ([]run.Outcome, error) {
	query := `
		SELECT run_key, fingerprint, status, original_volumes, retained_volumes,
			   regions, empty_regions, failures, artifacts, elapsed_ms, finished_at
		FROM outcomes
		WHERE 1=1`

	var args []interface{}
	arg := 0
	next := func(v interface{}) string {
		arg++
		args = append(args, v)
		return fmt.Sprintf("$%d", arg)
	}

	if filters.Invocation != nil {
		query += " AND invocation_id = " + next(string(*filters.Invocation))
	}
	if filters.Status != nil {
		query += " AND status = " + next(string(*filters.Status))
	}
	if filters.Subject != "" {
		query += " AND subject = " + next(filters.Subject)
	}
	query += " ORDER BY finished_at DESC"
	if filters.Limit > 0 {
		query += " LIMIT " + next(filters.Limit)
	}
	if filters.Offset > 0 {
		query += " OFFSET " + next(filters.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []run.Outcome
	for rows.Next() {
		var (
			o             run.Outcome
			runKey        string
			failuresJSON  []byte
			artifactsJSON []byte
			elapsedMs     int64
			finishedAt    time.Time
		)
		err := rows.Scan(
			&runKey,
			(*string)(&o.Fingerprint),
			(*string)(&o.Status),
			&o.OriginalVolumes,
			&o.RetainedVolumes,
			&o.Regions,
			&o.EmptyRegions,
			&failuresJSON,
			&artifactsJSON,
			&elapsedMs,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if len(failuresJSON) > 0 {
			if err := json.Unmarshal(failuresJSON, &o.Failures); err != nil {
				return nil, fmt.Errorf("failed to unmarshal failures: %w", err)
			}
		}
		if len(artifactsJSON) > 0 {
			if err := json.Unmarshal(artifactsJSON, &o.Artifacts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
			}
		}
		unit, err := run.ParseUnit(runKey)
		if err != nil {
			return nil, fmt.Errorf("bad run key %q in ledger: %w", runKey, err)
		}
		o.Unit = unit
		o.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		o.FinishedAt = core.NewTimestamp(finishedAt)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
