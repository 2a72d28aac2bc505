package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rogersf/backdp/internal/domain"
)

// RunRepo handles persistence for Run records.
type RunRepo struct{}

const runColumns = `run_id, status, gamma, time_steps, params_json, optimal_value, failure_reason, state_version, last_event_seq, created_at_unix, updated_at_unix`

// CreateTx inserts a new run within an existing transaction.
func (r *RunRepo) CreateTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	const q = `INSERT INTO runs (` + runColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		run.RunID,
		string(run.Status),
		run.Gamma,
		run.TimeSteps,
		run.ParamsJSON,
		run.OptimalValue,
		run.FailureReason,
		run.StateVersion,
		run.LastEventSeq,
		run.CreatedAtUnix,
		run.UpdatedAtUnix,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateRun
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateStateTx updates a run within a transaction using optimistic locking.
// The update only succeeds if the current state_version matches the expected version.
func (r *RunRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, run domain.Run) error {
	const q = `UPDATE runs SET
		status = ?,
		optimal_value = ?,
		failure_reason = ?,
		state_version = state_version + 1,
		last_event_seq = ?,
		updated_at_unix = ?
	WHERE run_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(run.Status),
		run.OptimalValue,
		run.FailureReason,
		run.LastEventSeq,
		run.UpdatedAtUnix,
		run.RunID,
		run.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, runID string) (*domain.Run, error) {
	const q = `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`

	run, err := scanRun(db.QueryRowContext(ctx, q, runID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first. limit <= 0 means no limit.
func (r *RunRepo) List(ctx context.Context, db *sql.DB, limit int) ([]*domain.Run, error) {
	const q = `SELECT ` + runColumns + ` FROM runs ORDER BY created_at_unix DESC, run_id ASC LIMIT ?`
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var status string
	err := row.Scan(&run.RunID, &status, &run.Gamma, &run.TimeSteps, &run.ParamsJSON,
		&run.OptimalValue, &run.FailureReason, &run.StateVersion, &run.LastEventSeq,
		&run.CreatedAtUnix, &run.UpdatedAtUnix)
	if err != nil {
		return nil, err
	}
	run.Status, err = domain.ParseRunStatus(status)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
