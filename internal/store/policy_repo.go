package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rogersf/backdp/internal/domain"
)

// PolicyRepo handles persistence for PolicyEntry records.
type PolicyRepo struct{}

// SaveTx inserts policy entries within an existing transaction.
func (r *PolicyRepo) SaveTx(ctx context.Context, tx *sql.Tx, entries []domain.PolicyEntry) error {
	const q = `INSERT INTO policy_entries (run_id, step, state_key, value, action)
VALUES (?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("prepare policy insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.RunID, e.Step, e.StateKey, e.Value, e.Action); err != nil {
			return fmt.Errorf("save policy entry step=%d state=%s: %w", e.Step, e.StateKey, err)
		}
	}
	return nil
}

// Get returns the stored decision for one step and state.
func (r *PolicyRepo) Get(ctx context.Context, db *sql.DB, runID string, step int, stateKey string) (*domain.PolicyEntry, error) {
	const q = `SELECT run_id, step, state_key, value, action
FROM policy_entries
WHERE run_id = ? AND step = ? AND state_key = ?`

	var e domain.PolicyEntry
	err := db.QueryRowContext(ctx, q, runID, step, stateKey).Scan(&e.RunID, &e.Step, &e.StateKey, &e.Value, &e.Action)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("get policy entry: %w", err)
	}
	return &e, nil
}

// ListByStep returns every stored decision of one step, ordered by state key.
func (r *PolicyRepo) ListByStep(ctx context.Context, db *sql.DB, runID string, step int) ([]domain.PolicyEntry, error) {
	const q = `SELECT run_id, step, state_key, value, action
FROM policy_entries
WHERE run_id = ? AND step = ?
ORDER BY state_key ASC`

	rows, err := db.QueryContext(ctx, q, runID, step)
	if err != nil {
		return nil, fmt.Errorf("list policy entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.PolicyEntry
	for rows.Next() {
		var e domain.PolicyEntry
		if err := rows.Scan(&e.RunID, &e.Step, &e.StateKey, &e.Value, &e.Action); err != nil {
			return nil, fmt.Errorf("scan policy entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
