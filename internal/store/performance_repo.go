package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rogersf/backdp/internal/domain"
)

// PerformanceRepo handles persistence for PerformanceRecord entries.
type PerformanceRepo struct{}

// SaveTx inserts a performance record within an existing transaction.
func (r *PerformanceRepo) SaveTx(ctx context.Context, tx *sql.Tx, rec domain.PerformanceRecord) error {
	remainingJSON, err := json.Marshal(rec.Remaining)
	if err != nil {
		return fmt.Errorf("marshal remaining: %w", err)
	}
	actionsJSON, err := json.Marshal(rec.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	const q = `INSERT INTO performance (run_id, traces, optimal_value, total_value, revenue, markdown, salvage, remaining_json, actions_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, q,
		rec.RunID,
		rec.Traces,
		rec.OptimalValue,
		rec.TotalValue,
		rec.Revenue,
		rec.Markdown,
		rec.Salvage,
		string(remainingJSON),
		string(actionsJSON),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save performance: %w", err)
	}
	return nil
}

// GetByRun returns the performance record of a run.
// Returns nil if the run has not been simulated.
func (r *PerformanceRepo) GetByRun(ctx context.Context, db *sql.DB, runID string) (*domain.PerformanceRecord, error) {
	const q = `SELECT run_id, traces, optimal_value, total_value, revenue, markdown, salvage, remaining_json, actions_json, created_at
FROM performance WHERE run_id = ?`

	var rec domain.PerformanceRecord
	var remainingJSON, actionsJSON string
	err := db.QueryRowContext(ctx, q, runID).Scan(&rec.RunID, &rec.Traces, &rec.OptimalValue, &rec.TotalValue,
		&rec.Revenue, &rec.Markdown, &rec.Salvage, &remainingJSON, &actionsJSON, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get performance: %w", err)
	}
	if err := json.Unmarshal([]byte(remainingJSON), &rec.Remaining); err != nil {
		return nil, fmt.Errorf("unmarshal remaining: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rec.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return &rec, nil
}
