package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/store"
)

// validTransitions defines the legal run status transitions.
// Each key is a source status, and the value is the set of valid targets.
var validTransitions = map[domain.RunStatus]map[domain.RunStatus]bool{
	domain.RunCreated: {domain.RunSolved: true, domain.RunFailed: true},
	domain.RunSolved:  {domain.RunSimulated: true, domain.RunFailed: true},
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to domain.RunStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TxHook runs inside a transition's transaction before the run row is
// updated. It may write related rows and modify run.
type TxHook func(ctx context.Context, tx *sql.Tx, run *domain.Run) error

// Engine is the FSM that manages run status transitions.
type Engine struct {
	DB        *sql.DB
	RunRepo   *store.RunRepo
	EventRepo *store.EventRepo

	now func() time.Time
}

// NewEngine creates a new FSM engine with all dependencies.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{
		DB:        db,
		RunRepo:   &store.RunRepo{},
		EventRepo: &store.EventRepo{},
		now:       time.Now,
	}
}

// StartRun records run in the created status together with its run_created event.
func (e *Engine) StartRun(ctx context.Context, run domain.Run) error {
	now := e.now().Unix()
	run.Status = domain.RunCreated
	run.StateVersion = 1
	run.LastEventSeq = 1 // The run_created event uses seq 1.
	run.CreatedAtUnix = now
	run.UpdatedAtUnix = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.RunRepo.CreateTx(ctx, tx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	payload, err := eventPayload(map[string]any{
		"gamma":      run.Gamma,
		"time_steps": run.TimeSteps,
	})
	if err != nil {
		return err
	}
	event := domain.RunEvent{
		RunID:       run.RunID,
		SeqNo:       1,
		EventType:   "run_created",
		PayloadJSON: payload,
		CreatedAt:   now,
	}
	if err := e.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append start event: %w", err)
	}

	return tx.Commit()
}

// Advance moves a run to status to. The hook, the transition event and the
// status update share a single transaction with optimistic locking.
func (e *Engine) Advance(ctx context.Context, runID string, to domain.RunStatus, details map[string]any, hook TxHook) error {
	run, err := e.RunRepo.GetByID(ctx, e.DB, runID)
	if err != nil {
		return err
	}

	if run.Status.IsTerminal() {
		return domain.NewEngineError(
			domain.ErrRunAlreadyDone.Code,
			fmt.Sprintf("%s: %s is %s", domain.ErrRunAlreadyDone.Message, runID, run.Status),
		)
	}

	if !IsValidTransition(run.Status, to) {
		return domain.NewEngineError(
			domain.ErrInvalidTransition.Code,
			fmt.Sprintf("illegal transition %s -> %s", run.Status, to),
		)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	updated := *run
	if hook != nil {
		if err := hook(ctx, tx, &updated); err != nil {
			return err
		}
	}

	now := e.now().Unix()
	newSeq := run.LastEventSeq + 1

	fields := map[string]any{"from": run.Status, "to": to}
	for k, v := range details {
		fields[k] = v
	}
	payload, err := eventPayload(fields)
	if err != nil {
		return err
	}
	event := domain.RunEvent{
		RunID:       runID,
		SeqNo:       newSeq,
		EventType:   "run_" + string(to),
		PayloadJSON: payload,
		CreatedAt:   now,
	}
	if err := e.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append transition event: %w", err)
	}

	// The hook may not move the run's identity or version.
	updated.RunID = run.RunID
	updated.StateVersion = run.StateVersion
	updated.Status = to
	updated.LastEventSeq = newSeq
	updated.UpdatedAtUnix = now

	if err := e.RunRepo.UpdateStateTx(ctx, tx, updated); err != nil {
		return err
	}

	return tx.Commit()
}

// Fail moves a non-terminal run to failed and records reason.
func (e *Engine) Fail(ctx context.Context, runID, reason string) error {
	return e.Advance(ctx, runID, domain.RunFailed, map[string]any{"reason": reason},
		func(_ context.Context, _ *sql.Tx, run *domain.Run) error {
			run.FailureReason = reason
			return nil
		})
}

// GetState returns the current state of a run.
func (e *Engine) GetState(ctx context.Context, runID string) (*domain.Run, error) {
	return e.RunRepo.GetByID(ctx, e.DB, runID)
}

// Events returns the run's event log after sinceSeq.
func (e *Engine) Events(ctx context.Context, runID string, sinceSeq int64) ([]domain.RunEvent, error) {
	if _, err := e.RunRepo.GetByID(ctx, e.DB, runID); err != nil {
		return nil, err
	}
	return e.EventRepo.ListByRun(ctx, e.DB, runID, sinceSeq)
}

func eventPayload(fields map[string]any) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	return string(data), nil
}
