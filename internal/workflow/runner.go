package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
	"github.com/rogersf/backdp/internal/metrics"
	"github.com/rogersf/backdp/internal/simulate"
	"github.com/rogersf/backdp/internal/store"
)

// Runner executes the build, solve and simulate pipeline for clearance
// problems and records each stage through the Engine.
type Runner struct {
	Engine          *Engine
	PolicyRepo      *store.PolicyRepo
	PerformanceRepo *store.PerformanceRepo

	// Metrics is optional.
	Metrics *metrics.Metrics

	Workers   int
	Tolerance float64
	Traces    int
	Seed      uint64

	newID func() string
}

// NewRunner creates a Runner over db. m may be nil.
func NewRunner(db *sql.DB, m *metrics.Metrics) *Runner {
	return &Runner{
		Engine:          NewEngine(db),
		PolicyRepo:      &store.PolicyRepo{},
		PerformanceRepo: &store.PerformanceRepo{},
		Metrics:         m,
		Workers:         1,
		Tolerance:       dp.DefaultTolerance,
		Traces:          1000,
		Seed:            1,
		newID:           uuid.NewString,
	}
}

// Outcome is everything one Execute produced.
type Outcome struct {
	Run         *domain.Run
	Model       *clearance.Model
	Result      *dp.Result[clearance.State, clearance.Action]
	Performance *simulate.Performance
}

// Execute builds the model for params, solves it, stores the policy, rolls it
// out and stores the performance. Invalid params are rejected before a run is
// recorded; any later failure moves the run to failed and is returned.
func (r *Runner) Execute(ctx context.Context, params clearance.Params) (*Outcome, error) {
	m, err := clearance.Build(params)
	if err != nil {
		return nil, err
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	runID := r.newID()
	if err := r.Engine.StartRun(ctx, domain.Run{
		RunID:      runID,
		Gamma:      m.Gamma,
		TimeSteps:  params.TimeSteps,
		ParamsJSON: string(paramsJSON),
	}); err != nil {
		return nil, err
	}
	r.observeRun(domain.RunCreated)

	out := &Outcome{Model: m}

	out.Result, err = r.solve(m)
	if err != nil {
		return nil, r.fail(ctx, runID, "solve", err)
	}

	optimal, err := out.Result.Value(0, m.Start())
	if err != nil {
		return nil, r.fail(ctx, runID, "optimal value", err)
	}
	if r.Metrics != nil {
		r.Metrics.SetOptimalValue(optimal)
	}

	err = r.Engine.Advance(ctx, runID, domain.RunSolved,
		map[string]any{"optimal_value": optimal},
		func(ctx context.Context, tx *sql.Tx, run *domain.Run) error {
			run.OptimalValue = optimal
			return r.PolicyRepo.SaveTx(ctx, tx, policyEntries(runID, out.Result))
		})
	if err != nil {
		return nil, r.fail(ctx, runID, "store policy", err)
	}
	r.observeRun(domain.RunSolved)

	out.Performance, err = simulate.Clearance(ctx, m, out.Result, r.Traces, r.Seed)
	if err != nil {
		return nil, r.fail(ctx, runID, "simulate", err)
	}

	rec := out.Performance.Record(runID)
	err = r.Engine.Advance(ctx, runID, domain.RunSimulated,
		map[string]any{"traces": rec.Traces, "revenue": rec.Revenue},
		func(ctx context.Context, tx *sql.Tx, _ *domain.Run) error {
			rec.CreatedAt = r.Engine.now().Unix()
			return r.PerformanceRepo.SaveTx(ctx, tx, rec)
		})
	if err != nil {
		return nil, r.fail(ctx, runID, "store performance", err)
	}
	r.observeRun(domain.RunSimulated)

	out.Run, err = r.Engine.GetState(ctx, runID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) solve(m *clearance.Model) (*dp.Result[clearance.State, clearance.Action], error) {
	opts := []dp.Option{
		dp.WithWorkers(r.Workers),
		dp.WithTolerance(r.Tolerance),
	}
	if r.Metrics != nil {
		opts = append(opts, dp.WithObserver(r.Metrics.ObserveStep))
	}

	start := time.Now()
	res, err := m.Solve(opts...)
	if r.Metrics != nil {
		r.Metrics.ObserveSolve(time.Since(start), err)
	}
	return res, err
}

// fail records cause on the run and returns it wrapped with the stage name.
// fail records the failure even when ctx is already cancelled, so the run
// always reaches a terminal status.
func (r *Runner) fail(ctx context.Context, runID, stage string, cause error) error {
	if err := r.Engine.Fail(context.WithoutCancel(ctx), runID, fmt.Sprintf("%s: %v", stage, cause)); err != nil {
		return fmt.Errorf("run %s: %s: %w (marking failed: %v)", runID, stage, cause, err)
	}
	r.observeRun(domain.RunFailed)
	return fmt.Errorf("run %s: %s: %w", runID, stage, cause)
}

func (r *Runner) observeRun(status domain.RunStatus) {
	if r.Metrics != nil {
		r.Metrics.ObserveRun(status)
	}
}

// policyEntries flattens res into one stored entry per step and state.
func policyEntries(runID string, res *dp.Result[clearance.State, clearance.Action]) []domain.PolicyEntry {
	var entries []domain.PolicyEntry
	for t := 0; t < res.Len(); t++ {
		st, err := res.At(t)
		if err != nil {
			continue
		}
		st.Range(func(s clearance.State, d dp.Decision[clearance.Action]) bool {
			entries = append(entries, domain.PolicyEntry{
				RunID:    runID,
				Step:     t,
				StateKey: s.String(),
				Value:    d.Value,
				Action:   int(d.Action),
			})
			return true
		})
	}
	return entries
}
