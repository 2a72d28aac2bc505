package simulate

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
)

// Performance summarises greedy rollouts of a clearance policy.
type Performance struct {
	Traces int
	// OptimalValue is V_0 at the start state.
	OptimalValue float64
	// TotalValue is the initial stock priced at full price.
	TotalValue float64
	Revenue    float64
	// Markdown is the value given away through price cuts:
	// TotalValue - Salvage - Revenue.
	Markdown float64
	// Salvage is the mean leftover stock valued at full price.
	Salvage float64
	// Remaining is the mean inventory left after each step.
	Remaining []float64
	// Actions is the mean markdown fraction applied at each step.
	Actions []float64
}

// Record converts p to its stored form.
func (p *Performance) Record(runID string) domain.PerformanceRecord {
	return domain.PerformanceRecord{
		RunID:        runID,
		Traces:       p.Traces,
		OptimalValue: p.OptimalValue,
		TotalValue:   p.TotalValue,
		Revenue:      p.Revenue,
		Markdown:     p.Markdown,
		Salvage:      p.Salvage,
		Remaining:    p.Remaining,
		Actions:      p.Actions,
	}
}

// Clearance rolls out res on m traces times and aggregates the outcome.
func Clearance(ctx context.Context, m *clearance.Model, res *dp.Result[clearance.State, clearance.Action], traces int, seed uint64) (*Performance, error) {
	if traces < 1 {
		return nil, domain.NewEngineError(domain.ErrSimulation.Code,
			fmt.Sprintf("%s: traces must be at least 1, got %d", domain.ErrSimulation.Message, traces))
	}
	steps := len(m.Tables)
	start := m.Start()

	optimal, err := res.Value(0, start)
	if err != nil {
		return nil, fmt.Errorf("optimal value: %w", err)
	}

	revenue := make([]float64, traces)
	remaining := mat.NewDense(traces, steps, nil)
	markdowns := mat.NewDense(traces, steps, nil)

	err = Rollouts(ctx, res, m.Tables, start, traces, NewRand(seed), func(i int, tr Trace[clearance.State, clearance.Action]) {
		revenue[i] = tr.Total
		for t, a := range tr.Actions {
			remaining.Set(i, t, float64(tr.States[t+1].Inventory))
			markdowns.Set(i, t, m.Markdown(a))
		}
	})
	if err != nil {
		return nil, err
	}

	perf := &Performance{
		Traces:       traces,
		OptimalValue: optimal,
		TotalValue:   float64(m.Params.InitialInventory) * m.Params.BasePrice,
		Revenue:      stat.Mean(revenue, nil),
		Remaining:    columnMeans(remaining),
		Actions:      columnMeans(markdowns),
	}
	perf.Salvage = perf.Remaining[steps-1] * m.Params.BasePrice
	perf.Markdown = perf.TotalValue - perf.Salvage - perf.Revenue
	return perf, nil
}

func columnMeans(m *mat.Dense) []float64 {
	_, cols := m.Dims()
	out := make([]float64, cols)
	for j := range out {
		out[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	return out
}
