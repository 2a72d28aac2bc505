// Package simulate drives greedy rollouts of a solved policy.
package simulate

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
)

// Trace is one rollout of the greedy policy from a start state.
type Trace[S, A comparable] struct {
	// States has one more entry than Actions: the state after the last step.
	States  []S
	Actions []A
	Rewards []float64
	Total   float64
}

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Sample draws the next state of taking a in s according to tbl.
func Sample[S, A comparable](tbl *dp.Table[S, A], s S, a A, rng *rand.Rand) (dp.Outcome[S], error) {
	outcomes, ok := tbl.Outcomes(s, a)
	if !ok || len(outcomes) == 0 {
		return dp.Outcome[S]{}, domain.NewEngineError(domain.ErrSimulation.Code,
			fmt.Sprintf("%s: no outcomes for state %v action %v", domain.ErrSimulation.Message, s, a))
	}

	u := rng.Float64()
	last := -1
	for i, o := range outcomes {
		if o.Prob <= 0 {
			continue
		}
		last = i
		if u < o.Prob {
			return o, nil
		}
		u -= o.Prob
	}
	if last < 0 {
		return dp.Outcome[S]{}, domain.NewEngineError(domain.ErrSimulation.Code,
			fmt.Sprintf("%s: zero-mass distribution for state %v action %v", domain.ErrSimulation.Message, s, a))
	}
	// Rounding left u just past the cumulative mass.
	return outcomes[last], nil
}

// Rollout follows the result's policy from start through every step of
// tables, drawing outcomes with rng. The result is only read.
func Rollout[S, A comparable](res *dp.Result[S, A], tables []*dp.Table[S, A], start S, rng *rand.Rand) (Trace[S, A], error) {
	if res.Len() != len(tables) {
		return Trace[S, A]{}, domain.NewEngineError(domain.ErrShapeMismatch.Code,
			fmt.Sprintf("%s: result has %d steps, model has %d", domain.ErrShapeMismatch.Message, res.Len(), len(tables)))
	}

	tr := Trace[S, A]{
		States:  make([]S, 1, len(tables)+1),
		Actions: make([]A, 0, len(tables)),
		Rewards: make([]float64, 0, len(tables)),
	}
	tr.States[0] = start

	state := start
	for t, tbl := range tables {
		a, err := res.Action(t, state)
		if err != nil {
			return tr, fmt.Errorf("rollout step %d: %w", t, err)
		}
		o, err := Sample(tbl, state, a, rng)
		if err != nil {
			return tr, fmt.Errorf("rollout step %d: %w", t, err)
		}
		tr.Actions = append(tr.Actions, a)
		tr.Rewards = append(tr.Rewards, o.Reward)
		tr.States = append(tr.States, o.Next)
		tr.Total += o.Reward
		state = o.Next
	}
	return tr, nil
}

// Rollouts runs n independent rollouts and passes each to fn in order.
// ctx is checked between rollouts.
func Rollouts[S, A comparable](ctx context.Context, res *dp.Result[S, A], tables []*dp.Table[S, A], start S, n int, rng *rand.Rand, fn func(i int, tr Trace[S, A])) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tr, err := Rollout(res, tables, start, rng)
		if err != nil {
			return fmt.Errorf("trace %d: %w", i, err)
		}
		fn(i, tr)
	}
	return nil
}
