package dp

import (
	"math"

	"github.com/rogersf/backdp/internal/domain"
)

// Decision is the optimal value and action of one state at one step.
type Decision[A comparable] struct {
	Value  float64
	Action A
}

// Step is the solved value function and policy of one time step.
type Step[S, A comparable] struct {
	t         int
	states    []S
	index     map[S]int
	decisions []Decision[A]
}

// Index returns the time step this Step belongs to.
func (s *Step[S, A]) Index() int {
	return s.t
}

// Len returns the number of solved states.
func (s *Step[S, A]) Len() int {
	return len(s.states)
}

// States returns the solved states in table declaration order.
func (s *Step[S, A]) States() []S {
	out := make([]S, len(s.states))
	copy(out, s.states)
	return out
}

// Lookup returns the decision for state. ok is false when state was not in
// this step's table.
func (s *Step[S, A]) Lookup(state S) (d Decision[A], ok bool) {
	i, ok := s.index[state]
	if !ok {
		return Decision[A]{}, false
	}
	return s.decisions[i], true
}

// Range calls fn for every state in declaration order until fn returns false.
func (s *Step[S, A]) Range(fn func(S, Decision[A]) bool) {
	for i, st := range s.states {
		if !fn(st, s.decisions[i]) {
			return
		}
	}
}

func (s *Step[S, A]) value(state S) (float64, bool) {
	i, ok := s.index[state]
	if !ok {
		return 0, false
	}
	return s.decisions[i].Value, true
}

// Result is the immutable output of Solve: one Step per decision step.
type Result[S, A comparable] struct {
	steps []*Step[S, A]
	gamma float64
}

// Len returns the number of decision steps. Zero means the horizon was empty
// and only the terminal value function applies.
func (r *Result[S, A]) Len() int {
	return len(r.steps)
}

// Gamma returns the discount factor the result was solved with.
func (r *Result[S, A]) Gamma() float64 {
	return r.gamma
}

// At returns the Step for time step t.
func (r *Result[S, A]) At(t int) (*Step[S, A], error) {
	if t < 0 || t >= len(r.steps) {
		return nil, newError(domain.ErrStepOutOfRange, t, nil, nil, "horizon has %d steps", len(r.steps))
	}
	return r.steps[t], nil
}

// Lookup returns the decision for state at time step t.
func (r *Result[S, A]) Lookup(t int, state S) (Decision[A], error) {
	step, err := r.At(t)
	if err != nil {
		return Decision[A]{}, err
	}
	d, ok := step.Lookup(state)
	if !ok {
		return Decision[A]{}, newError(domain.ErrStateNotFound, t, state, nil, "state was not in the step's model table")
	}
	return d, nil
}

// Value returns V_t(state).
func (r *Result[S, A]) Value(t int, state S) (float64, error) {
	d, err := r.Lookup(t, state)
	return d.Value, err
}

// Action returns the optimal action at (t, state).
func (r *Result[S, A]) Action(t int, state S) (A, error) {
	d, err := r.Lookup(t, state)
	return d.Action, err
}

// Residual re-derives every Bellman maximum from the result's own values
// and returns the largest absolute gap between the stored value and the
// recomputed one. It also fails if a stored action does not attain the
// stored value. tables and terminal must be the inputs Solve was given.
func (r *Result[S, A]) Residual(tables []*Table[S, A], terminal map[S]float64) (float64, error) {
	if len(tables) != len(r.steps) {
		return 0, newError(domain.ErrShapeMismatch, NoStep, nil, nil, "result has %d steps, model has %d", len(r.steps), len(tables))
	}
	for t, tbl := range tables {
		if tbl == nil {
			return 0, newError(domain.ErrShapeMismatch, t, nil, nil, "nil model table in a horizon of %d steps", len(tables))
		}
	}

	var worst float64
	for t := len(tables) - 1; t >= 0; t-- {
		next := valueFunc[S](func(s S) (float64, bool) {
			v, ok := terminal[s]
			return v, ok
		})
		if t+1 < len(r.steps) {
			next = r.steps[t+1].value
		}

		tbl := tables[t]
		for i, s := range tbl.states {
			stored := r.steps[t].decisions[i]
			best := math.Inf(-1)
			var chosen float64
			for _, c := range tbl.choices[i] {
				var q accumulator
				for _, oc := range c.outcomes {
					v, ok := next(oc.Next)
					if !ok {
						return 0, missingNext(t, len(tables), s, c.action, oc.Next)
					}
					q.add(oc.Prob * (oc.Reward + r.gamma*v))
				}
				best = math.Max(best, q.value())
				if c.action == stored.Action {
					chosen = q.value()
				}
			}
			worst = math.Max(worst, math.Abs(best-stored.Value))
			if math.Abs(chosen-stored.Value) > DefaultTieTolerance {
				return worst, newError(domain.ErrShapeMismatch, t, s, stored.Action,
					"stored action attains %.9g, stored value is %.9g", chosen, stored.Value)
			}
		}
	}
	return worst, nil
}
