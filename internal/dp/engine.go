package dp

import (
	"math"
	"sync"
	"time"

	"github.com/rogersf/backdp/internal/domain"
)

const (
	// DefaultTolerance bounds |sum of probabilities - 1| for a distribution.
	DefaultTolerance = 1e-6
	// DefaultTieTolerance is the expected-value gap under which two actions tie.
	DefaultTieTolerance = 1e-9
)

// StepStats describes one completed backward step.
type StepStats struct {
	Step     int
	States   int
	Actions  int
	Outcomes int
	Workers  int
	Elapsed  time.Duration
}

// Option configures Solve.
type Option func(*options)

type options struct {
	tolerance    float64
	tieTolerance float64
	workers      int
	observer     func(StepStats)
}

// WithTolerance sets the distribution-sum tolerance.
func WithTolerance(tol float64) Option {
	return func(o *options) { o.tolerance = tol }
}

// WithTieTolerance sets the value gap under which actions are considered tied.
func WithTieTolerance(eps float64) Option {
	return func(o *options) { o.tieTolerance = eps }
}

// WithWorkers spreads the states of each step over n goroutines. n <= 1
// solves every step on the calling goroutine.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithObserver registers fn to be called after each step completes.
func WithObserver(fn func(StepStats)) Option {
	return func(o *options) { o.observer = fn }
}

// valueFunc resolves V_{t+1}.
type valueFunc[S comparable] func(S) (float64, bool)

// Solve runs backward induction over tables, where tables[t] is the model of
// decision step t and terminal is the value of every state reachable after
// the last step. It returns the optimal value and action of every state of
// every step, or an *Error locating the first problem found; on error no
// Result is returned.
//
// Among actions whose expected values lie within the tie tolerance of the
// best one, the action declared first in the table wins.
//
// gamma is not range checked.
func Solve[S, A comparable](tables []*Table[S, A], terminal map[S]float64, gamma float64, opts ...Option) (*Result[S, A], error) {
	o := options{
		tolerance:    DefaultTolerance,
		tieTolerance: DefaultTieTolerance,
		workers:      1,
	}
	for _, opt := range opts {
		opt(&o)
	}

	horizon := len(tables)
	for t, tbl := range tables {
		if tbl == nil {
			return nil, newError(domain.ErrShapeMismatch, t, nil, nil, "nil model table in a horizon of %d steps", horizon)
		}
	}
	if horizon > 0 && terminal == nil {
		return nil, newError(domain.ErrShapeMismatch, horizon, nil, nil, "no terminal value function for a horizon of %d steps", horizon)
	}

	steps := make([]*Step[S, A], horizon)
	next := valueFunc[S](func(s S) (float64, bool) {
		v, ok := terminal[s]
		return v, ok
	})

	for t := horizon - 1; t >= 0; t-- {
		start := time.Now()
		step, stats, err := solveStep(t, horizon, tables[t], next, gamma, o)
		if err != nil {
			return nil, err
		}
		steps[t] = step
		next = step.value
		if o.observer != nil {
			stats.Elapsed = time.Since(start)
			o.observer(stats)
		}
	}

	return &Result[S, A]{steps: steps, gamma: gamma}, nil
}

func solveStep[S, A comparable](t, horizon int, tbl *Table[S, A], next valueFunc[S], gamma float64, o options) (*Step[S, A], StepStats, error) {
	n := len(tbl.states)
	step := &Step[S, A]{
		t:         t,
		states:    tbl.states,
		index:     tbl.index,
		decisions: make([]Decision[A], n),
	}

	workers := o.workers
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	stats := StepStats{Step: t, States: n, Workers: workers}

	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := decide(t, horizon, tbl, i, next, gamma, o, step.decisions, &stats); err != nil {
				return nil, stats, err
			}
		}
		return step, stats, nil
	}

	// Each worker owns a contiguous block of states and writes only its own
	// cells of step.decisions. Wait is the barrier before step t-1 reads them.
	chunk := (n + workers - 1) / workers
	errs := make([]error, workers)
	partial := make([]StepStats, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo, hi := w*chunk, min((w+1)*chunk, n)
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if err := decide(t, horizon, tbl, i, next, gamma, o, step.decisions, &partial[w]); err != nil {
					errs[w] = err
					return
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()

	// Blocks are ordered, so the first failing block holds the lowest failing state.
	for _, err := range errs {
		if err != nil {
			return nil, stats, err
		}
	}
	for _, p := range partial {
		stats.Actions += p.Actions
		stats.Outcomes += p.Outcomes
	}
	return step, stats, nil
}

// decide evaluates the Bellman maximum for the i-th state of tbl and writes it to out[i].
func decide[S, A comparable](t, horizon int, tbl *Table[S, A], i int, next valueFunc[S], gamma float64, o options, out []Decision[A], stats *StepStats) error {
	s := tbl.states[i]
	choices := tbl.choices[i]
	if len(choices) == 0 {
		return newError(domain.ErrInfeasibleState, t, s, nil, "state has no legal actions")
	}

	best := math.Inf(-1)
	bestAt := -1
	for k, c := range choices {
		var q, mass accumulator
		for _, oc := range c.outcomes {
			v, ok := next(oc.Next)
			if !ok {
				return missingNext(t, horizon, s, c.action, oc.Next)
			}
			q.add(oc.Prob * (oc.Reward + gamma*v))
			mass.add(oc.Prob)
		}
		if total := mass.value(); math.Abs(total-1) > o.tolerance {
			return newError(domain.ErrInvalidDistribution, t, s, c.action,
				"probabilities sum to %.9g over %d outcomes", total, len(c.outcomes))
		}
		stats.Actions++
		stats.Outcomes += len(c.outcomes)

		if v := q.value(); bestAt < 0 || v > best+o.tieTolerance {
			best, bestAt = v, k
		}
	}

	out[i] = Decision[A]{Value: best, Action: choices[bestAt].action}
	return nil
}

func missingNext[S, A comparable](t, horizon int, s S, a A, next S) error {
	if t == horizon-1 {
		return newError(domain.ErrShapeMismatch, t, s, a, "terminal value function has no entry for next state %v", next)
	}
	return newError(domain.ErrDanglingTransition, t, s, a, "next state %v has no entry at step %d", next, t+1)
}
