// Package dp solves finite-horizon Markov decision problems by backward
// induction over a sequence of per-step model tables.
package dp

import (
	"math"

	"github.com/rogersf/backdp/internal/domain"
)

// Outcome is one support point of the next-state distribution of a
// (state, action) pair.
type Outcome[S comparable] struct {
	Next   S
	Prob   float64
	Reward float64
}

type choice[S, A comparable] struct {
	action   A
	outcomes []Outcome[S]
}

// Table describes the complete stochastic decision structure of one time
// step. States and, per state, actions keep the order in which they were
// first declared to the TableBuilder. A Table is never modified after Build,
// so the same Table may be shared by several steps of a horizon.
type Table[S, A comparable] struct {
	states  []S
	index   map[S]int
	choices [][]choice[S, A]
}

// Len returns the number of states in the table.
func (t *Table[S, A]) Len() int {
	return len(t.states)
}

// States returns the table's states in declaration order.
func (t *Table[S, A]) States() []S {
	out := make([]S, len(t.states))
	copy(out, t.states)
	return out
}

// Has reports whether s has an entry in the table.
func (t *Table[S, A]) Has(s S) bool {
	_, ok := t.index[s]
	return ok
}

// Actions returns the legal actions of s in declaration order. It returns
// nil when s is unknown or has no legal actions.
func (t *Table[S, A]) Actions(s S) []A {
	i, ok := t.index[s]
	if !ok || len(t.choices[i]) == 0 {
		return nil
	}
	out := make([]A, len(t.choices[i]))
	for k, c := range t.choices[i] {
		out[k] = c.action
	}
	return out
}

// Outcomes returns the (next state, probability, reward) triples of taking
// a in s. ok is false when the pair is not in the table.
func (t *Table[S, A]) Outcomes(s S, a A) (outcomes []Outcome[S], ok bool) {
	c, ok := t.lookup(s, a)
	if !ok {
		return nil, false
	}
	out := make([]Outcome[S], len(c.outcomes))
	copy(out, c.outcomes)
	return out, true
}

func (t *Table[S, A]) lookup(s S, a A) (*choice[S, A], bool) {
	i, ok := t.index[s]
	if !ok {
		return nil, false
	}
	for k := range t.choices[i] {
		if t.choices[i][k].action == a {
			return &t.choices[i][k], true
		}
	}
	return nil, false
}

// Validate checks that every (state, action) distribution sums to 1 within
// tol. The first offending pair in declaration order is reported.
func (t *Table[S, A]) Validate(tol float64) error {
	return t.validate(NoStep, tol)
}

func (t *Table[S, A]) validate(step int, tol float64) error {
	for i, s := range t.states {
		for _, c := range t.choices[i] {
			if err := checkDistribution(step, s, c, tol); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkDistribution[S, A comparable](step int, s S, c choice[S, A], tol float64) error {
	var sum accumulator
	for _, o := range c.outcomes {
		sum.add(o.Prob)
	}
	if total := sum.value(); math.Abs(total-1) > tol {
		return newError(domain.ErrInvalidDistribution, step, s, c.action,
			"probabilities sum to %.9g over %d outcomes", total, len(c.outcomes))
	}
	return nil
}

type outcomeKey[S, A comparable] struct {
	state  S
	action A
	next   S
}

// TableBuilder accumulates the declarations of one Table. The zero value is
// ready to use. The first malformed declaration is kept and returned by
// Build; later declarations are ignored.
type TableBuilder[S, A comparable] struct {
	states  []S
	index   map[S]int
	choices [][]choice[S, A]
	seen    map[outcomeKey[S, A]]struct{}
	err     error
}

// NewTableBuilder returns an empty builder.
func NewTableBuilder[S, A comparable]() *TableBuilder[S, A] {
	return &TableBuilder[S, A]{}
}

// State declares s. Declaring a state without ever adding an outcome makes
// it a state with no legal actions, which the solver rejects as infeasible.
func (b *TableBuilder[S, A]) State(s S) *TableBuilder[S, A] {
	if b.err == nil {
		b.state(s)
	}
	return b
}

func (b *TableBuilder[S, A]) state(s S) int {
	if b.index == nil {
		b.index = make(map[S]int)
		b.seen = make(map[outcomeKey[S, A]]struct{})
	}
	if i, ok := b.index[s]; ok {
		return i
	}
	b.index[s] = len(b.states)
	b.states = append(b.states, s)
	b.choices = append(b.choices, nil)
	return len(b.states) - 1
}

// Outcome declares that taking a in s leads to next with probability prob
// and immediate reward reward. The first Outcome for a given (s, a) fixes
// a's position in s's action order.
func (b *TableBuilder[S, A]) Outcome(s S, a A, next S, prob, reward float64) *TableBuilder[S, A] {
	if b.err != nil {
		return b
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		b.err = newError(domain.ErrInvalidDistribution, NoStep, s, a, "probability %v of next state %v outside [0,1]", prob, next)
		return b
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		b.err = newError(domain.ErrInvalidDistribution, NoStep, s, a, "reward %v of next state %v is not finite", reward, next)
		return b
	}

	i := b.state(s)
	key := outcomeKey[S, A]{state: s, action: a, next: next}
	if _, dup := b.seen[key]; dup {
		b.err = newError(domain.ErrInvalidDistribution, NoStep, s, a, "next state %v declared twice", next)
		return b
	}
	b.seen[key] = struct{}{}

	k := -1
	for j := range b.choices[i] {
		if b.choices[i][j].action == a {
			k = j
			break
		}
	}
	if k < 0 {
		b.choices[i] = append(b.choices[i], choice[S, A]{action: a})
		k = len(b.choices[i]) - 1
	}
	b.choices[i][k].outcomes = append(b.choices[i][k].outcomes, Outcome[S]{Next: next, Prob: prob, Reward: reward})
	return b
}

// Build returns the finished Table, or the first malformed declaration.
// The builder is reset and may be reused for another table.
func (b *TableBuilder[S, A]) Build() (*Table[S, A], error) {
	defer func() { *b = TableBuilder[S, A]{} }()
	if b.err != nil {
		return nil, b.err
	}
	index := b.index
	if index == nil {
		index = make(map[S]int)
	}
	return &Table[S, A]{
		states:  b.states,
		index:   index,
		choices: b.choices,
	}, nil
}
