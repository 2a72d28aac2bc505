// Package clearance builds the stationary markdown-pricing model solved by
// the dp engine: a retailer holds a fixed stock, may only lower its price
// over time, and sells against Poisson demand whose mean grows with the
// markdown.
package clearance

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
)

// Level is one markdown tier: the fraction taken off the base price and
// the relative demand increase it produces.
type Level struct {
	Markdown   float64 `json:"markdown"`
	DemandLift float64 `json:"demand_lift"`
}

// Params describes one clearance problem.
type Params struct {
	TimeSteps        int     `json:"time_steps"`
	InitialInventory int     `json:"initial_inventory"`
	BasePrice        float64 `json:"base_price"`
	BaseDemand       float64 `json:"base_demand"`
	// Levels excludes the full-price tier, which is always level 0.
	Levels []Level `json:"levels"`
}

// State is the remaining inventory and the index of the current price level.
type State struct {
	Inventory  int
	PriceIndex int
}

// String returns the canonical "inventory/price" key used in storage.
func (s State) String() string {
	return strconv.Itoa(s.Inventory) + "/" + strconv.Itoa(s.PriceIndex)
}

// ParseState is the inverse of State.String.
func ParseState(key string) (State, error) {
	inv, price, ok := strings.Cut(key, "/")
	if !ok {
		return State{}, fmt.Errorf("parse state %q: missing separator", key)
	}
	i, err := strconv.Atoi(inv)
	if err != nil {
		return State{}, fmt.Errorf("parse state %q: inventory: %w", key, err)
	}
	p, err := strconv.Atoi(price)
	if err != nil {
		return State{}, fmt.Errorf("parse state %q: price index: %w", key, err)
	}
	return State{Inventory: i, PriceIndex: p}, nil
}

// Action is the index of the price level chosen for the coming step.
type Action int

// Validate reports every problem with p at once.
func (p Params) Validate() error {
	var problems []string

	if p.TimeSteps < 1 {
		problems = append(problems, "time_steps must be at least 1")
	}
	if p.InitialInventory < 0 {
		problems = append(problems, "initial_inventory must not be negative")
	}
	if p.BasePrice <= 0 {
		problems = append(problems, "base_price must be positive")
	}
	if p.BaseDemand <= 0 {
		problems = append(problems, "base_demand must be positive")
	}
	for i, l := range p.Levels {
		if l.Markdown < 0 || l.Markdown >= 1 {
			problems = append(problems, fmt.Sprintf("levels[%d].markdown must be in [0,1)", i))
		}
		if l.DemandLift < 0 {
			problems = append(problems, fmt.Sprintf("levels[%d].demand_lift must not be negative", i))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrInvalidParams.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrInvalidParams.Message, problems),
		}
	}
	return nil
}

// Model is a built clearance problem, ready to be handed to dp.Solve.
type Model struct {
	Params   Params
	Tables   []*dp.Table[State, Action]
	Terminal map[State]float64
	Gamma    float64

	levels []Level
	demand []distuv.Poisson
}

// Build validates p and constructs the model. The same table is used for
// every step, unsold stock is worth nothing at the end of the horizon, and
// future revenue is not discounted.
func Build(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	levels := append([]Level{{}}, p.Levels...)
	demand := make([]distuv.Poisson, len(levels))
	for i, l := range levels {
		demand[i] = distuv.Poisson{Lambda: p.BaseDemand * (1 + l.DemandLift)}
	}

	m := &Model{
		Params:   p,
		Terminal: make(map[State]float64, (p.InitialInventory+1)*len(levels)),
		Gamma:    1,
		levels:   levels,
		demand:   demand,
	}

	b := dp.NewTableBuilder[State, Action]()
	for s := 0; s <= p.InitialInventory; s++ {
		for price := range levels {
			from := State{Inventory: s, PriceIndex: price}
			m.Terminal[from] = 0
			// Actions are declared in ascending order, so ties go to the
			// highest remaining price.
			for next := price; next < len(levels); next++ {
				a := Action(next)
				for d := 0; d <= s; d++ {
					b.Outcome(from, a,
						State{Inventory: s - d, PriceIndex: next},
						m.saleProbability(a, d, s),
						float64(d)*m.Price(a))
				}
			}
		}
	}
	tbl, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build clearance table: %w", err)
	}

	m.Tables = make([]*dp.Table[State, Action], p.TimeSteps)
	for t := range m.Tables {
		m.Tables[t] = tbl
	}
	return m, nil
}

// saleProbability is the probability of selling exactly d of s units at
// level a. Selling out absorbs the whole upper tail of demand.
func (m *Model) saleProbability(a Action, d, s int) float64 {
	dist := m.demand[a]
	if d < s {
		return dist.Prob(float64(d))
	}
	return math.Min(1, math.Max(0, 1-dist.CDF(float64(s-1))))
}

// Levels returns the number of price levels including full price.
func (m *Model) Levels() int {
	return len(m.levels)
}

// Start is the state at the beginning of the horizon.
func (m *Model) Start() State {
	return State{Inventory: m.Params.InitialInventory, PriceIndex: 0}
}

// Markdown returns the fraction taken off the base price at level a.
func (m *Model) Markdown(a Action) float64 {
	return m.levels[a].Markdown
}

// Price returns the unit price charged at level a.
func (m *Model) Price(a Action) float64 {
	return m.Params.BasePrice * (1 - m.levels[a].Markdown)
}

// MeanDemand returns the Poisson mean of demand at level a.
func (m *Model) MeanDemand(a Action) float64 {
	return m.demand[a].Mean()
}

// Solve runs backward induction over the model.
func (m *Model) Solve(opts ...dp.Option) (*dp.Result[State, Action], error) {
	return dp.Solve(m.Tables, m.Terminal, m.Gamma, opts...)
}
