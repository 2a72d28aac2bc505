package clearance

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rogersf/backdp/internal/domain"
	"github.com/rogersf/backdp/internal/dp"
)

// exampleParams is the one-step, two-unit scenario with three markdown tiers.
func exampleParams() Params {
	return Params{
		TimeSteps:        1,
		InitialInventory: 2,
		BasePrice:        10,
		BaseDemand:       1,
		Levels: []Level{
			{Markdown: 0.3, DemandLift: 1},
			{Markdown: 0.5, DemandLift: 2},
			{Markdown: 0.7, DemandLift: 3},
		},
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Params)
		problem string
	}{
		{"zero_steps", func(p *Params) { p.TimeSteps = 0 }, "time_steps"},
		{"negative_inventory", func(p *Params) { p.InitialInventory = -1 }, "initial_inventory"},
		{"zero_price", func(p *Params) { p.BasePrice = 0 }, "base_price"},
		{"zero_demand", func(p *Params) { p.BaseDemand = 0 }, "base_demand"},
		{"full_markdown", func(p *Params) { p.Levels[1].Markdown = 1 }, "levels[1].markdown"},
		{"negative_lift", func(p *Params) { p.Levels[2].DemandLift = -0.5 }, "levels[2].demand_lift"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := exampleParams()
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			var engErr *domain.EngineError
			if !errors.As(err, &engErr) || engErr.Code != domain.ErrInvalidParams.Code {
				t.Fatalf("error = %v, want ErrInvalidParams code", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.problem)
			}
		})
	}

	if err := exampleParams().Validate(); err != nil {
		t.Errorf("Validate(example): %v", err)
	}
}

func TestBuild_TableShape(t *testing.T) {
	p := exampleParams()
	p.TimeSteps = 4
	m, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Levels() != 4 {
		t.Fatalf("Levels = %d, want 4", m.Levels())
	}
	if len(m.Tables) != 4 {
		t.Fatalf("len(Tables) = %d, want 4", len(m.Tables))
	}
	tbl := m.Tables[0]
	if tbl.Len() != 3*4 {
		t.Errorf("table has %d states, want 12", tbl.Len())
	}
	if len(m.Terminal) != 12 {
		t.Errorf("terminal has %d states, want 12", len(m.Terminal))
	}
	if err := tbl.Validate(dp.DefaultTolerance); err != nil {
		t.Errorf("Validate: %v", err)
	}

	actions := tbl.Actions(State{Inventory: 1, PriceIndex: 2})
	if len(actions) != 2 || actions[0] != 2 || actions[1] != 3 {
		t.Errorf("actions at price 2 = %v, want [2 3]", actions)
	}
}

func TestBuild_SellOutAbsorbsUpperTail(t *testing.T) {
	m, err := Build(exampleParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	out, ok := m.Tables[0].Outcomes(State{Inventory: 2, PriceIndex: 0}, 1)
	if !ok {
		t.Fatal("no outcomes for (2/0, 1)")
	}
	if len(out) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(out))
	}
	lambda := 2.0
	want := []float64{
		math.Exp(-lambda),
		lambda * math.Exp(-lambda),
		1 - math.Exp(-lambda) - lambda*math.Exp(-lambda),
	}
	for d, o := range out {
		if o.Next != (State{Inventory: 2 - d, PriceIndex: 1}) {
			t.Errorf("outcome %d next = %v", d, o.Next)
		}
		if math.Abs(o.Prob-want[d]) > 1e-9 {
			t.Errorf("P(sell %d) = %f, want %f", d, o.Prob, want[d])
		}
		if math.Abs(o.Reward-float64(d)*7) > 1e-9 {
			t.Errorf("reward(sell %d) = %f, want %f", d, o.Reward, float64(d)*7)
		}
	}

	empty, _ := m.Tables[0].Outcomes(State{Inventory: 0, PriceIndex: 3}, 3)
	if len(empty) != 1 || empty[0].Prob != 1 || empty[0].Reward != 0 {
		t.Errorf("empty-stock outcomes = %+v, want one certain zero-reward outcome", empty)
	}
}

func TestSolve_SingleStepOptimum(t *testing.T) {
	m, err := Build(exampleParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := m.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	// With two units and one step, revenue at level a is
	// price(a) * E[min(D, 2)] = price(a) * (2 - 2e^-l - l*e^-l).
	expected := func(price, lambda float64) float64 {
		return price * (2 - 2*math.Exp(-lambda) - lambda*math.Exp(-lambda))
	}
	candidates := []float64{
		expected(10, 1), expected(7, 2), expected(5, 3), expected(3, 4),
	}

	d, err := res.Lookup(0, m.Start())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if d.Action != 1 {
		t.Errorf("action = %d, want 1 (candidates %v)", d.Action, candidates)
	}
	if math.Abs(d.Value-candidates[1]) > 1e-9 {
		t.Errorf("value = %f, want %f", d.Value, candidates[1])
	}
}

func TestSolve_MoreStockNeverHurts(t *testing.T) {
	p := exampleParams()
	p.InitialInventory = 6
	m, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := m.Solve(dp.WithWorkers(3))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for price := 0; price < m.Levels(); price++ {
		prev := -1.0
		for s := 0; s <= p.InitialInventory; s++ {
			v, err := res.Value(0, State{Inventory: s, PriceIndex: price})
			if err != nil {
				t.Fatalf("Value: %v", err)
			}
			if v < prev-1e-9 {
				t.Errorf("V(%d/%d) = %f < V(%d/%d) = %f", s, price, v, s-1, price, prev)
			}
			prev = v
		}
	}
}

func TestSolve_PriceNeverRises(t *testing.T) {
	p := exampleParams()
	p.TimeSteps = 5
	p.InitialInventory = 8
	m, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, err := m.Solve()
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for step := 0; step < p.TimeSteps; step++ {
		st, _ := res.At(step)
		st.Range(func(s State, d dp.Decision[Action]) bool {
			if int(d.Action) < s.PriceIndex {
				t.Errorf("step %d state %v chose level %d", step, s, d.Action)
			}
			return true
		})
	}
}

func TestState_KeyRoundTrip(t *testing.T) {
	s := State{Inventory: 12, PriceIndex: 3}
	if s.String() != "12/3" {
		t.Errorf("String = %q, want 12/3", s.String())
	}
	got, err := ParseState("12/3")
	if err != nil || got != s {
		t.Errorf("ParseState = %v, %v", got, err)
	}
	for _, bad := range []string{"", "12", "x/1", "1/y"} {
		if _, err := ParseState(bad); err == nil {
			t.Errorf("ParseState(%q) returned no error", bad)
		}
	}
}

func TestModel_PriceAndDemand(t *testing.T) {
	m, err := Build(exampleParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.Price(0) != 10 || math.Abs(m.Price(3)-3) > 1e-12 {
		t.Errorf("prices = %f, %f", m.Price(0), m.Price(3))
	}
	if m.MeanDemand(0) != 1 || m.MeanDemand(2) != 3 {
		t.Errorf("demand means = %f, %f", m.MeanDemand(0), m.MeanDemand(2))
	}
	if m.Markdown(2) != 0.5 {
		t.Errorf("Markdown(2) = %f", m.Markdown(2))
	}
	if m.Start() != (State{Inventory: 2}) {
		t.Errorf("Start = %v", m.Start())
	}
}
