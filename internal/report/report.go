// Package report renders clearance results for people: a terminal summary,
// a per-step policy table and an HTML chart page.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/logrusorgru/aurora"

	"github.com/rogersf/backdp/internal/clearance"
	"github.com/rogersf/backdp/internal/dp"
	"github.com/rogersf/backdp/internal/simulate"
)

func money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// WriteSummary prints the headline numbers and per-step averages of perf.
func WriteSummary(w io.Writer, perf *simulate.Performance, color bool) error {
	au := aurora.NewAurora(color)
	var b strings.Builder

	fmt.Fprintf(&b, "%s (%s traces)\n", au.Bold("Clearance performance"), humanize.Comma(int64(perf.Traces)))
	rows := []struct {
		label string
		value float64
	}{
		{"Optimal VF", perf.OptimalValue},
		{"Total Value", perf.TotalValue},
		{"Revenue", perf.Revenue},
		{"A Markdown", perf.Markdown},
		{"Salvage", perf.Salvage},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-12s %s\n", r.label, au.Cyan(money(r.value)))
	}

	fmt.Fprintf(&b, "\n  %-6s %12s %10s\n", "step", "remaining", "markdown")
	for t := range perf.Remaining {
		fmt.Fprintf(&b, "  %-6d %12.3f %s\n", t, perf.Remaining[t], au.Yellow(fmt.Sprintf("%9.1f%%", 100*perf.Actions[t])))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WritePolicy prints the decision of every state at one step as a grid with
// one row per inventory level and one column per current price level.
func WritePolicy(w io.Writer, m *clearance.Model, res *dp.Result[clearance.State, clearance.Action], step int, color bool) error {
	st, err := res.At(step)
	if err != nil {
		return err
	}
	au := aurora.NewAurora(color)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %d\n", au.Bold("Policy at step"), step)
	b.WriteString("  inv ")
	for p := 0; p < m.Levels(); p++ {
		fmt.Fprintf(&b, "| %-16s", fmt.Sprintf("from %.0f%% off", 100*m.Markdown(clearance.Action(p))))
	}
	b.WriteString("\n")

	for s := m.Params.InitialInventory; s >= 0; s-- {
		fmt.Fprintf(&b, "  %3d ", s)
		for p := 0; p < m.Levels(); p++ {
			d, ok := st.Lookup(clearance.State{Inventory: s, PriceIndex: p})
			if !ok {
				fmt.Fprintf(&b, "| %-16s", "-")
				continue
			}
			cell := fmt.Sprintf("%3.0f%% %11s", 100*m.Markdown(d.Action), money(d.Value))
			if int(d.Action) == p {
				fmt.Fprintf(&b, "| %s", au.Green(fmt.Sprintf("%-16s", cell)))
			} else {
				fmt.Fprintf(&b, "| %s", au.Red(fmt.Sprintf("%-16s", cell)))
			}
		}
		b.WriteString("\n")
	}

	_, err = io.WriteString(w, b.String())
	return err
}
