package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/rogersf/backdp/internal/simulate"
)

// WriteChart renders an HTML page with the mean remaining inventory and the
// mean markdown per step.
func WriteChart(w io.Writer, perf *simulate.Performance) error {
	steps := make([]string, len(perf.Remaining))
	for i := range steps {
		steps[i] = fmt.Sprintf("%d", i)
	}

	remaining := charts.NewLine()
	remaining.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Remaining inventory",
			Subtitle: fmt.Sprintf("mean over %d traces", perf.Traces),
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: "shine",
		}),
	)
	items := make([]opts.LineData, 0, len(perf.Remaining))
	for _, v := range perf.Remaining {
		items = append(items, opts.LineData{Value: v})
	}
	remaining.SetXAxis(steps).AddSeries("remaining", items)

	markdown := charts.NewBar()
	markdown.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Markdown",
		}),
		charts.WithInitializationOpts(opts.Initialization{
			Theme: "shine",
		}),
	)
	bars := make([]opts.BarData, 0, len(perf.Actions))
	for _, v := range perf.Actions {
		bars = append(bars, opts.BarData{Value: 100 * v})
	}
	markdown.SetXAxis(steps).AddSeries("markdown %", bars)

	page := components.NewPage()
	page.AddCharts(remaining, markdown)
	return page.Render(w)
}
