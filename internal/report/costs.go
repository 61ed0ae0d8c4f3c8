package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/scout/internal/eventlog"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// CostsFilename is the rendered chart file name inside a run directory.
const CostsFilename = "costs.html"

const fullZoomPct = 100

// costPoint is one sample on the run timeline.
type costPoint struct {
	label string
	spend float64
	tier  state.Tier
}

// RenderCosts writes an interactive HTML page charting cumulative spend and
// the degradation tier over the life of a run, reconstructed from its event
// log. Samples come from budget_tick events; tier_change events step the
// tier line between ticks.
func RenderCosts(events []eventlog.Event, w io.Writer) error {
	points := collectCostPoints(events)

	page := components.NewPage()
	page.PageTitle = "Research Run Costs"
	page.AddCharts(buildSpendChart(points), buildTierChart(points))

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render costs page: %w", err)
	}

	return nil
}

func collectCostPoints(events []eventlog.Event) []costPoint {
	var points []costPoint

	spend := 0.0
	tier := state.TierFull

	for _, ev := range events {
		switch ev.Event {
		case eventlog.BudgetTick:
			if v, ok := payloadFloat(ev.Payload, "spent_usd"); ok {
				spend = v
			}
		case eventlog.TierChange:
			if v, ok := payloadString(ev.Payload, "new"); ok {
				tier = state.Tier(v)
			}
		default:
			continue
		}

		points = append(points, costPoint{label: timeLabel(ev.TS), spend: spend, tier: tier})
	}

	return points
}

func buildSpendChart(points []costPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cumulative Spend",
			Subtitle: costSubtitle(points),
			Left:     "2%",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: fullZoomPct}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "USD"}),
	)

	labels := make([]string, len(points))
	data := make([]opts.LineData, len(points))

	for i, p := range points {
		labels[i] = p.label
		data[i] = opts.LineData{Value: p.spend}
	}

	line.SetXAxis(labels)
	line.AddSeries("spend", data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
	)

	return line
}

func buildTierChart(points []costPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Degradation Tier",
			Subtitle: "0 FULL, 1 REDUCED, 2 CACHED, 3 PARTIAL",
			Left:     "2%",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Tier", Max: state.TierPartial.Rank()}),
	)

	labels := make([]string, len(points))
	data := make([]opts.LineData, len(points))

	for i, p := range points {
		labels[i] = p.label
		data[i] = opts.LineData{Value: p.tier.Rank()}
	}

	line.SetXAxis(labels)
	line.AddSeries("tier", data)

	return line
}

func costSubtitle(points []costPoint) string {
	if len(points) == 0 {
		return "No budget events recorded"
	}

	return fmt.Sprintf("Final spend $%.4f over %d samples", points[len(points)-1].spend, len(points))
}

// timeLabel shortens an event timestamp to clock time for the X axis.
func timeLabel(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}

	return t.UTC().Format("15:04:05")
}

func payloadFloat(p map[string]any, key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func payloadString(p map[string]any, key string) (string, bool) {
	v, ok := p[key].(string)

	return v, ok
}
