package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/ringroad/internal/sweep"
	"github.com/banshee-data/ringroad/internal/units"
)

// Series names used on the chart pages.
const (
	SpeedSeriesName = "average speed"
	FlowSeriesName  = "flow"
)

// Charts builds the speed–density and flow–density scatter charts for state.
func Charts(state sweep.SweepState, speedUnit string) (*charts.Scatter, *charts.Scatter) {
	subtitle := fmt.Sprintf("%s model, %d/%d scenarios, %s",
		state.Variant, state.CompletedScenarios, state.TotalScenarios, state.Status)

	speed := newScatter("Speed vs density", subtitle, "average speed ("+units.SpeedLabel(speedUnit)+")")
	speed.AddSeries(SpeedSeriesName, scatterData(speedXYs(state.SpeedSeries, speedUnit)),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}),
	)

	flow := newScatter("Flow vs density", subtitle, "flow (veh/h)")
	flow.AddSeries(FlowSeriesName, scatterData(flowXYs(state.FlowSeries)),
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}),
	)
	return speed, flow
}

func newScatter(title, subtitle, yName string) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "density (veh/km)", NameLocation: "middle", NameGap: 25, Min: 0}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 40, Min: 0}),
	)
	return scatter
}

func scatterData(pts plotter.XYs) []opts.ScatterData {
	data := make([]opts.ScatterData, len(pts))
	for i, p := range pts {
		data[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y}}
	}
	return data
}

// RenderHTML writes a self-contained page with both charts and the
// capacity summary of state.
func RenderHTML(w io.Writer, state sweep.SweepState, speedUnit string) error {
	if err := units.Validate(speedUnit); err != nil {
		return err
	}
	speed, flow := Charts(state, speedUnit)
	if c, ok := PeakFlow(state.FlowSeries); ok {
		flow.SetGlobalOptions(charts.WithTitleOpts(opts.Title{
			Title: "Flow vs density",
			Subtitle: fmt.Sprintf("capacity %.0f veh/h at %.1f veh/km",
				units.FlowPerHour(c.Flow), units.DensityPerKm(c.CriticalDensity)),
		}))
	}

	page := components.NewPage()
	page.PageTitle = "Ring road sweep " + state.RunID
	page.AddCharts(speed, flow)
	return page.Render(w)
}
