// Package report turns sweep results into the speed–density and
// flow–density figures, a standalone HTML page, and a capacity summary.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/ringroad/internal/fsutil"
	"github.com/banshee-data/ringroad/internal/sweep"
	"github.com/banshee-data/ringroad/internal/units"
)

// Output file names inside the figure directory.
const (
	SpeedFigure = "figure_svd.png"
	FlowFigure  = "figure_fvd.png"
	HTMLReport  = "report.html"
)

// ErrNoResults is returned when a sweep produced nothing to plot.
var ErrNoResults = errors.New("no scenario results")

// Options controls figure rendering.
type Options struct {
	SpeedUnit string // units.MPS, units.KMPH, units.MPH
	Width     vg.Length
	Height    vg.Length
	DPI       int
}

// DefaultOptions renders 8x6 inch figures at 150 dpi in m/s.
func DefaultOptions() Options {
	return Options{SpeedUnit: units.MPS, Width: 8 * vg.Inch, Height: 6 * vg.Inch, DPI: 150}
}

var pointColour = color.RGBA{R: 31, G: 119, B: 180, A: 255}

// WriteFigures renders both scatter figures of state into dir and returns
// the paths written.
func WriteFigures(fsys fsutil.FileSystem, dir string, state sweep.SweepState, o Options) ([]string, error) {
	if len(state.SpeedSeries) == 0 {
		return nil, ErrNoResults
	}
	if err := units.Validate(o.SpeedUnit); err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create figure dir: %w", err)
	}

	title := fmt.Sprintf("%s model, %d scenarios", state.Variant, len(state.SpeedSeries))

	speed, err := scatter(
		"Speed vs density: "+title,
		"density (veh/km)",
		"average speed ("+units.SpeedLabel(o.SpeedUnit)+")",
		speedXYs(state.SpeedSeries, o.SpeedUnit),
	)
	if err != nil {
		return nil, fmt.Errorf("speed figure: %w", err)
	}
	flow, err := scatter(
		"Flow vs density: "+title,
		"density (veh/km)",
		"flow (veh/h)",
		flowXYs(state.FlowSeries),
	)
	if err != nil {
		return nil, fmt.Errorf("flow figure: %w", err)
	}

	var written []string
	for _, f := range []struct {
		name string
		p    *plot.Plot
	}{
		{SpeedFigure, speed},
		{FlowFigure, flow},
	} {
		path := filepath.Join(dir, f.name)
		if err := writePNG(fsys, path, f.p, o); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func speedXYs(series []sweep.Point, unit string) plotter.XYs {
	pts := make(plotter.XYs, len(series))
	for i, p := range series {
		pts[i].X = units.DensityPerKm(p.Density)
		pts[i].Y = units.ConvertSpeed(p.Value, unit)
	}
	return pts
}

func flowXYs(series []sweep.Point) plotter.XYs {
	pts := make(plotter.XYs, len(series))
	for i, p := range series {
		pts[i].X = units.DensityPerKm(p.Density)
		pts[i].Y = units.FlowPerHour(p.Value)
	}
	return pts
}

func scatter(title, xLabel, yLabel string, pts plotter.XYs) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	p.X.Min = 0
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	s, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	s.GlyphStyle.Color = pointColour
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Radius = vg.Points(3)
	p.Add(s)
	return p, nil
}

func writePNG(fsys fsutil.FileSystem, path string, p *plot.Plot, o Options) error {
	c := vgimg.NewWith(
		vgimg.UseWH(o.Width, o.Height),
		vgimg.UseDPI(o.DPI),
	)
	p.Draw(draw.New(c))

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("cannot write png %s: %w", path, err)
	}
	return f.Close()
}

// Capacity is the highest flow a sweep observed.
type Capacity struct {
	Flow            float64 `json:"flow"`             // veh/s
	CriticalDensity float64 `json:"critical_density"` // veh/m at peak flow
	Scenario        int     `json:"scenario"`         // index into the series
}

// PeakFlow finds the capacity point of a flow–density series. The second
// result is false for an empty series.
func PeakFlow(series []sweep.Point) (Capacity, bool) {
	if len(series) == 0 {
		return Capacity{}, false
	}
	flows := make([]float64, len(series))
	for i, p := range series {
		flows[i] = p.Value
	}
	i := floats.MaxIdx(flows)
	return Capacity{Flow: series[i].Value, CriticalDensity: series[i].Density, Scenario: i}, true
}
