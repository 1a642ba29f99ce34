package report

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ringroad/internal/fsutil"
	"github.com/banshee-data/ringroad/internal/sweep"
	"github.com/banshee-data/ringroad/internal/units"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func sampleState() sweep.SweepState {
	return sweep.SweepState{
		RunID:              "run-1",
		Status:             sweep.SweepStatusComplete,
		Variant:            "idm",
		TotalScenarios:     3,
		CompletedScenarios: 3,
		SpeedSeries: []sweep.Point{
			{Density: 0.01, Value: 20},
			{Density: 0.04, Value: 12},
			{Density: 0.08, Value: 2},
		},
		FlowSeries: []sweep.Point{
			{Density: 0.01, Value: 0.2},
			{Density: 0.04, Value: 0.48},
			{Density: 0.08, Value: 0.16},
		},
	}
}

func smallOptions() Options {
	o := DefaultOptions()
	o.Width, o.Height, o.DPI = 3*vg.Inch, 2*vg.Inch, 72
	return o
}

func TestWriteFigures(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	paths, err := WriteFigures(mfs, "plots", sampleState(), smallOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("plots", SpeedFigure),
		filepath.Join("plots", FlowFigure),
	}, paths)

	for _, p := range paths {
		data, err := mfs.ReadFile(p)
		require.NoError(t, err, p)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", p)
	}
}

func TestWriteFigures_Errors(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()

	_, err := WriteFigures(mfs, "plots", sweep.SweepState{}, smallOptions())
	assert.True(t, errors.Is(err, ErrNoResults))

	o := smallOptions()
	o.SpeedUnit = "furlongs"
	_, err = WriteFigures(mfs, "plots", sampleState(), o)
	assert.Error(t, err)
	assert.False(t, mfs.Exists(filepath.Join("plots", SpeedFigure)))
}

func TestSeriesConversion(t *testing.T) {
	state := sampleState()

	speed := speedXYs(state.SpeedSeries, units.KMPH)
	assert.InDelta(t, 10.0, speed[0].X, 1e-9)
	assert.InDelta(t, 72.0, speed[0].Y, 1e-9)

	flow := flowXYs(state.FlowSeries)
	assert.InDelta(t, 40.0, flow[1].X, 1e-9)
	assert.InDelta(t, 1728.0, flow[1].Y, 1e-9)
}

func TestPeakFlow(t *testing.T) {
	tests := []struct {
		name   string
		series []sweep.Point
		want   Capacity
		ok     bool
	}{
		{"empty", nil, Capacity{}, false},
		{"single", []sweep.Point{{Density: 0.5, Value: 0.1}}, Capacity{Flow: 0.1, CriticalDensity: 0.5}, true},
		{"interior peak", sampleState().FlowSeries, Capacity{Flow: 0.48, CriticalDensity: 0.04, Scenario: 1}, true},
		{"first of equal peaks", []sweep.Point{{Density: 0.1, Value: 0.3}, {Density: 0.2, Value: 0.3}}, Capacity{Flow: 0.3, CriticalDensity: 0.1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PeakFlow(tt.series)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, sampleState(), units.MPH))

	html := buf.String()
	for _, want := range []string{SpeedSeriesName, FlowSeriesName, "Speed vs density", "capacity 1728 veh/h at 40.0 veh/km", "mph", "run-1"} {
		assert.True(t, strings.Contains(html, want), "page missing %q", want)
	}
}

func TestRenderHTML_BadUnit(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, RenderHTML(&buf, sampleState(), "knots"))
	assert.Zero(t, buf.Len())
}
