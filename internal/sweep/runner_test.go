package sweep

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ringroad/internal/fsutil"
	"github.com/banshee-data/ringroad/internal/monitoring"
	"github.com/banshee-data/ringroad/internal/sim"
	"github.com/banshee-data/ringroad/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

// spyRecorder keeps everything it is handed.
type spyRecorder struct {
	began     []Run
	finished  []SweepStatus
	completed []int
	summaries []sim.Summary
	err       error
}

func (s *spyRecorder) Record(_ context.Context, _ Run, sum sim.Summary) error {
	s.summaries = append(s.summaries, sum)
	return s.err
}

func (s *spyRecorder) BeginRun(_ context.Context, run Run) error {
	s.began = append(s.began, run)
	return nil
}

func (s *spyRecorder) FinishRun(_ context.Context, _ Run, status SweepStatus, completed int) error {
	s.finished = append(s.finished, status)
	s.completed = append(s.completed, completed)
	return nil
}

func baselineRequest(counts ...int) Request {
	return Request{Variant: sim.VariantBaseline, VehicleCounts: counts, Settings: sim.DefaultSettings()}
}

// readPairs parses "density,value" lines.
func readPairs(t *testing.T, fs *fsutil.MemoryFileSystem, name string) []Point {
	t.Helper()
	data, err := fs.ReadFile(name)
	require.NoError(t, err)

	var pts []Point
	for _, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		require.Len(t, fields, 2, "line %q", line)
		d, err := strconv.ParseFloat(fields[0], 64)
		require.NoError(t, err)
		v, err := strconv.ParseFloat(fields[1], 64)
		require.NoError(t, err)
		pts = append(pts, Point{Density: d, Value: v})
	}
	return pts
}

func TestRunner_WritesOrderedPairs(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	lines, err := NewLineRecorder(mfs, "out/flow-speed-data", "out/flow-density-data")
	require.NoError(t, err)
	defer lines.Close()

	r := NewRunner([]Recorder{lines})
	state, err := r.Run(context.Background(), baselineRequest(1, 2, 4))
	require.NoError(t, err)

	assert.Equal(t, SweepStatusComplete, state.Status)
	assert.Equal(t, 3, state.CompletedScenarios)
	assert.NotEmpty(t, state.RunID)

	speed := readPairs(t, mfs, "out/flow-speed-data")
	flow := readPairs(t, mfs, "out/flow-density-data")
	require.Len(t, speed, 3)
	require.Len(t, flow, 3)

	for i := 1; i < 3; i++ {
		assert.Greater(t, speed[i].Density, speed[i-1].Density, "density must increase")
	}
	for i := range speed {
		assert.Equal(t, speed[i].Density, flow[i].Density)
		assert.GreaterOrEqual(t, flow[i].Value, 0.0)
		// Baseline vehicles always report step/dt.
		assert.InDelta(t, 1.0, speed[i].Value, 1e-9)
	}

	if diff := cmp.Diff(state.SpeedSeries, speed); diff != "" {
		t.Errorf("speed file differs from state (-state +file):\n%s", diff)
	}
	if diff := cmp.Diff(state.FlowSeries, flow); diff != "" {
		t.Errorf("flow file differs from state (-state +file):\n%s", diff)
	}
}

func TestRunner_AppendsAcrossRuns(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	for run := 0; run < 2; run++ {
		lines, err := NewLineRecorder(mfs, "speed", "flow")
		require.NoError(t, err)
		_, err = NewRunner([]Recorder{lines}).Run(context.Background(), baselineRequest(1))
		require.NoError(t, err)
		require.NoError(t, lines.Close())
	}
	assert.Len(t, readPairs(t, mfs, "speed"), 2)
	assert.Len(t, readPairs(t, mfs, "flow"), 2)
}

func TestRunner_RejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		wantField string
	}{
		{"empty counts", baselineRequest(), "vehicle_counts"},
		{"zero count", baselineRequest(1, 0), "vehicle_counts"},
		{"negative count", baselineRequest(-3), "vehicle_counts"},
		{"bad settings", func() Request {
			req := baselineRequest(1)
			req.Settings.Dt = -0.1
			return req
		}(), "dt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyRecorder{}
			r := NewRunner([]Recorder{spy})
			state, err := r.Run(context.Background(), tt.req)

			var cfgErr *sim.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.Equal(t, SweepStatusIdle, state.Status)
			assert.Empty(t, spy.began)
			assert.Empty(t, spy.summaries)
		})
	}
}

func TestRunner_DegenerateScenariosAreWarnings(t *testing.T) {
	req := baselineRequest(1, 2)
	req.Settings.Duration = 0.12
	req.Settings.Warmup = 0.1

	spy := &spyRecorder{}
	state, err := NewRunner([]Recorder{spy}).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, SweepStatusComplete, state.Status)
	assert.Len(t, state.Warnings, 2)
	assert.Empty(t, state.Results)
	assert.Empty(t, spy.summaries)
	assert.Equal(t, []int{0}, spy.completed)
}

var errDiskFull = errors.New("disk full")

func TestRunner_RecorderFailureDoesNotStopSweep(t *testing.T) {
	failing := &spyRecorder{err: errDiskFull}
	healthy := &spyRecorder{}

	state, err := NewRunner([]Recorder{failing, healthy}).Run(context.Background(), baselineRequest(1, 2, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errDiskFull))

	assert.Equal(t, SweepStatusComplete, state.Status)
	assert.Len(t, state.Results, 3)
	assert.Len(t, healthy.summaries, 3)
	assert.Len(t, failing.summaries, 3)
	assert.Len(t, state.Warnings, 3)

	// Both recorders saw identical summaries.
	if diff := cmp.Diff(failing.summaries, healthy.summaries); diff != "" {
		t.Errorf("recorders diverged:\n%s", diff)
	}
}

func TestRunner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spy := &spyRecorder{}
	observer := sim.ObserverFunc(func(f sim.Frame) {
		if f.Scenario == 1 && f.Tick == 5 {
			cancel()
		}
	})
	r := NewRunner([]Recorder{spy}, WithObserver(observer))

	state, err := r.Run(ctx, baselineRequest(1, 2, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Equal(t, SweepStatusStopped, state.Status)
	assert.NotEmpty(t, state.Error)
	assert.Len(t, state.Results, 1)
	assert.Len(t, spy.summaries, 1)
	assert.Equal(t, []SweepStatus{SweepStatusStopped}, spy.finished)
	assert.Equal(t, []int{1}, spy.completed)
}

func TestRunner_StopFromObserver(t *testing.T) {
	var r *Runner
	observer := sim.ObserverFunc(func(f sim.Frame) {
		if f.Scenario == 0 && f.Tick == 1 {
			r.Stop()
		}
	})
	r = NewRunner(nil, WithObserver(observer))

	state, err := r.Run(context.Background(), baselineRequest(1, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, SweepStatusStopped, state.Status)
	assert.Empty(t, state.Results)
}

// ctxRecorder notes whether the context it was handed was still live.
type ctxRecorder struct{ errs []error }

func (c *ctxRecorder) Record(ctx context.Context, _ Run, _ sim.Summary) error {
	c.errs = append(c.errs, ctx.Err())
	return ctx.Err()
}

func TestRunner_StopOnLastTickStillRecords(t *testing.T) {
	settings := sim.DefaultSettings()
	var r *Runner
	observer := sim.ObserverFunc(func(f sim.Frame) {
		if f.Scenario == 0 && f.Tick == settings.Ticks() {
			r.Stop()
		}
	})
	rec := &ctxRecorder{}
	r = NewRunner([]Recorder{rec}, WithObserver(observer))

	state, err := r.Run(context.Background(), baselineRequest(1, 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, SweepStatusStopped, state.Status)
	assert.Len(t, state.Results, 1)
	assert.Equal(t, []error{nil}, rec.errs)
	assert.Empty(t, state.Warnings)
}

func TestRunner_StateVisibleWhileRunning(t *testing.T) {
	var r *Runner
	var mid SweepState
	observer := sim.ObserverFunc(func(f sim.Frame) {
		if f.Scenario == 1 && f.Tick == 1 {
			mid = r.GetSweepState()
		}
	})
	r = NewRunner(nil, WithObserver(observer))

	_, err := r.Run(context.Background(), baselineRequest(1, 2, 4))
	require.NoError(t, err)

	assert.Equal(t, SweepStatusRunning, mid.Status)
	assert.Equal(t, 1, mid.CompletedScenarios)
	assert.Equal(t, 2, mid.CurrentCount)
	assert.Equal(t, 3, mid.TotalScenarios)
	assert.Len(t, mid.SpeedSeries, 1)
	assert.Equal(t, "baseline", mid.Variant)
}

func TestRunner_GetSweepStateReturnsCopy(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Run(context.Background(), baselineRequest(1, 2))
	require.NoError(t, err)

	state := r.GetSweepState()
	state.SpeedSeries[0].Value = -1
	state.Results[0].AvgSpeed = -1

	again := r.GetSweepState()
	assert.InDelta(t, 1.0, again.SpeedSeries[0].Value, 1e-9)
	assert.InDelta(t, 1.0, again.Results[0].AvgSpeed, 1e-9)
}

func TestRunner_CooldownAndTimestamps(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	spy := &spyRecorder{}

	r := NewRunner([]Recorder{spy}, WithClock(clock), WithCooldown(5*time.Second))
	state, err := r.Run(context.Background(), baselineRequest(1))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
	require.NotNil(t, state.StartedAt)
	assert.True(t, state.StartedAt.Equal(start))
	require.Len(t, spy.began, 1)
	assert.True(t, spy.began[0].StartedAt.Equal(start))
	assert.Equal(t, state.RunID, spy.began[0].ID)
	assert.Equal(t, []SweepStatus{SweepStatusComplete}, spy.finished)
}

func TestRunner_NoCooldownWhenStopped(t *testing.T) {
	clock := timeutil.NewMockClock(time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(nil, WithClock(clock), WithCooldown(5*time.Second))
	_, err := r.Run(ctx, baselineRequest(1))
	require.Error(t, err)
	assert.Empty(t, clock.Sleeps())
}

func TestRunner_ObserverSeesEveryTick(t *testing.T) {
	frames := map[int]int{}
	observer := sim.ObserverFunc(func(f sim.Frame) { frames[f.Scenario]++ })

	req := baselineRequest(1, 3)
	_, err := NewRunner(nil, WithObserver(observer)).Run(context.Background(), req)
	require.NoError(t, err)

	ticks := req.Settings.Ticks()
	assert.Equal(t, map[int]int{0: ticks, 1: ticks}, frames)
}
