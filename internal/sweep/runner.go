// Package sweep runs one scenario per vehicle count and hands each summary
// to the configured recorders.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ringroad/internal/monitoring"
	"github.com/banshee-data/ringroad/internal/sim"
	"github.com/banshee-data/ringroad/internal/timeutil"
)

var logf = monitoring.Prefixed("sweep")

// SweepStatus represents the current state of a sweep run
type SweepStatus string

const (
	SweepStatusIdle     SweepStatus = "idle"
	SweepStatusRunning  SweepStatus = "running"
	SweepStatusComplete SweepStatus = "complete"
	SweepStatusStopped  SweepStatus = "stopped"
	SweepStatusError    SweepStatus = "error"
)

// Request defines one sweep.
type Request struct {
	Variant       sim.Variant
	VehicleCounts []int
	Settings      sim.Settings
}

// Validate rejects a request before anything runs.
func (req Request) Validate() error {
	if len(req.VehicleCounts) == 0 {
		return &sim.ConfigError{Field: "vehicle_counts", Reason: "must not be empty"}
	}
	for i, n := range req.VehicleCounts {
		if n <= 0 {
			return &sim.ConfigError{Field: "vehicle_counts", Reason: fmt.Sprintf("entry %d must be positive, got %d", i, n)}
		}
	}
	return req.Settings.Validate()
}

// Point is one (density, value) pair of a result series.
type Point struct {
	Density float64 `json:"density"`
	Value   float64 `json:"value"`
}

// Run identifies one sweep for recorders.
type Run struct {
	ID            string
	Variant       sim.Variant
	VehicleCounts []int
	Settings      sim.Settings
	StartedAt     time.Time
}

// SweepState holds the current state and results of a sweep
type SweepState struct {
	RunID              string        `json:"run_id,omitempty"`
	Status             SweepStatus   `json:"status"`
	Variant            string        `json:"variant,omitempty"`
	StartedAt          *time.Time    `json:"started_at,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	TotalScenarios     int           `json:"total_scenarios"`
	CompletedScenarios int           `json:"completed_scenarios"`
	CurrentCount       int           `json:"current_vehicle_count,omitempty"`
	Results            []sim.Summary `json:"results"`
	SpeedSeries        []Point       `json:"speed_series"`
	FlowSeries         []Point       `json:"flow_series"`
	Error              string        `json:"error,omitempty"`
	Warnings           []string      `json:"warnings,omitempty"`
}

// Runner orchestrates vehicle-count sweeps. Scenarios run one after another
// on the caller's goroutine; the state is safe to read from others.
type Runner struct {
	recorders []Recorder
	driver    sim.Driver
	clock     timeutil.Clock
	cooldown  time.Duration

	mu     sync.RWMutex
	state  SweepState
	cancel context.CancelFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver forwards every simulation frame to o.
func WithObserver(o sim.Observer) Option {
	return func(r *Runner) { r.driver.Observer = o }
}

// WithClock replaces the wall clock used for timestamps and the cooldown.
func WithClock(c timeutil.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithCooldown pauses for d after a completed sweep so a live view can
// show the final state.
func WithCooldown(d time.Duration) Option {
	return func(r *Runner) { r.cooldown = d }
}

// NewRunner creates a new sweep runner writing to the given recorders.
func NewRunner(recorders []Recorder, opts ...Option) *Runner {
	r := &Runner{
		recorders: recorders,
		clock:     timeutil.RealClock{},
		state:     SweepState{Status: SweepStatusIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// addWarning appends a warning message to the sweep state.
func (r *Runner) addWarning(msg string) {
	r.mu.Lock()
	r.state.Warnings = append(r.state.Warnings, msg)
	r.mu.Unlock()
}

// GetSweepState returns a copy of the current sweep state.
func (r *Runner) GetSweepState() SweepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := r.state
	state.Results = append([]sim.Summary(nil), r.state.Results...)
	state.SpeedSeries = append([]Point(nil), r.state.SpeedSeries...)
	state.FlowSeries = append([]Point(nil), r.state.FlowSeries...)
	state.Warnings = append([]string(nil), r.state.Warnings...)
	return state
}

// Stop cancels a running sweep. Records already written stay intact.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Run executes every scenario of req in order and returns the final state.
// A *sim.ConfigError means nothing ran. Degenerate scenarios become
// warnings. Recorder failures never stop the sweep; they are joined into
// the returned error once it finishes.
func (r *Runner) Run(ctx context.Context, req Request) (SweepState, error) {
	if err := req.Validate(); err != nil {
		return r.GetSweepState(), err
	}

	r.mu.Lock()
	if r.state.Status == SweepStatusRunning {
		r.mu.Unlock()
		return r.GetSweepState(), fmt.Errorf("sweep already in progress")
	}
	now := r.clock.Now()
	run := Run{
		ID:            uuid.New().String(),
		Variant:       req.Variant,
		VehicleCounts: append([]int(nil), req.VehicleCounts...),
		Settings:      req.Settings,
		StartedAt:     now,
	}
	total := len(req.VehicleCounts)
	r.state = SweepState{
		RunID:          run.ID,
		Status:         SweepStatusRunning,
		Variant:        req.Variant.String(),
		StartedAt:      &now,
		TotalScenarios: total,
		Results:        make([]sim.Summary, 0, total),
		SpeedSeries:    make([]Point, 0, total),
		FlowSeries:     make([]Point, 0, total),
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer r.Stop()

	var recErrs []error
	for _, rec := range r.recorders {
		if lc, ok := rec.(RunLifecycle); ok {
			if err := lc.BeginRun(sweepCtx, run); err != nil {
				recErrs = append(recErrs, fmt.Errorf("begin run: %w", err))
			}
		}
	}

	logf("run %s: %d scenarios, %s model", run.ID, total, req.Variant)
	runErr := r.runScenarios(sweepCtx, run, req, &recErrs)

	r.mu.Lock()
	completed := r.clock.Now()
	r.state.CompletedAt = &completed
	r.state.CurrentCount = 0
	switch {
	case runErr == nil:
		r.state.Status = SweepStatusComplete
	case sweepCtx.Err() != nil:
		r.state.Status = SweepStatusStopped
		r.state.Error = runErr.Error()
	default:
		r.state.Status = SweepStatusError
		r.state.Error = runErr.Error()
	}
	final := r.state
	r.mu.Unlock()

	for _, rec := range r.recorders {
		if lc, ok := rec.(RunLifecycle); ok {
			// The run row is closed even when the sweep was stopped.
			if err := lc.FinishRun(context.WithoutCancel(ctx), run, final.Status, final.CompletedScenarios); err != nil {
				recErrs = append(recErrs, fmt.Errorf("finish run: %w", err))
			}
		}
	}

	if runErr != nil {
		logf("run %s %s: %v", run.ID, final.Status, runErr)
		return r.GetSweepState(), errors.Join(append([]error{runErr}, recErrs...)...)
	}
	logf("run %s complete: %d scenarios evaluated in %v", run.ID, final.CompletedScenarios, r.clock.Since(now))

	if r.cooldown > 0 {
		if err := r.clock.Sleep(sweepCtx, r.cooldown); err != nil {
			logf("cooldown interrupted: %v", err)
		}
	}

	if len(recErrs) > 0 {
		return r.GetSweepState(), fmt.Errorf("sweep %s recorders: %w", run.ID, errors.Join(recErrs...))
	}
	return r.GetSweepState(), nil
}

func (r *Runner) runScenarios(ctx context.Context, run Run, req Request, recErrs *[]error) error {
	total := len(req.VehicleCounts)
	for i, n := range req.VehicleCounts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sweep stopped at scenario %d/%d: %w", i+1, total, err)
		}

		r.mu.Lock()
		r.state.CurrentCount = n
		r.mu.Unlock()
		logf("scenario %d/%d: %d vehicles", i+1, total, n)

		summary, err := r.driver.Run(ctx, sim.Scenario{
			Index:        i,
			VehicleCount: n,
			Variant:      req.Variant,
			Settings:     req.Settings,
		})
		switch {
		case err == nil:
		case errors.Is(err, sim.ErrDegenerateScenario):
			msg := fmt.Sprintf("scenario %d (%d vehicles) skipped: %v", i+1, n, err)
			logf("WARNING: %s", msg)
			r.addWarning(msg)
			continue
		case ctx.Err() != nil:
			return fmt.Errorf("sweep stopped at scenario %d/%d: %w", i+1, total, err)
		default:
			return err
		}

		r.mu.Lock()
		r.state.Results = append(r.state.Results, summary)
		r.state.SpeedSeries = append(r.state.SpeedSeries, Point{Density: summary.Density, Value: summary.AvgSpeed})
		r.state.FlowSeries = append(r.state.FlowSeries, Point{Density: summary.Density, Value: summary.Flow})
		r.state.CompletedScenarios++
		r.mu.Unlock()

		// A scenario that finished is recorded even if a stop arrived on
		// its last tick.
		recordCtx := context.WithoutCancel(ctx)
		for _, rec := range r.recorders {
			if err := rec.Record(recordCtx, run, summary); err != nil {
				logf("WARNING: recorder failed for scenario %d: %v", i+1, err)
				r.addWarning(fmt.Sprintf("recorder: %v", err))
				*recErrs = append(*recErrs, fmt.Errorf("scenario %d: %w", i+1, err))
			}
		}
	}
	return nil
}
