package sim

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/banshee-data/ringroad/internal/monitoring"
)

// Phase is the lifecycle state of a scenario run.
type Phase int

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseFinalizing
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Scenario is one run of the convoy with a fixed vehicle count.
type Scenario struct {
	Index        int
	VehicleCount int
	Variant      Variant
	Settings     Settings
}

// Validate checks the scenario before any vehicle is placed.
func (sc Scenario) Validate() error {
	if sc.VehicleCount <= 0 {
		return configErr("vehicle_count", "must be positive, got %d", sc.VehicleCount)
	}
	return sc.Settings.Validate()
}

// Frame is the convoy state after one tick, handed to observers. Vehicles
// is a copy and may be retained.
type Frame struct {
	Scenario     int       `json:"scenario"`
	VehicleCount int       `json:"vehicle_count"`
	Tick         int       `json:"tick"`
	Time         float64   `json:"time"`
	Road         Road      `json:"road"`
	Vehicles     []Vehicle `json:"vehicles"`
}

// Observer receives every frame of a running scenario. It is called on the
// simulation goroutine and must not block for long.
type Observer interface {
	ObserveFrame(f Frame)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Frame)

func (f ObserverFunc) ObserveFrame(fr Frame) { f(fr) }

// Driver runs scenarios one at a time.
type Driver struct {
	Observer Observer

	phase Phase
}

// Phase reports where the most recent run got to.
func (d *Driver) Phase() Phase {
	return d.phase
}

// Run executes one scenario to completion. Cancelling ctx stops the run at
// the next tick boundary; the returned error then wraps ctx.Err().
func (d *Driver) Run(ctx context.Context, sc Scenario) (Summary, error) {
	d.phase = PhaseInitializing
	if err := sc.Validate(); err != nil {
		return Summary{}, err
	}
	s := sc.Settings
	model, err := NewModel(sc.Variant, s)
	if err != nil {
		return Summary{}, err
	}

	rng := rand.New(rand.NewPCG(s.Seed, uint64(sc.Index)))
	vehicles, road := PlaceConvoy(sc.VehicleCount, s, rng)
	integrator := Integrator{Road: road, Scheme: s.Scheme}
	agg := NewAggregator(s)
	n := len(vehicles)
	previous := make([]float64, n)

	monitoring.Logf("scenario %d: %d vehicles, %s model, road %.2f (seam %.2f)",
		sc.Index, n, model.Variant(), road.Circumference(), road.Seam)

	d.phase = PhaseRunning
	ticks := s.Ticks()
	for tick := 1; tick <= ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return Summary{}, fmt.Errorf("scenario %d stopped at tick %d: %w", sc.Index, tick, err)
		}

		for i := range vehicles {
			previous[i] = vehicles[i].Position
		}
		agg.NoteClamps(stepConvoy(vehicles, road, model, integrator, s.Dt))
		agg.Observe(tick, previous, vehicles)

		if d.Observer != nil {
			snapshot := make([]Vehicle, n)
			copy(snapshot, vehicles)
			d.Observer.ObserveFrame(Frame{
				Scenario:     sc.Index,
				VehicleCount: n,
				Tick:         tick,
				Time:         float64(tick) * s.Dt,
				Road:         road,
				Vehicles:     snapshot,
			})
		}
	}

	d.phase = PhaseFinalizing
	summary, err := agg.Summarise(Density(n, road, s))
	summary.Scenario = sc.Index
	summary.VehicleCount = n
	summary.Variant = sc.Variant.String()
	if summary.ClampEvents > 0 {
		monitoring.Logf("scenario %d: clamped %d negative velocities", sc.Index, summary.ClampEvents)
	}
	d.phase = PhaseDone
	if err != nil {
		return summary, fmt.Errorf("scenario %d (%d vehicles): %w", sc.Index, n, err)
	}
	return summary, nil
}

// stepConvoy applies one tick to every vehicle in index order and returns
// how many velocities were clamped. Vehicle i sees the new state of any
// neighbour already updated this tick.
func stepConvoy(vehicles []Vehicle, road Road, model Model, in Integrator, dt float64) int {
	n := len(vehicles)
	clamps := 0
	for i := range vehicles {
		lead, follow := neighbours(i, n)
		ego := vehicles[i]
		situation := Situation{
			Ego:            ego,
			LeadGap:        road.LeadGap(ego.Position, vehicles[lead].Position),
			FollowGap:      road.FollowGap(ego.Position, vehicles[follow].Position),
			LeadVelocity:   vehicles[lead].Velocity,
			FollowVelocity: vehicles[follow].Velocity,
		}
		if in.Apply(&vehicles[i], model.Command(situation, dt), dt) {
			clamps++
		}
	}
	return clamps
}
