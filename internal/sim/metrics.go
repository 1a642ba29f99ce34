package sim

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrDegenerateScenario is returned when a scenario produced no samples
// after warm-up, so average speed is undefined.
var ErrDegenerateScenario = errors.New("no samples after warm-up")

// Summary is the aggregate result of one scenario.
type Summary struct {
	Scenario     int     `json:"scenario"`
	VehicleCount int     `json:"vehicle_count"`
	Variant      string  `json:"variant"`
	Density      float64 `json:"density"`   // veh/m
	AvgSpeed     float64 `json:"avg_speed"` // m/s
	Flow         float64 `json:"flow"`      // veh/s
	SpeedStdDev  float64 `json:"speed_stddev"`
	Samples      int     `json:"samples"`
	FlowEvents   int     `json:"flow_events"`
	ClampEvents  int     `json:"clamp_events"`
}

// Density is vehicles per metre of effective road.
func Density(n int, road Road, s Settings) float64 {
	return float64(n) / (road.EffectiveLength(s.MinRoadFraction) * s.DistanceScale)
}

// Aggregator accumulates flow and speed over the post-warm-up window of a
// single scenario. It is not safe for concurrent use.
type Aggregator struct {
	warmupTicks int
	window      float64

	flowEvents  int
	speedSum    float64
	samples     int
	tickMeans   []float64
	clampEvents int
}

// NewAggregator returns an empty aggregator for one scenario.
func NewAggregator(s Settings) *Aggregator {
	return &Aggregator{
		warmupTicks: s.WarmupTicks(),
		window:      s.Duration - s.Warmup,
	}
}

// Observe samples the convoy after tick has been applied. previous holds
// each vehicle's position at the start of the tick. Ticks inside the
// warm-up window are ignored.
func (a *Aggregator) Observe(tick int, previous []float64, vehicles []Vehicle) {
	if tick <= a.warmupTicks || len(vehicles) == 0 {
		return
	}
	var tickSum float64
	for i, v := range vehicles {
		// Under forward motion a position only drops when the vehicle
		// wrapped through the seam.
		if v.Position < previous[i] {
			a.flowEvents++
		}
		tickSum += v.Velocity
	}
	a.speedSum += tickSum
	a.samples += len(vehicles)
	a.tickMeans = append(a.tickMeans, tickSum/float64(len(vehicles)))
}

// NoteClamps records negative velocities that were clamped to zero.
func (a *Aggregator) NoteClamps(n int) {
	a.clampEvents += n
}

// Summarise closes the window and returns speed and flow for the scenario.
func (a *Aggregator) Summarise(density float64) (Summary, error) {
	sum := Summary{
		Density:     density,
		Samples:     a.samples,
		FlowEvents:  a.flowEvents,
		ClampEvents: a.clampEvents,
	}
	if a.samples == 0 {
		return sum, ErrDegenerateScenario
	}
	if !(a.window > 0) {
		return sum, fmt.Errorf("observation window %v: %w", a.window, ErrDegenerateScenario)
	}
	sum.AvgSpeed = a.speedSum / float64(a.samples)
	sum.Flow = float64(a.flowEvents) / a.window
	if len(a.tickMeans) > 1 {
		sum.SpeedStdDev = stat.StdDev(a.tickMeans, nil)
	}
	return sum, nil
}
