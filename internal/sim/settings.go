// Package sim implements the ring-road car-following simulation core:
// vehicle state, the circular road topology, the car-following models,
// the integrator, and the per-scenario driver with its metric aggregation.
//
// Everything in this package is single-threaded and deterministic for a
// given seed. Vehicles within a tick are updated strictly in convoy index
// order, and a vehicle's gap to an already-updated neighbour reflects that
// neighbour's new state.
package sim

import (
	"fmt"
	"math"
)

// Default display geometry: a 1920 px wide window at 30 px per unit.
const (
	DefaultScreenWidth   = 1920.0
	DefaultPixelsPerUnit = 30.0
	DefaultMarginPixels  = 48.0
)

// Settings holds the constants shared by every scenario of a sweep.
type Settings struct {
	Dt       float64 // seconds per tick
	Duration float64 // seconds per scenario
	Warmup   float64 // seconds excluded from metrics

	ScreenWidth   float64 // px
	PixelsPerUnit float64
	MarginPixels  float64 // vehicle sprite width reserved at the right edge

	// DistanceScale converts position units to metres for density.
	DistanceScale float64
	// MinRoadFraction lower-bounds the effective road length as a share of
	// the usable length.
	MinRoadFraction float64

	LeadFraction        float64 // first vehicle x as a share of usable length
	SpacingMin          float64
	SpacingMax          float64
	InitialVelocity     float64
	InitialAcceleration float64
	Seed                uint64

	Scheme       Scheme
	IDM          IDMParams
	Custom       CustomParams
	BaselineStep float64
}

// DefaultSettings returns the standard ring-road constants.
func DefaultSettings() Settings {
	return Settings{
		Dt:                  0.1,
		Duration:            30,
		Warmup:              15,
		ScreenWidth:         DefaultScreenWidth,
		PixelsPerUnit:       DefaultPixelsPerUnit,
		MarginPixels:        DefaultMarginPixels,
		DistanceScale:       0.04,
		MinRoadFraction:     0.25,
		LeadFraction:        0.75,
		SpacingMin:          1,
		SpacingMax:          2,
		InitialVelocity:     25,
		InitialAcceleration: 2,
		Scheme:              SchemeForwardEuler,
		IDM:                 DefaultIDMParams(),
		Custom:              DefaultCustomParams(),
		BaselineStep:        0.1,
	}
}

// UsableLength is the linear extent of the road in position units.
func (s Settings) UsableLength() float64 {
	return (s.ScreenWidth - s.MarginPixels) / s.PixelsPerUnit
}

// Ticks is the number of ticks in one scenario.
func (s Settings) Ticks() int {
	return int(math.Round(s.Duration / s.Dt))
}

// WarmupTicks is the number of leading ticks excluded from metrics.
// Metrics are sampled on ticks strictly greater than this value.
func (s Settings) WarmupTicks() int {
	return int(math.Round(s.Warmup / s.Dt))
}

// Validate reports the first invalid field as a *ConfigError.
func (s Settings) Validate() error {
	switch {
	case !(s.Dt > 0):
		return configErr("dt", "must be positive, got %v", s.Dt)
	case !(s.Duration > 0):
		return configErr("duration", "must be positive, got %v", s.Duration)
	case s.Warmup < 0:
		return configErr("warmup", "must be non-negative, got %v", s.Warmup)
	case s.Warmup >= s.Duration:
		return configErr("warmup", "must be less than duration (%v >= %v)", s.Warmup, s.Duration)
	case !(s.PixelsPerUnit > 0):
		return configErr("pixels_per_unit", "must be positive, got %v", s.PixelsPerUnit)
	case !(s.UsableLength() > 0):
		return configErr("screen_width", "leaves no usable road (%v px with %v px margin)", s.ScreenWidth, s.MarginPixels)
	case !(s.DistanceScale > 0):
		return configErr("distance_scale", "must be positive, got %v", s.DistanceScale)
	case s.MinRoadFraction < 0 || s.MinRoadFraction > 1:
		return configErr("min_road_fraction", "must be within [0, 1], got %v", s.MinRoadFraction)
	case s.SpacingMin < 0 || s.SpacingMax < s.SpacingMin:
		return configErr("spacing", "needs 0 <= min <= max, got [%v, %v]", s.SpacingMin, s.SpacingMax)
	case s.InitialVelocity < 0:
		return configErr("initial_velocity", "must be non-negative, got %v", s.InitialVelocity)
	case !(s.BaselineStep >= 0):
		return configErr("baseline_step", "must be non-negative, got %v", s.BaselineStep)
	}
	if err := s.IDM.validate("idm"); err != nil {
		return err
	}
	if err := s.Custom.IDM.validate("custom.idm"); err != nil {
		return err
	}
	if s.Custom.FollowerGain < 0 {
		return configErr("custom.follower_gain", "must be non-negative, got %v", s.Custom.FollowerGain)
	}
	return nil
}

// ConfigError describes an invalid configuration value. The sweep does not
// start when one is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
