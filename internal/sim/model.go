package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"
)

// Variant selects the car-following model for a sweep.
type Variant int

const (
	// VariantBaseline ignores gaps and moves every vehicle by a fixed step.
	VariantBaseline Variant = iota
	// VariantReference is the Intelligent Driver Model.
	VariantReference
	// VariantCustom is the IDM extended with follower pressure relief.
	VariantCustom
)

func (v Variant) String() string {
	switch v {
	case VariantBaseline:
		return "baseline"
	case VariantReference:
		return "idm"
	case VariantCustom:
		return "custom"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant accepts the names produced by Variant.String, plus "test"
// and "reference" as aliases.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "baseline", "test":
		return VariantBaseline, nil
	case "idm", "reference":
		return VariantReference, nil
	case "custom":
		return VariantCustom, nil
	}
	return 0, fmt.Errorf("unknown model variant %q (must be baseline, idm, or custom)", s)
}

// Situation is everything a model may look at for one vehicle on one tick.
// Gaps come from the Road and are never negative.
type Situation struct {
	Ego            Vehicle
	LeadGap        float64
	FollowGap      float64
	LeadVelocity   float64
	FollowVelocity float64
}

// Command is a model's decision for one tick. Most models return an
// acceleration for the integrator. Direct commands skip velocity
// integration and move the vehicle by Step.
type Command struct {
	Acceleration float64
	Direct       bool
	Step         float64
}

// Model computes a vehicle's next command. Implementations are pure.
type Model interface {
	Variant() Variant
	Command(s Situation, dt float64) Command
}

// NewModel resolves a variant to its model once per scenario.
func NewModel(v Variant, s Settings) (Model, error) {
	switch v {
	case VariantBaseline:
		return Baseline{Step: s.BaselineStep}, nil
	case VariantReference:
		return IDM{Params: s.IDM}, nil
	case VariantCustom:
		return Custom{Params: s.Custom}, nil
	}
	return nil, fmt.Errorf("no model for %v", v)
}

// IDMParams are the Intelligent Driver Model parameters.
type IDMParams struct {
	DesiredSpeed            float64 `json:"desired_speed"`            // v0, m/s
	MaxAcceleration         float64 `json:"max_acceleration"`         // a, m/s²
	ComfortableDeceleration float64 `json:"comfortable_deceleration"` // b, m/s² (positive)
	MinimumGap              float64 `json:"minimum_gap"`              // s0, m
	TimeHeadway             float64 `json:"time_headway"`             // T, s
	Exponent                float64 `json:"exponent"`                 // δ
	MaxBraking              float64 `json:"max_braking"`              // output floor, m/s² (positive)
}

// DefaultIDMParams returns textbook IDM values for urban traffic.
func DefaultIDMParams() IDMParams {
	return IDMParams{
		DesiredSpeed:            30,
		MaxAcceleration:         1.0,
		ComfortableDeceleration: 1.5,
		MinimumGap:              2.0,
		TimeHeadway:             1.5,
		Exponent:                4,
		MaxBraking:              9.0,
	}
}

func (p IDMParams) validate(prefix string) error {
	switch {
	case !(p.DesiredSpeed > 0):
		return configErr(prefix+".desired_speed", "must be positive, got %v", p.DesiredSpeed)
	case !(p.MaxAcceleration > 0):
		return configErr(prefix+".max_acceleration", "must be positive, got %v", p.MaxAcceleration)
	case !(p.ComfortableDeceleration > 0):
		return configErr(prefix+".comfortable_deceleration", "must be positive, got %v", p.ComfortableDeceleration)
	case p.MinimumGap < 0:
		return configErr(prefix+".minimum_gap", "must be non-negative, got %v", p.MinimumGap)
	case p.TimeHeadway < 0:
		return configErr(prefix+".time_headway", "must be non-negative, got %v", p.TimeHeadway)
	case !(p.Exponent > 0):
		return configErr(prefix+".exponent", "must be positive, got %v", p.Exponent)
	case !(p.MaxBraking > 0):
		return configErr(prefix+".max_braking", "must be positive, got %v", p.MaxBraking)
	}
	return nil
}

// desiredGap is s*(v, Δv).
func (p IDMParams) desiredGap(v, vLead float64) float64 {
	interaction := v*p.TimeHeadway + v*(v-vLead)/(2*math.Sqrt(p.MaxAcceleration*p.ComfortableDeceleration))
	return p.MinimumGap + math.Max(0, interaction)
}

// acceleration is the raw IDM acceleration, bounded to
// [-MaxBraking, MaxAcceleration].
func (p IDMParams) acceleration(v, vLead, gap float64) float64 {
	if gap <= 0 {
		return -p.MaxBraking
	}
	free := math.Pow(v/p.DesiredSpeed, p.Exponent)
	interaction := math.Pow(p.desiredGap(v, vLead)/gap, 2)
	return p.bound(p.MaxAcceleration * (1 - free - interaction))
}

func (p IDMParams) bound(acc float64) float64 {
	if math.IsNaN(acc) {
		return -p.MaxBraking
	}
	return lo.Clamp(acc, -p.MaxBraking, p.MaxAcceleration)
}

// IDM is the reference model. It reads only the lead gap.
type IDM struct {
	Params IDMParams
}

func (IDM) Variant() Variant { return VariantReference }

func (m IDM) Command(s Situation, _ float64) Command {
	return Command{Acceleration: m.Params.acceleration(s.Ego.Velocity, s.LeadVelocity, s.LeadGap)}
}

// CustomParams configure the tailgate-aware IDM.
type CustomParams struct {
	IDM IDMParams `json:"idm"`
	// FollowerGain scales the extra acceleration granted when the follower
	// is inside its own desired gap. Zero reduces the model to the IDM.
	FollowerGain float64 `json:"follower_gain"`
}

// DefaultCustomParams returns the IDM defaults with a moderate follower gain.
func DefaultCustomParams() CustomParams {
	return CustomParams{IDM: DefaultIDMParams(), FollowerGain: 0.5}
}

// Custom is the IDM plus pressure relief: when the vehicle behind is closer
// than the gap it would like to keep, and the road ahead is clear of the
// ego's own desired gap, the ego accelerates a little harder to open space
// behind it. The result is always within the IDM bounds.
type Custom struct {
	Params CustomParams
}

func (Custom) Variant() Variant { return VariantCustom }

func (m Custom) Command(s Situation, _ float64) Command {
	p := m.Params.IDM
	v := s.Ego.Velocity
	acc := p.acceleration(v, s.LeadVelocity, s.LeadGap)

	followerWants := p.desiredGap(s.FollowVelocity, v)
	if s.FollowGap < followerWants && s.LeadGap > p.desiredGap(v, s.LeadVelocity) {
		pressure := 1 - s.FollowGap/followerWants
		acc += m.Params.FollowerGain * p.MaxAcceleration * pressure
	}
	return Command{Acceleration: p.bound(acc)}
}

// Baseline is the model-free harness check: every vehicle moves Step per
// tick regardless of its neighbours.
type Baseline struct {
	Step float64
}

func (Baseline) Variant() Variant { return VariantBaseline }

func (m Baseline) Command(Situation, float64) Command {
	return Command{Direct: true, Step: m.Step}
}
