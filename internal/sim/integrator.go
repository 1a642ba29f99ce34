package sim

import "fmt"

// Scheme selects how the integrator orders the velocity and position
// updates within a tick.
type Scheme int

const (
	// SchemeForwardEuler moves the vehicle with the velocity it had at the
	// start of the tick, then updates velocity.
	SchemeForwardEuler Scheme = iota
	// SchemeSemiImplicitEuler updates velocity first and moves the vehicle
	// with the new velocity.
	SchemeSemiImplicitEuler
)

func (s Scheme) String() string {
	switch s {
	case SchemeForwardEuler:
		return "forward-euler"
	case SchemeSemiImplicitEuler:
		return "semi-implicit-euler"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// ParseScheme accepts the names produced by Scheme.String.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "", "forward-euler":
		return SchemeForwardEuler, nil
	case "semi-implicit-euler":
		return SchemeSemiImplicitEuler, nil
	}
	return 0, fmt.Errorf("unknown integration scheme %q (must be forward-euler or semi-implicit-euler)", s)
}

// Integrator advances vehicles by one fixed timestep on a Road.
type Integrator struct {
	Road   Road
	Scheme Scheme
}

// Apply advances v by one tick of length dt according to cmd. It reports
// whether the velocity had to be clamped at zero. The wrap decision uses
// the position at the start of the tick.
func (in Integrator) Apply(v *Vehicle, cmd Command, dt float64) (clamped bool) {
	start := v.Position

	if cmd.Direct {
		v.Acceleration = 0
		v.Velocity = cmd.Step / dt
		v.Position = in.Road.Advance(start, cmd.Step)
		return false
	}

	v.Acceleration = cmd.Acceleration
	next := v.Velocity + cmd.Acceleration*dt
	if next < 0 {
		next = 0
		clamped = true
	}

	delta := v.Velocity * dt
	if in.Scheme == SchemeSemiImplicitEuler {
		delta = next * dt
	}

	v.Velocity = next
	v.Position = in.Road.Advance(start, delta)
	return clamped
}
