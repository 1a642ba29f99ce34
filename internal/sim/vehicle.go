package sim

import "math/rand/v2"

// SeamOffset is the distance behind the last vehicle where wrapped vehicles
// re-enter the road.
const SeamOffset = 1.0

// Vehicle is one car's kinematic state. Only the x axis is modelled.
type Vehicle struct {
	ID           int     `json:"id"`
	Position     float64 `json:"position"`
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
}

// PlaceConvoy builds n vehicles packed behind each other and derives the
// road seam from the last one. Vehicle 0 sits at LeadFraction of the usable
// length; every following vehicle is placed behind its predecessor by a
// spacing drawn uniformly from [SpacingMin, SpacingMax].
func PlaceConvoy(n int, s Settings, rng *rand.Rand) ([]Vehicle, Road) {
	usable := s.UsableLength()
	vehicles := make([]Vehicle, n)
	for i := range vehicles {
		x := usable * s.LeadFraction
		if i > 0 {
			x = vehicles[i-1].Position - spacing(s, rng)
		}
		vehicles[i] = Vehicle{
			ID:           i,
			Position:     x,
			Velocity:     s.InitialVelocity,
			Acceleration: s.InitialAcceleration,
		}
	}

	road := Road{Usable: usable}
	if n > 0 {
		road.Seam = vehicles[n-1].Position - SeamOffset
	}
	return vehicles, road
}

func spacing(s Settings, rng *rand.Rand) float64 {
	span := s.SpacingMax - s.SpacingMin
	if span <= 0 || rng == nil {
		return s.SpacingMin
	}
	return s.SpacingMin + rng.Float64()*span
}

// neighbours returns the convoy indices of vehicle i's lead and follow
// vehicles. The convoy is a ring: vehicle 0 follows the last vehicle.
func neighbours(i, n int) (lead, follow int) {
	switch {
	case i == 0:
		return n - 1, min(n-1, 1)
	case i < n-1:
		return i - 1, i + 1
	default:
		return n - 2, 0
	}
}
