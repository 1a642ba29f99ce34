package sim

import "math"

// Road is a circular single-lane road drawn as a straight segment. Vehicles
// that run past Usable re-enter at Seam, so the circumference is
// Usable - Seam. A Road is computed once per scenario and never mutated.
type Road struct {
	Usable float64 `json:"usable"`
	Seam   float64 `json:"seam"`
}

// Circumference is the length of one lap.
func (r Road) Circumference() float64 {
	return r.Usable - r.Seam
}

// EffectiveLength is the lap length used for density, lower-bounded by
// minFraction of the usable length so nearly full convoys do not inflate
// the density.
func (r Road) EffectiveLength(minFraction float64) float64 {
	return math.Max(r.Usable*minFraction, math.Abs(r.Usable)-r.Seam)
}

// LeadGap is the distance from ego forward to lead along the ring. When
// lead is numerically behind ego the gap runs through the seam.
func (r Road) LeadGap(ego, lead float64) float64 {
	if ego < lead {
		return lead - ego
	}
	return math.Max(0, (lead-r.Seam)+(r.Usable-ego))
}

// FollowGap is the distance from follow forward to ego along the ring.
func (r Road) FollowGap(ego, follow float64) float64 {
	if ego > follow {
		return ego - follow
	}
	return math.Max(0, (ego-r.Seam)+(r.Usable-follow))
}

// Advance moves a vehicle that started the tick at position by delta. A
// vehicle that started past the usable length re-enters at the seam.
func (r Road) Advance(position, delta float64) float64 {
	if position > r.Usable {
		return r.Seam + delta
	}
	return position + delta
}
