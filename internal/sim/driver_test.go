package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver_SingleVehicleBaseline(t *testing.T) {
	var frames []Frame
	d := &Driver{Observer: ObserverFunc(func(f Frame) { frames = append(frames, f) })}

	sum, err := d.Run(context.Background(), Scenario{
		Index:        0,
		VehicleCount: 1,
		Variant:      VariantBaseline,
		Settings:     DefaultSettings(),
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, d.Phase())

	require.Len(t, frames, 300)
	assert.Equal(t, 1, frames[0].Tick)
	assert.InDelta(t, 30.0, frames[len(frames)-1].Time, 1e-9)
	assert.InDelta(t, 45.8, frames[0].Road.Seam, 1e-9)

	// 46.8 + 0.1k passes 62.4 once, a few ticks after warm-up ends.
	assert.Equal(t, 1, sum.FlowEvents)
	assert.InDelta(t, 1.0/15, sum.Flow, 1e-9)
	assert.InDelta(t, 1.0, sum.AvgSpeed, 1e-9)
	assert.Equal(t, 150, sum.Samples)
	assert.InDelta(t, 1/(16.6*0.04), sum.Density, 1e-9)
	assert.Equal(t, "baseline", sum.Variant)
	assert.Equal(t, 1, sum.VehicleCount)
}

func TestDriver_DensityIncreasesWithVehicleCount(t *testing.T) {
	var d Driver
	prev := 0.0
	for i, n := range []int{1, 2, 4} {
		sum, err := d.Run(context.Background(), Scenario{
			Index:        i,
			VehicleCount: n,
			Variant:      VariantBaseline,
			Settings:     DefaultSettings(),
		})
		require.NoError(t, err)
		assert.Greater(t, sum.Density, prev, "density for %d vehicles", n)
		prev = sum.Density
	}
}

func TestDriver_VelocitiesStayNonNegative(t *testing.T) {
	for _, v := range []Variant{VariantReference, VariantCustom} {
		t.Run(v.String(), func(t *testing.T) {
			var bad []string
			d := &Driver{Observer: ObserverFunc(func(f Frame) {
				for _, veh := range f.Vehicles {
					if veh.Velocity < 0 {
						bad = append(bad, fmt.Sprintf("tick %d vehicle %d: %v", f.Tick, veh.ID, veh.Velocity))
					}
				}
			})}

			sum, err := d.Run(context.Background(), Scenario{
				Index:        3,
				VehicleCount: 40,
				Variant:      v,
				Settings:     DefaultSettings(),
			})
			require.NoError(t, err)
			assert.Empty(t, bad)
			assert.GreaterOrEqual(t, sum.AvgSpeed, 0.0)
			assert.GreaterOrEqual(t, sum.Flow, 0.0)
		})
	}
}

func TestDriver_Deterministic(t *testing.T) {
	s := DefaultSettings()
	s.Seed = 42

	for _, v := range []Variant{VariantBaseline, VariantReference, VariantCustom} {
		sc := Scenario{Index: 5, VehicleCount: 11, Variant: v, Settings: s}

		var d Driver
		first, err := d.Run(context.Background(), sc)
		require.NoError(t, err)
		second, err := d.Run(context.Background(), sc)
		require.NoError(t, err)

		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("%s run not reproducible (-first +second):\n%s", v, diff)
		}
	}
}

func TestDriver_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	last := 0
	d := &Driver{Observer: ObserverFunc(func(f Frame) {
		last = f.Tick
		if f.Tick == 10 {
			cancel()
		}
	})}

	_, err := d.Run(ctx, Scenario{VehicleCount: 4, Variant: VariantReference, Settings: DefaultSettings()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 10, last)
	assert.Equal(t, PhaseRunning, d.Phase())
}

func TestDriver_DegenerateScenario(t *testing.T) {
	s := DefaultSettings()
	s.Duration = 0.12
	s.Warmup = 0.1

	var d Driver
	sum, err := d.Run(context.Background(), Scenario{Index: 2, VehicleCount: 3, Settings: s})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegenerateScenario))
	assert.Equal(t, 2, sum.Scenario)
	assert.Equal(t, 3, sum.VehicleCount)
	assert.Greater(t, sum.Density, 0.0)
	assert.Equal(t, PhaseDone, d.Phase())
}

func TestDriver_RejectsInvalidScenario(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Scenario)
		wantField string
	}{
		{"no vehicles", func(sc *Scenario) { sc.VehicleCount = 0 }, "vehicle_count"},
		{"zero dt", func(sc *Scenario) { sc.Settings.Dt = 0 }, "dt"},
		{"warmup past duration", func(sc *Scenario) { sc.Settings.Warmup = 40 }, "warmup"},
		{"bad idm", func(sc *Scenario) { sc.Settings.IDM.DesiredSpeed = 0 }, "idm.desired_speed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := Scenario{VehicleCount: 2, Variant: VariantReference, Settings: DefaultSettings()}
			tt.mutate(&sc)

			called := false
			d := &Driver{Observer: ObserverFunc(func(Frame) { called = true })}
			_, err := d.Run(context.Background(), sc)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
			assert.False(t, called)
			assert.Equal(t, PhaseInitializing, d.Phase())
		})
	}
}

func TestNeighbours(t *testing.T) {
	tests := []struct {
		i, n             int
		wantLead, wantFo int
	}{
		{0, 1, 0, 0},
		{0, 2, 1, 1},
		{1, 2, 0, 0},
		{0, 3, 2, 1},
		{1, 3, 0, 2},
		{2, 3, 1, 0},
		{4, 7, 3, 5},
	}
	for _, tt := range tests {
		lead, follow := neighbours(tt.i, tt.n)
		assert.Equal(t, tt.wantLead, lead, "lead of %d in %d", tt.i, tt.n)
		assert.Equal(t, tt.wantFo, follow, "follow of %d in %d", tt.i, tt.n)
	}
}

func TestPlaceConvoy(t *testing.T) {
	s := DefaultSettings()
	rng := rand.New(rand.NewPCG(0, 0))

	vehicles, road := PlaceConvoy(5, s, rng)
	require.Len(t, vehicles, 5)

	assert.InDelta(t, 62.4, road.Usable, 1e-9)
	assert.InDelta(t, 46.8, vehicles[0].Position, 1e-9)
	for i, v := range vehicles {
		assert.Equal(t, i, v.ID)
		assert.Equal(t, 25.0, v.Velocity)
		assert.Equal(t, 2.0, v.Acceleration)
		if i > 0 {
			gap := vehicles[i-1].Position - v.Position
			assert.GreaterOrEqual(t, gap, 1.0)
			assert.LessOrEqual(t, gap, 2.0)
		}
	}
	assert.InDelta(t, vehicles[4].Position-1, road.Seam, 1e-12)
}

// spyModel records every situation it is asked about and never accelerates.
type spyModel struct {
	seen []Situation
}

func (m *spyModel) Variant() Variant { return VariantReference }

func (m *spyModel) Command(s Situation, _ float64) Command {
	m.seen = append(m.seen, s)
	return Command{}
}

func TestStepConvoy_SequentialCoupling(t *testing.T) {
	road := Road{Usable: 100, Seam: 0}
	vehicles := []Vehicle{
		{ID: 0, Position: 30, Velocity: 10},
		{ID: 1, Position: 20, Velocity: 0},
	}
	spy := &spyModel{}

	clamps := stepConvoy(vehicles, road, spy, Integrator{Road: road}, 0.1)
	assert.Zero(t, clamps)
	require.Len(t, spy.seen, 2)

	// Vehicle 0 sees vehicle 1 before it moves.
	assert.InDelta(t, 10.0, spy.seen[0].FollowGap, 1e-9)
	// Vehicle 1 sees vehicle 0 at its updated position.
	assert.InDelta(t, 11.0, spy.seen[1].LeadGap, 1e-9)
	assert.InDelta(t, 31.0, vehicles[0].Position, 1e-9)
}
