package flight

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
)

// hoverSpeeds solves the rotor speeds that balance weight with zero yaw
// moment for vertical thrust vectors.
func hoverSpeeds(m ModelParams) RotorSpeeds {
	kT, kM := m.ThrustFactor, m.MomentFactor
	b := kT.Upper/kM.Upper*kM.Lower + kT.Lower
	lo := math.Sqrt(m.Mass * Gravity / b)
	up := math.Sqrt(kM.Lower * lo * lo / kM.Upper)
	return RotorSpeeds{Upper: up, Lower: lo}
}

func hoverState(m ModelParams) VehicleState {
	return VehicleState{
		Position: r3.Vec{Z: 1},
		Rotors:   hoverSpeeds(m),
		Bar:      r3.Vec{Z: 1},
	}
}

func TestControlLawHoverEquilibrium(t *testing.T) {
	m, g := testModel(), testGains()
	ref := trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}})

	got := ControlLaw(hoverState(m), level(), ref, m, g)

	speeds := hoverSpeeds(m)
	want := ActuatorCommand{
		Upper: m.SpeedUpper.Invert(speeds.Upper),
		Lower: m.SpeedLower.Invert(speeds.Lower),
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("hover command mismatch (-want +got):\n%s", diff)
	}
}

func TestControlLawLateralError(t *testing.T) {
	m, g := testModel(), testGains()
	ref := trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}})

	t.Run("x offset tilts pitch back", func(t *testing.T) {
		s := hoverState(m)
		s.Position.X = 0.5
		got := ControlLaw(s, level(), ref, m, g)
		assert.Less(t, got.Pitch, 0.0)
		assert.InDelta(t, 0, got.Roll, 1e-12)
	})

	t.Run("y offset rolls", func(t *testing.T) {
		s := hoverState(m)
		s.Position.Y = 0.5
		got := ControlLaw(s, level(), ref, m, g)
		assert.Greater(t, got.Roll, 0.0)
		assert.InDelta(t, 0, got.Pitch, 1e-9)
	})

	t.Run("slow lower rotor keeps swashplate level", func(t *testing.T) {
		s := hoverState(m)
		s.Position.X = 0.5
		s.Rotors.Lower = 5
		got := ControlLaw(s, level(), ref, m, g)
		assert.Equal(t, 0.0, got.Roll)
		assert.Equal(t, 0.0, got.Pitch)
	})
}

func TestControlLawYawError(t *testing.T) {
	m, g := testModel(), testGains()
	base := ControlLaw(hoverState(m), level(), trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}}), m, g)

	// Heading 0 with a reference of +0.5 rad: positive moment wanted.
	got := ControlLaw(hoverState(m), level(), trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}, Yaw: 0.5}), m, g)
	assert.Less(t, got.Upper, base.Upper)
	assert.Greater(t, got.Lower, base.Lower)
}

func TestControlLawHeave(t *testing.T) {
	m, g := testModel(), testGains()
	base := ControlLaw(hoverState(m), level(), trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}}), m, g)

	s := hoverState(m)
	s.Position.Z = 0.8
	got := ControlLaw(s, level(), trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}}), m, g)
	assert.Greater(t, got.Upper, base.Upper)
	assert.Greater(t, got.Lower, base.Lower)
}

func TestControlLawDegenerateInputsStayFinite(t *testing.T) {
	m, g := testModel(), testGains()
	cases := map[string]VehicleState{
		"huge lateral error": {Position: r3.Vec{X: 1e4, Y: -1e4}, Rotors: RotorSpeeds{Upper: 50, Lower: 11}, Bar: r3.Vec{Z: 1}},
		"falling fast":       {Position: r3.Vec{Z: 40}, Velocity: r3.Vec{Z: 30}, Rotors: RotorSpeeds{Upper: 200, Lower: 200}, Bar: r3.Vec{Z: 1}},
		"tilted bar":         {Position: r3.Vec{Z: 1}, Rotors: RotorSpeeds{Upper: 200, Lower: 200}, Bar: r3.Unit(r3.Vec{X: 1, Y: 1, Z: 0.1})},
		"horizontal bar":     {Position: r3.Vec{Z: 1}, Rotors: RotorSpeeds{Upper: 200, Lower: 200}, Bar: r3.Vec{X: 1}},
	}
	ref := trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 1}})
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			got := ControlLaw(s, level(), ref, m, g)
			for _, v := range []float64{got.Upper, got.Lower, got.Roll, got.Pitch} {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "%+v", got)
			}
		})
	}
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 0.5, wrapAngle(0.5+4*math.Pi), 1e-12)
	assert.InDelta(t, -0.5, wrapAngle(-0.5-2*math.Pi), 1e-12)
	assert.InDelta(t, math.Pi, math.Abs(wrapAngle(3*math.Pi)), 1e-12)
}
