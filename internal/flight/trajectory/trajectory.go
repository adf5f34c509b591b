// Package trajectory generates closed-form reference trajectories for the
// scripted maneuvers. Every velocity and acceleration returned is the exact
// time derivative of the corresponding position or yaw entry.
package trajectory

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Maneuver identifies one of the scripted trajectories.
type Maneuver int

const (
	RotateInPlace Maneuver = iota
	VerticalOscillation
	LyingCircle
	StandingCircle
	YawOscillation
	HorizontalLine
	Hold
)

// MaxManeuver is the largest id accepted by the command interface.
const MaxManeuver = Hold

var maneuverNames = map[Maneuver]string{
	RotateInPlace:       "rotate_in_place",
	VerticalOscillation: "vertical_oscillation",
	LyingCircle:         "lying_circle",
	StandingCircle:      "standing_circle",
	YawOscillation:      "yaw_oscillation",
	HorizontalLine:      "horizontal_line",
	Hold:                "hold",
}

func (m Maneuver) String() string {
	if name, ok := maneuverNames[m]; ok {
		return name
	}
	return fmt.Sprintf("maneuver(%d)", int(m))
}

// Valid reports whether m can be selected through the command interface.
func (m Maneuver) Valid() bool {
	return m >= RotateInPlace && m <= MaxManeuver
}

// Pose is a position plus heading.
type Pose struct {
	Position r3.Vec
	Yaw      float64
}

// Reference is the target state tracked by the control law.
type Reference struct {
	Position     r3.Vec
	Velocity     r3.Vec
	Acceleration r3.Vec
	Yaw          float64
	YawRate      float64
}

// Static returns a reference that holds p with zero feed-forward.
func Static(p Pose) Reference {
	return Reference{Position: p.Position, Yaw: p.Yaw}
}

// Vector returns the reference in its fixed 11-element layout.
func (r Reference) Vector() [11]float64 {
	return [11]float64{
		r.Position.X, r.Position.Y, r.Position.Z,
		r.Velocity.X, r.Velocity.Y, r.Velocity.Z,
		r.Acceleration.X, r.Acceleration.Y, r.Acceleration.Z,
		r.Yaw, r.YawRate,
	}
}

var defaultStart = Pose{Position: r3.Vec{Z: 1}}

// Generate evaluates maneuver m at t seconds after its start and returns the
// reference together with the maneuver's fixed initial pose. Unknown ids fall
// back to holding the default start pose.
func Generate(t float64, m Maneuver) (Reference, Pose) {
	switch m {
	case RotateInPlace:
		omega := 2 * math.Pi / 2
		init := defaultStart
		return Reference{
			Position: init.Position,
			Yaw:      omega*t + init.Yaw,
			YawRate:  omega,
		}, init

	case VerticalOscillation:
		amplitude := 0.5
		omega := 2 * math.Pi / 5
		init := defaultStart
		s, c := math.Sincos(omega * t)
		return Reference{
			Position:     r3.Add(init.Position, r3.Vec{Z: amplitude * s}),
			Velocity:     r3.Vec{Z: amplitude * omega * c},
			Acceleration: r3.Vec{Z: -amplitude * omega * omega * s},
			Yaw:          init.Yaw,
		}, init

	case LyingCircle:
		radius := 0.5
		omega := 2 * math.Pi / 10
		omegaVert := 2 * omega
		vertAmp := 0.2
		init := Pose{Position: r3.Vec{X: 0.5, Z: 1}, Yaw: -math.Pi / 2}
		s, c := math.Sincos(omega * t)
		sv, cv := math.Sincos(omegaVert * t)
		return Reference{
			Position: r3.Vec{
				X: radius*c - radius + init.Position.X,
				Y: radius*s + init.Position.Y,
				Z: vertAmp*sv + init.Position.Z,
			},
			Velocity: r3.Vec{
				X: -radius * omega * s,
				Y: radius * omega * c,
				Z: omegaVert * vertAmp * cv,
			},
			Acceleration: r3.Vec{
				X: -radius * omega * omega * c,
				Y: -radius * omega * omega * s,
				Z: -omegaVert * omegaVert * vertAmp * sv,
			},
			Yaw: init.Yaw,
		}, init

	case StandingCircle:
		radius := 1.0
		omega := 2 * math.Pi / 10
		init := defaultStart
		s, c := math.Sincos(omega * t)
		return Reference{
			Position: r3.Vec{
				X: radius*s + init.Position.X,
				Y: init.Position.Y,
				Z: init.Position.Z + radius - radius*c,
			},
			Velocity: r3.Vec{
				X: radius * omega * c,
				Z: radius * omega * s,
			},
			Acceleration: r3.Vec{
				X: -radius * omega * omega * s,
				Z: radius * omega * omega * c,
			},
			Yaw: init.Yaw,
		}, init

	case YawOscillation:
		amplitude := math.Pi / 2
		omega := 2 * math.Pi / 4
		init := defaultStart
		s, c := math.Sincos(omega * t)
		return Reference{
			Position: init.Position,
			Yaw:      init.Yaw + amplitude*s,
			YawRate:  amplitude * omega * c,
		}, init

	case HorizontalLine:
		length := 0.5
		vel := 0.15
		init := Pose{Position: r3.Vec{X: 0.5, Z: 1}, Yaw: math.Pi}
		if t < length/vel {
			return Reference{
				Position: r3.Vec{X: init.Position.X - t*vel, Y: init.Position.Y, Z: init.Position.Z},
				Velocity: r3.Vec{X: -vel},
				Yaw:      init.Yaw,
			}, init
		}
		return Reference{
			Position: r3.Vec{X: init.Position.X - length, Y: init.Position.Y, Z: init.Position.Z},
			Yaw:      init.Yaw,
		}, init

	default:
		return Static(defaultStart), defaultStart
	}
}
