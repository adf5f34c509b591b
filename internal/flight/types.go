// Package flight implements the flight-control core of a coaxial rotorcraft:
// state estimation, the flight-mode state machine, the geometric control law
// and the watchdog-protected actuator loop.
package flight

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mode is the active flight mode.
type Mode int

const (
	ModeLanded Mode = iota
	ModeStart
	ModeHover
	ModeGoToPos
	ModeTrajectory
	ModeLanding
)

func (m Mode) String() string {
	switch m {
	case ModeLanded:
		return "LANDED"
	case ModeStart:
		return "START"
	case ModeHover:
		return "HOVER"
	case ModeGoToPos:
		return "GOTOPOS"
	case ModeTrajectory:
		return "TRAJECTORY"
	case ModeLanding:
		return "LANDING"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ModeRequest is the integer code accepted by the set-mode command.
type ModeRequest int

const (
	RequestStart         ModeRequest = 1
	RequestHover         ModeRequest = 3
	RequestGoToPos       ModeRequest = 4
	RequestTrajectory    ModeRequest = 5
	RequestLanding       ModeRequest = 6
	RequestEmergencyStop ModeRequest = 9
)

// Pending is the follow-up maneuver queued behind a service GOTOPOS.
type Pending int

const (
	PendingNone Pending = iota
	PendingLand
	PendingTrajectory
)

func (p Pending) String() string {
	switch p {
	case PendingLand:
		return "land"
	case PendingTrajectory:
		return "trajectory"
	default:
		return "none"
	}
}

// NavState is the navigation state reported by the vehicle's onboard
// controller. Raw actuator commands are only honored in NavRaw.
type NavState int

const (
	NavStop NavState = iota
	NavIdle
	NavRaw
)

func (n NavState) String() string {
	switch n {
	case NavStop:
		return "stop"
	case NavIdle:
		return "idle"
	case NavRaw:
		return "raw"
	default:
		return fmt.Sprintf("nav(%d)", int(n))
	}
}

// Odometry is one pose/rate sample from the motion-capture source.
type Odometry struct {
	Time        time.Time
	Position    r3.Vec
	Orientation quat.Number
	Velocity    r3.Vec
	// AngularRate carries body rates p and q in X and Y. Z is ignored; the
	// yaw rate comes from the onboard gyro.
	AngularRate r3.Vec
}

// VehicleStatus is the onboard status message: raw battery reading, gyro
// rates and the current navigation state.
type VehicleStatus struct {
	BatteryRaw float64
	Gyro       r3.Vec
	Nav        NavState
}

// RotorSpeeds holds estimated rotor speeds in rad/s.
type RotorSpeeds struct {
	Upper float64
	Lower float64
}

// VehicleState is the estimator output consumed by the control law.
type VehicleState struct {
	Position r3.Vec
	Velocity r3.Vec
	Roll     float64
	Pitch    float64
	Yaw      float64
	P, Q, R  float64
	Rotors   RotorSpeeds
	Bar      r3.Vec
}

// Vector returns the state in its fixed 17-element layout.
func (s VehicleState) Vector() [17]float64 {
	return [17]float64{
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
		s.Roll, s.Pitch, s.Yaw,
		s.P, s.Q, s.R,
		s.Rotors.Upper, s.Rotors.Lower,
		s.Bar.X, s.Bar.Y, s.Bar.Z,
	}
}

// ActuatorCommand is the four-channel output. Throttles are in [0,1] and
// servos in [-1,1] once clamped.
type ActuatorCommand struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// Clamp returns c limited to the channel ranges.
func (c ActuatorCommand) Clamp() ActuatorCommand {
	return ActuatorCommand{
		Upper: clamp(c.Upper, 0, 1),
		Lower: clamp(c.Lower, 0, 1),
		Roll:  clamp(c.Roll, -1, 1),
		Pitch: clamp(c.Pitch, -1, 1),
	}
}

// Trim is the per-axis servo offset added before transmission.
type Trim struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// clamp maps NaN to zero, which lies inside every channel range.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
