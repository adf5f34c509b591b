package flight

import "time"

// Gravity in m/s².
const Gravity = 9.81

// RotorPair holds a value per rotor.
type RotorPair struct {
	Upper float64 `json:"upper"`
	Lower float64 `json:"lower"`
}

// Affine is a slope/offset calibration, y = Slope*x + Offset.
type Affine struct {
	Slope  float64 `json:"slope"`
	Offset float64 `json:"offset"`
}

// Apply evaluates the calibration at x.
func (a Affine) Apply(x float64) float64 { return a.Slope*x + a.Offset }

// Invert solves the calibration for x.
func (a Affine) Invert(y float64) float64 { return (y - a.Offset) / a.Slope }

// ModelParams describes the vehicle's physical actuation model.
type ModelParams struct {
	Mass    float64    `json:"mass"`
	Inertia [3]float64 `json:"inertia"`
	// Offset is the vertical distance of each rotor from the center of mass.
	Offset         RotorPair `json:"offset"`
	SpringConstant RotorPair `json:"spring_constant"`
	LinkageFactor  RotorPair `json:"linkage_factor"`
	ThrustFactor   RotorPair `json:"thrust_factor"`
	MomentFactor   RotorPair `json:"moment_factor"`
	// BarTimeConstant is the stabilizer bar following time in seconds.
	BarTimeConstant   float64   `json:"bar_time_constant"`
	MotorTimeConstant RotorPair `json:"motor_time_constant"`
	// SpeedUpper and SpeedLower map throttle to rotor speed in rad/s.
	SpeedUpper Affine `json:"speed_upper"`
	SpeedLower Affine `json:"speed_lower"`
	// PhaseLagUpper and PhaseLagLower map rotor speed to servo phase lag.
	PhaseLagUpper      Affine  `json:"phase_lag_upper"`
	PhaseLagLower      Affine  `json:"phase_lag_lower"`
	MaxSwashplateAngle float64 `json:"max_swashplate_angle"`
}

// ControlGains are the PD gains of the cascaded controller.
type ControlGains struct {
	KpFx     float64 `json:"kp_fx"`
	KpFy     float64 `json:"kp_fy"`
	KdFx     float64 `json:"kd_fx"`
	KdFy     float64 `json:"kd_fy"`
	KpFz     float64 `json:"kp_fz"`
	KdFz     float64 `json:"kd_fz"`
	KpMz     float64 `json:"kp_mz"`
	KdMz     float64 `json:"kd_mz"`
	KpqRoll  float64 `json:"kpq_roll"`
	KpqPitch float64 `json:"kpq_pitch"`
}

// Profile holds the timing and geometry of the scripted phases.
type Profile struct {
	IdleTime        time.Duration
	StartHeight     float64
	RiseVelocity    float64
	GoToVelocity    float64
	SinkVelocity    float64
	ArrivalTol      float64
	SpinUpThrottle  RotorPair
	SpinUp2Throttle RotorPair
	IdleThrottle    RotorPair
	MinStartVolts   float64
	StopSettleDelay time.Duration
	NavTimeout      time.Duration
}

// DefaultProfile returns the flight profile used on the lab vehicles.
func DefaultProfile() Profile {
	return Profile{
		IdleTime:        3 * time.Second,
		StartHeight:     0.3,
		RiseVelocity:    0.1,
		GoToVelocity:    0.1,
		SinkVelocity:    0.1,
		ArrivalTol:      0.1,
		SpinUpThrottle:  RotorPair{Upper: 0.35},
		SpinUp2Throttle: RotorPair{Upper: 0.35, Lower: 0.35},
		IdleThrottle:    RotorPair{Upper: 0.35, Lower: 0.35},
		MinStartVolts:   11.0,
		StopSettleDelay: 500 * time.Millisecond,
		NavTimeout:      500 * time.Millisecond,
	}
}

func (p Profile) riseTime() float64 { return p.StartHeight / p.RiseVelocity }
func (p Profile) sinkTime() float64 { return p.StartHeight / p.SinkVelocity }
func (p Profile) idle() float64     { return p.IdleTime.Seconds() }

// Compensation boosts throttle in proportion to the battery voltage deficit.
type Compensation struct {
	NominalVolts float64
	Slope        RotorPair
	Threshold    float64
}

// DefaultCompensation returns the sag compensation measured on the lab
// vehicles.
func DefaultCompensation() Compensation {
	return Compensation{
		NominalVolts: 12.22,
		Slope:        RotorPair{Upper: 0.0279, Lower: 0.0287},
		Threshold:    0.05,
	}
}

// Apply adds the voltage-deficit offset when either throttle is above the
// threshold.
func (c Compensation) Apply(cmd ActuatorCommand, volts float64) ActuatorCommand {
	if cmd.Upper > c.Threshold || cmd.Lower > c.Threshold {
		deficit := c.NominalVolts - volts
		cmd.Upper += deficit * c.Slope.Upper
		cmd.Lower += deficit * c.Slope.Lower
	}
	return cmd
}

// TrimForPlatform returns the servo trim preset of a vehicle id.
func TrimForPlatform(platform int) Trim {
	switch platform {
	case 56:
		return Trim{Roll: 0.0285, Pitch: 0.0921}
	default:
		return Trim{}
	}
}
