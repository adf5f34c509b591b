package flight

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
)

// minLowerSpeed is the rotor speed below which the lower thrust vector is
// assumed vertical.
const minLowerSpeed = 10.0

// ControlLaw maps the current state and reference to actuator commands. The
// lateral force is produced by tilting the lower rotor through the
// swashplate; heave and yaw are produced by the two rotor speeds. The
// returned command is not clamped.
func ControlLaw(s VehicleState, rot mat.Matrix, ref trajectory.Reference, m ModelParams, g ControlGains) ActuatorCommand {
	fx, fy := lateralForce(s, rot, ref, m.Mass, g)

	zTup := upperThrustDirection(s.Bar, m.LinkageFactor.Upper, m.PhaseLagUpper.Apply(s.Rotors.Upper))
	zTlo := lowerThrustDirection(rot, fx, fy, s.Rotors.Lower, m.ThrustFactor.Lower)

	roll, pitch := swashplateAngles(zTlo, m.LinkageFactor.Lower, m.PhaseLagLower.Apply(s.Rotors.Lower))

	fz := -g.KpFz*(s.Position.Z-ref.Position.Z) - g.KdFz*(s.Velocity.Z-ref.Velocity.Z) + m.Mass*ref.Acceleration.Z
	yawErr := wrapAngle(Heading(rot) - ref.Yaw)
	mz := -g.KpMz*yawErr - g.KdMz*(s.R-rot.At(2, 2)*ref.YawRate)

	row := r3.Vec{X: rot.At(2, 0), Y: rot.At(2, 1), Z: rot.At(2, 2)}
	upVert := r3.Dot(row, zTup)
	loVert := r3.Dot(row, zTlo)

	kT, kM := m.ThrustFactor, m.MomentFactor
	a := kT.Upper / kM.Upper * mz * upVert
	b := kT.Upper/kM.Upper*kM.Lower*upVert + kT.Lower*loVert

	omegaLo := safeSqrt((m.Mass*Gravity + a + fz) / b)
	omegaUp := safeSqrt((kM.Lower*omegaLo*omegaLo - mz) / kM.Upper)

	return ActuatorCommand{
		Upper: m.SpeedUpper.Invert(omegaUp),
		Lower: m.SpeedLower.Invert(omegaLo),
		Roll:  roll / m.MaxSwashplateAngle,
		Pitch: pitch / m.MaxSwashplateAngle,
	}
}

// lateralForce returns the desired world-frame horizontal force: PD on the
// position and velocity errors, damping of the body rates projected into the
// world frame, and the reference acceleration feed-forward.
func lateralForce(s VehicleState, rot mat.Matrix, ref trajectory.Reference, mass float64, g ControlGains) (fx, fy float64) {
	var damping mat.VecDense
	rates := mat.NewVecDense(2, []float64{g.KpqPitch * s.Q, g.KpqRoll * s.P})
	damping.MulVec(mat.DenseCopyOf(rot).Slice(0, 2, 0, 2), rates)

	fx = -g.KpFx*(s.Position.X-ref.Position.X) - g.KdFx*(s.Velocity.X-ref.Velocity.X) - damping.AtVec(0) + mass*ref.Acceleration.X
	fy = -g.KpFy*(s.Position.Y-ref.Position.Y) - g.KdFy*(s.Velocity.Y-ref.Velocity.Y) - damping.AtVec(1) + mass*ref.Acceleration.Y
	return fx, fy
}

// upperThrustDirection derives the upper rotor's thrust axis in the body
// frame from the stabilizer bar direction, then rotates it by the phase lag
// zeta about the mast.
func upperThrustDirection(bar r3.Vec, linkage, zeta float64) r3.Vec {
	z := math.Cos(linkage * math.Acos(clamp(bar.Z, -1, 1)))
	tilted := scaleToUnit(r3.Vec{X: bar.X, Y: bar.Y}, z)
	return rotateZ(tilted, zeta)
}

// lowerThrustDirection returns the body-frame lower thrust axis that realizes
// the horizontal force (fx, fy) at the current lower rotor speed.
func lowerThrustDirection(rot mat.Matrix, fx, fy, omegaLo, kTlo float64) r3.Vec {
	if omegaLo < minLowerSpeed {
		return r3.Vec{Z: 1}
	}
	k := 1 / (kTlo * omegaLo * omegaLo)
	x := k * (rot.At(0, 0)*fx + rot.At(1, 0)*fy)
	y := k * (rot.At(0, 1)*fx + rot.At(1, 1)*fy)
	h := math.Hypot(x, y)
	if h > 1 {
		return r3.Vec{X: x / h, Y: y / h}
	}
	return r3.Vec{X: x, Y: y, Z: math.Sqrt(1 - h*h)}
}

// swashplateAngles corrects the lower thrust axis for servo phase lag zeta,
// maps it back through the linkage and returns the roll and pitch swashplate
// angles.
func swashplateAngles(zTlo r3.Vec, linkage, zeta float64) (roll, pitch float64) {
	lagged := rotateZ(zTlo, zeta)
	z := math.Cos(math.Acos(clamp(lagged.Z, -1, 1)) / linkage)
	sp := scaleToUnit(r3.Vec{X: lagged.X, Y: lagged.Y}, z)

	pitch = math.Asin(clamp(sp.X, -1, 1))
	cb := math.Cos(pitch)
	if math.Abs(cb) < 1e-9 {
		return 0, pitch
	}
	roll = math.Asin(clamp(-sp.Y/cb, -1, 1))
	return roll, pitch
}

// scaleToUnit returns the unit vector with vertical component z whose
// horizontal part points along h. A vertical or degenerate input yields the
// mast axis.
func scaleToUnit(h r3.Vec, z float64) r3.Vec {
	n2 := h.X*h.X + h.Y*h.Y
	if z >= 1 || n2 == 0 {
		return r3.Vec{Z: 1}
	}
	k := math.Sqrt((1 - z*z) / n2)
	return r3.Vec{X: h.X * k, Y: h.Y * k, Z: z}
}

func rotateZ(v r3.Vec, zeta float64) r3.Vec {
	c, s := math.Cos(zeta), math.Sin(zeta)
	return r3.Vec{X: c*v.X - s*v.Y, Y: s*v.X + c*v.Y, Z: v.Z}
}

// wrapAngle maps a into [-π, π].
func wrapAngle(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}

func safeSqrt(v float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Sqrt(v)
}
