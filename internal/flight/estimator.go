package flight

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// RotorSpeedSource provides the modeled rotor speeds fed back from the
// actuator loop.
type RotorSpeedSource interface {
	RotorSpeeds() RotorSpeeds
}

// StateEstimator turns odometry samples into VehicleState, integrating the
// stabilizer bar direction between samples.
type StateEstimator struct {
	barTimeConstant float64

	bar      r3.Vec
	prevTime time.Time
	started  bool
	yawRate  float64
}

// NewStateEstimator returns an estimator with the bar aligned to the mast.
func NewStateEstimator(barTimeConstant float64) *StateEstimator {
	return &StateEstimator{
		barTimeConstant: barTimeConstant,
		bar:             r3.Vec{Z: 1},
	}
}

// SetGyro records the onboard gyro rates. Only the yaw axis is used, with
// its sign flipped into the body frame convention of the odometry source.
func (e *StateEstimator) SetGyro(g r3.Vec) {
	e.yawRate = -g.Z
}

// Bar returns the current stabilizer bar direction.
func (e *StateEstimator) Bar() r3.Vec { return e.bar }

// Update consumes one odometry sample and returns the assembled state along
// with the body-to-world rotation matrix.
func (e *StateEstimator) Update(o Odometry, rotors RotorSpeeds) (VehicleState, *mat.Dense) {
	if !e.started {
		e.prevTime = o.Time
		e.started = true
	}
	dt := o.Time.Sub(e.prevTime).Seconds()
	e.prevTime = o.Time

	q := o.Orientation
	rot := RotationFromQuaternion(q)
	roll, pitch, yaw := EulerFromQuaternion(q)

	omega := r3.Vec{X: o.AngularRate.X, Y: o.AngularRate.Y, Z: e.yawRate}
	e.bar = integrateBar(e.bar, omega, e.barTimeConstant, dt)

	return VehicleState{
		Position: o.Position,
		Velocity: o.Velocity,
		Roll:     roll,
		Pitch:    pitch,
		Yaw:      yaw,
		P:        omega.X,
		Q:        omega.Y,
		R:        omega.Z,
		Rotors:   rotors,
		Bar:      e.bar,
	}, rot
}

// RotationFromQuaternion builds the body-to-world rotation matrix of a unit
// quaternion.
func RotationFromQuaternion(q quat.Number) *mat.Dense {
	qw, qx, qy, qz := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*qy*qy - 2*qz*qz, 2*qx*qy - 2*qz*qw, 2*qx*qz + 2*qy*qw,
		2*qx*qy + 2*qz*qw, 1 - 2*qx*qx - 2*qz*qz, 2*qy*qz - 2*qx*qw,
		2*qx*qz - 2*qy*qw, 2*qy*qz + 2*qx*qw, 1 - 2*qx*qx - 2*qy*qy,
	})
}

// EulerFromQuaternion returns roll, pitch and yaw in radians.
func EulerFromQuaternion(q quat.Number) (roll, pitch, yaw float64) {
	qw, qx, qy, qz := q.Real, q.Imag, q.Jmag, q.Kmag
	roll = math.Atan2(2*(qw*qx+qy*qz), 1-2*(qx*qx+qy*qy))
	pitch = math.Asin(2 * (qw*qy - qz*qx))
	yaw = math.Atan2(2*(qw*qz+qx*qy), 1-2*(qy*qy+qz*qz))
	return roll, pitch, yaw
}

// Heading returns the yaw angle encoded in a rotation matrix.
func Heading(rot mat.Matrix) float64 {
	return math.Atan2(rot.At(1, 0), rot.At(0, 0))
}

// integrateBar advances the bar direction by one explicit Euler step of dt.
// The bar relaxes toward the mast with time constant tf and is carried along
// by the body rates omega. The result is re-normalized.
func integrateBar(prev, omega r3.Vec, tf, dt float64) r3.Vec {
	var relax r3.Vec
	horiz2 := prev.X*prev.X + prev.Y*prev.Y
	rate := 1 / tf * math.Acos(clamp(prev.Z, -1, 1)) * math.Sqrt(horiz2)
	if rate > 0 {
		k := prev.Z * rate / horiz2
		relax = r3.Vec{X: -prev.X * k, Y: -prev.Y * k, Z: rate}
	}

	next := r3.Add(prev, r3.Scale(dt, r3.Add(r3.Cross(prev, omega), relax)))
	n := r3.Norm(next)
	if n == 0 || math.IsNaN(n) {
		return prev
	}
	return r3.Scale(1/n, next)
}
