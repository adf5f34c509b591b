package flight

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func testModel() ModelParams {
	return ModelParams{
		Mass:               0.302,
		Inertia:            [3]float64{0.0019, 0.0019, 0.0022},
		Offset:             RotorPair{Upper: 0.1, Lower: 0.05},
		SpringConstant:     RotorPair{Upper: 0.3, Lower: 0.2},
		LinkageFactor:      RotorPair{Upper: 0.5, Lower: 0.8},
		ThrustFactor:       RotorPair{Upper: 3.7e-5, Lower: 3.7e-5},
		MomentFactor:       RotorPair{Upper: 7e-7, Lower: 7e-7},
		BarTimeConstant:    0.2,
		MotorTimeConstant:  RotorPair{Upper: 0.1, Lower: 0.1},
		SpeedUpper:         Affine{Slope: 300, Offset: 50},
		SpeedLower:         Affine{Slope: 300, Offset: 50},
		MaxSwashplateAngle: 0.3,
	}
}

func testGains() ControlGains {
	return ControlGains{
		KpFx: 0.8, KpFy: 0.8, KdFx: 0.6, KdFy: 0.6,
		KpFz: 2.0, KdFz: 1.0,
		KpMz: 0.02, KdMz: 0.005,
		KpqRoll: 0.1, KpqPitch: 0.1,
	}
}

func level() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// rawForVolts inverts the battery calibration.
func rawForVolts(v float64) float64 {
	return BatteryRaw(v)
}

type recordingSink struct {
	mu     sync.Mutex
	frames []ActuatorCommand
	err    error
	sent   chan ActuatorCommand
}

func (s *recordingSink) WriteRawControl(_ context.Context, cmd ActuatorCommand) error {
	s.mu.Lock()
	s.frames = append(s.frames, cmd)
	ch := s.sent
	s.mu.Unlock()
	if ch != nil {
		select {
		case ch <- cmd:
		default:
		}
	}
	return s.err
}

func (s *recordingSink) Frames() []ActuatorCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActuatorCommand(nil), s.frames...)
}

type fakeNav struct {
	mu    sync.Mutex
	calls []NavState
	err   error
}

func (n *fakeNav) ReachNavState(_ context.Context, state NavState, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, state)
	return n.err
}

func (n *fakeNav) Calls() []NavState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NavState(nil), n.calls...)
}

type transition struct {
	From, To Mode
}

type recordingObserver struct {
	transitions []transition
	samples     []Sample
}

func (o *recordingObserver) ModeChanged(_ time.Time, from, to Mode) {
	o.transitions = append(o.transitions, transition{from, to})
}

func (o *recordingObserver) Sample(s Sample) { o.samples = append(o.samples, s) }

func (o *recordingObserver) last() Sample {
	if len(o.samples) == 0 {
		panic("no samples recorded")
	}
	return o.samples[len(o.samples)-1]
}

// gatedNav holds ReachNavState calls for state until release is closed.
type gatedNav struct {
	fakeNav
	state   NavState
	entered chan struct{}
	release chan struct{}
}

func newGatedNav(state NavState) *gatedNav {
	return &gatedNav{state: state, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (n *gatedNav) ReachNavState(ctx context.Context, state NavState, timeout time.Duration) error {
	if state == n.state {
		n.entered <- struct{}{}
		<-n.release
	}
	return n.fakeNav.ReachNavState(ctx, state, timeout)
}
