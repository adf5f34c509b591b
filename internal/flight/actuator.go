package flight

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/coaxctl/internal/monitoring"
	"github.com/banshee-data/coaxctl/internal/timeutil"
)

// DefaultWatchdogTicks is the number of loop ticks a command stays valid.
const DefaultWatchdogTicks = 20

// ActuatorSink transmits one raw control frame to the vehicle.
type ActuatorSink interface {
	WriteRawControl(ctx context.Context, cmd ActuatorCommand) error
}

// LoopConfig configures an ActuatorLoop.
type LoopConfig struct {
	Rate          int
	WatchdogTicks int
	Model         ModelParams
	Compensation  Compensation
}

// ActuatorLoop forwards the latest published command at a fixed rate. It
// zeroes the output when no command has been published for more than
// WatchdogTicks ticks and integrates the rotor-speed model from the frames it
// transmits.
type ActuatorLoop struct {
	cfg     LoopConfig
	battery *Battery
	sink    ActuatorSink
	clock   timeutil.Clock

	output     atomic.Pointer[setpoint]
	rotors     atomic.Pointer[RotorSpeeds]
	commandAge atomic.Int64
	stateAge   atomic.Int64

	// owned by the loop goroutine
	omega    RotorSpeeds
	prevSent ActuatorCommand
}

// setpoint pairs the command with the trim it is transmitted with, so one
// swap replaces both.
type setpoint struct {
	command ActuatorCommand
	trim    Trim
}

// NewActuatorLoop returns a loop with zeroed command and trim.
func NewActuatorLoop(cfg LoopConfig, battery *Battery, sink ActuatorSink, clock timeutil.Clock) *ActuatorLoop {
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
	if cfg.WatchdogTicks <= 0 {
		cfg.WatchdogTicks = DefaultWatchdogTicks
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &ActuatorLoop{cfg: cfg, battery: battery, sink: sink, clock: clock}
	l.output.Store(&setpoint{})
	l.rotors.Store(&RotorSpeeds{})
	return l
}

// Publish compensates cmd for battery sag, clamps it and makes it the
// command forwarded by the loop. It resets the command watchdog.
func (l *ActuatorLoop) Publish(cmd ActuatorCommand) {
	cmd = l.cfg.Compensation.Apply(cmd, l.battery.Volts()).Clamp()
	l.update(func(sp *setpoint) { sp.command = cmd })
	l.commandAge.Store(0)
}

// Command returns the latest published command.
func (l *ActuatorLoop) Command() ActuatorCommand { return l.output.Load().command }

// SetTrim sets the servo trim added to every transmitted frame.
func (l *ActuatorLoop) SetTrim(t Trim) {
	l.update(func(sp *setpoint) { sp.trim = t })
}

// Trim returns the current servo trim.
func (l *ActuatorLoop) Trim() Trim { return l.output.Load().trim }

// Reset zeroes the command and the trim together.
func (l *ActuatorLoop) Reset() { l.output.Store(&setpoint{}) }

func (l *ActuatorLoop) update(fn func(sp *setpoint)) {
	for {
		old := l.output.Load()
		next := *old
		fn(&next)
		if l.output.CompareAndSwap(old, &next) {
			return
		}
	}
}

// MarkStateFresh resets the telemetry-loss counter.
func (l *ActuatorLoop) MarkStateFresh() { l.stateAge.Store(0) }

// RotorSpeeds returns the latest rotor-speed model output.
func (l *ActuatorLoop) RotorSpeeds() RotorSpeeds { return *l.rotors.Load() }

// Period is the loop tick interval.
func (l *ActuatorLoop) Period() time.Duration {
	return timeutil.RateToPeriod(l.cfg.Rate)
}

// Run ticks the loop until ctx is cancelled. A zero frame is sent on exit.
func (l *ActuatorLoop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := l.sink.WriteRawControl(context.Background(), ActuatorCommand{}); err != nil {
				monitoring.Logf("actuator: final zero frame: %v", err)
			}
			return ctx.Err()
		case <-ticker.C():
			l.Tick(ctx)
		}
	}
}

// Tick runs one loop iteration and returns the transmitted frame.
func (l *ActuatorLoop) Tick(ctx context.Context) ActuatorCommand {
	var out ActuatorCommand
	if l.commandAge.Add(1) <= int64(l.cfg.WatchdogTicks) {
		sp := l.output.Load()
		cmd, trim := sp.command, sp.trim
		out = ActuatorCommand{
			Upper: cmd.Upper,
			Lower: cmd.Lower,
			Roll:  clamp(cmd.Roll+trim.Roll, -1, 1),
			Pitch: clamp(cmd.Pitch+trim.Pitch, -1, 1),
		}
	}

	half := 0.5 * float64(l.cfg.Rate)
	if age := float64(l.stateAge.Add(1) - 1); age > half && age <= half+1 {
		monitoring.Logf("actuator: vehicle telemetry lost for %.0f ticks", age)
	}

	if err := l.sink.WriteRawControl(ctx, out); err != nil {
		monitoring.Logf("actuator: write raw control: %v", err)
	}

	l.stepRotorModel()
	l.prevSent = out
	return out
}

// stepRotorModel advances the first-order rotor-speed model one tick toward
// the speeds commanded by the previously transmitted frame.
func (l *ActuatorLoop) stepRotorModel() {
	m := l.cfg.Model
	rate := float64(l.cfg.Rate)
	desUp := m.SpeedUpper.Apply(l.prevSent.Upper)
	desLo := m.SpeedLower.Apply(l.prevSent.Lower)
	l.omega.Upper += (desUp - l.omega.Upper) / (m.MotorTimeConstant.Upper * rate)
	l.omega.Lower += (desLo - l.omega.Lower) / (m.MotorTimeConstant.Lower * rate)
	snapshot := l.omega
	l.rotors.Store(&snapshot)
}
