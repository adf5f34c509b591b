package flight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
	"github.com/banshee-data/coaxctl/internal/monitoring"
	"github.com/banshee-data/coaxctl/internal/timeutil"
)

var (
	// ErrRejected is returned when a command is not valid in the current mode
	// or preconditions are not met. The controller state is unchanged.
	ErrRejected = errors.New("command rejected")
	// ErrUnknownMode is returned for a set-mode code outside the command set.
	ErrUnknownMode = errors.New("unknown mode request")
	// ErrUnknownManeuver is returned for a trajectory type outside [0,6].
	ErrUnknownManeuver = errors.New("unknown trajectory type")
)

// ResultCode maps a command error to the wire result: 0 on success, -1
// otherwise.
func ResultCode(err error) int {
	if err != nil {
		return -1
	}
	return 0
}

// Target pose limits.
const (
	TargetXYLimit = 2.0
	TargetZMin    = 0.1
	TargetZMax    = 4.0
)

// NavigationLink requests onboard navigation state changes.
type NavigationLink interface {
	ReachNavState(ctx context.Context, state NavState, timeout time.Duration) error
}

// CommandSink receives actuator commands. It is implemented by ActuatorLoop.
type CommandSink interface {
	Publish(cmd ActuatorCommand)
	SetTrim(t Trim)
	Reset()
	MarkStateFresh()
	RotorSpeeds() RotorSpeeds
}

// Sample is one control tick as seen by an Observer.
type Sample struct {
	At        time.Time
	Mode      Mode
	State     VehicleState
	Reference trajectory.Reference
	Command   ActuatorCommand
}

// Observer is notified of mode transitions and control ticks. Calls are made
// with the controller lock held and must not block.
type Observer interface {
	ModeChanged(at time.Time, from, to Mode)
	Sample(s Sample)
}

// ControllerConfig holds the immutable startup parameters.
type ControllerConfig struct {
	Model    ModelParams
	Gains    ControlGains
	Profile  Profile
	Platform int
}

// Controller is the flight-mode state machine. It owns the state estimator
// and feeds the actuator loop through a CommandSink.
type Controller struct {
	cfg     ControllerConfig
	battery *Battery
	sink    CommandSink
	nav     NavigationLink
	clock   timeutil.Clock

	mu        sync.Mutex
	estimator *StateEstimator
	observer  Observer

	mode     Mode
	first    bool
	starting bool
	epoch    uint64
	pending  Pending
	navState NavState
	target   trajectory.Pose
	maneuver trajectory.Maneuver

	home      trajectory.Pose
	startTime time.Time
	hover     trajectory.Pose
	route     route
	trajStart time.Time
	landStart time.Time

	last Sample
}

// route is the straight-line GOTOPOS plan.
type route struct {
	goal      trajectory.Pose
	origin    trajectory.Pose
	direction r3.Vec
	yawDelta  float64
	duration  float64
	start     time.Time
}

// NewController returns a controller in LANDED with the hold maneuver
// selected and the target at the origin.
func NewController(cfg ControllerConfig, battery *Battery, sink CommandSink, nav NavigationLink, clock timeutil.Clock) *Controller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Controller{
		cfg:       cfg,
		battery:   battery,
		sink:      sink,
		nav:       nav,
		clock:     clock,
		estimator: NewStateEstimator(cfg.Model.BarTimeConstant),
		mode:      ModeLanded,
		navState:  NavStop,
		maneuver:  trajectory.Hold,
		target:    trajectory.Pose{Position: r3.Vec{Z: TargetZMin}},
	}
}

// SetObserver installs o. Passing nil removes the current observer.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Mode returns the active flight mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// HandleStatus consumes a vehicle-status message: battery, gyro and
// navigation state. It refreshes the telemetry watchdog.
func (c *Controller) HandleStatus(st VehicleStatus) {
	c.battery.Update(st.BatteryRaw)

	c.mu.Lock()
	c.navState = st.Nav
	c.estimator.SetGyro(st.Gyro)
	c.mu.Unlock()

	c.sink.MarkStateFresh()
}

// HandleOdometry runs one control tick on an odometry sample and publishes
// the resulting command.
func (c *Controller) HandleOdometry(ctx context.Context, o Odometry) ActuatorCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, rot := c.estimator.Update(o, c.sink.RotorSpeeds())
	return c.step(ctx, o.Time, s, rot)
}

// Step runs one control tick on an already estimated state.
func (c *Controller) Step(ctx context.Context, now time.Time, s VehicleState, rot mat.Matrix) ActuatorCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step(ctx, now, s, rot)
}

func (c *Controller) step(ctx context.Context, now time.Time, s VehicleState, rot mat.Matrix) ActuatorCommand {
	here := trajectory.Pose{Position: s.Position, Yaw: Heading(rot)}
	mode := c.mode

	var out output
	switch c.mode {
	case ModeStart:
		out = c.startTick(now, here)
	case ModeHover:
		out = c.hoverTick(now, here)
	case ModeGoToPos:
		out = c.goToTick(now, here)
	case ModeTrajectory:
		out = c.trajectoryTick(now, here)
	case ModeLanding:
		out = c.landingTick(ctx, now, here)
	default:
		out = openLoop(RotorPair{})
	}

	cmd := out.command
	if out.closed {
		cmd = ControlLaw(s, rot, out.ref, c.cfg.Model, c.cfg.Gains)
	}
	c.sink.Publish(cmd)

	c.last = Sample{At: now, Mode: mode, State: s, Reference: out.ref, Command: cmd}
	if c.observer != nil {
		c.observer.Sample(c.last)
	}
	return cmd
}

// SetMode applies a set-mode command. A rejected command leaves the
// controller unchanged and returns an error wrapping ErrRejected or
// ErrUnknownMode.
//
// Navigation handshakes run without the controller lock held, so telemetry
// keeps flowing while the vehicle answers.
func (c *Controller) SetMode(ctx context.Context, req ModeRequest) error {
	switch req {
	case RequestStart:
		return c.start(ctx)
	case RequestEmergencyStop:
		c.emergencyStop(ctx)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	switch req {
	case RequestHover:
		if c.mode != ModeGoToPos && c.mode != ModeTrajectory {
			return c.reject("hover is only accepted in %s or %s", ModeGoToPos, ModeTrajectory)
		}
		c.pending = PendingNone
		c.enter(now, ModeHover, true)

	case RequestGoToPos:
		if c.mode != ModeHover {
			return c.reject("gotopos is only accepted in %s", ModeHover)
		}
		c.pending = PendingNone
		c.route.goal = c.target
		c.enter(now, ModeGoToPos, true)

	case RequestTrajectory:
		if c.mode != ModeHover && c.mode != ModeGoToPos {
			return c.reject("trajectory is only accepted in %s or %s", ModeHover, ModeGoToPos)
		}
		c.pending = PendingNone
		c.enter(now, ModeTrajectory, true)

	case RequestLanding:
		if c.mode != ModeHover && c.mode != ModeGoToPos {
			return c.reject("landing is only accepted in %s or %s", ModeHover, ModeGoToPos)
		}
		c.pending = PendingNone
		c.enter(now, ModeLanding, true)

	default:
		monitoring.Logf("flight: unknown mode request %d", int(req))
		return fmt.Errorf("%w: %d", ErrUnknownMode, int(req))
	}
	return nil
}

// SetTrajectoryType selects the maneuver flown in TRAJECTORY.
func (c *Controller) SetTrajectoryType(id int) error {
	m := trajectory.Maneuver(id)
	if !m.Valid() {
		monitoring.Logf("flight: unknown trajectory type %d", id)
		return fmt.Errorf("%w: %d", ErrUnknownManeuver, id)
	}
	c.mu.Lock()
	c.maneuver = m
	c.mu.Unlock()
	return nil
}

// SetTargetPose stores the GOTOPOS target, clamped to the flight volume
// with the yaw wrapped into [-π, π]. It returns the stored pose.
func (c *Controller) SetTargetPose(x, y, z, yaw float64) trajectory.Pose {
	p := trajectory.Pose{
		Position: r3.Vec{
			X: clamp(x, -TargetXYLimit, TargetXYLimit),
			Y: clamp(y, -TargetXYLimit, TargetXYLimit),
			Z: clamp(z, TargetZMin, TargetZMax),
		},
		Yaw: wrapAngle(yaw),
	}
	if math.IsNaN(p.Yaw) {
		p.Yaw = 0
	}
	c.mu.Lock()
	c.target = p
	c.mu.Unlock()
	return p
}

// Status is a point-in-time snapshot for the command surfaces.
type Status struct {
	Mode       string          `json:"mode"`
	ModeCode   int             `json:"mode_code"`
	Pending    string          `json:"pending"`
	Nav        string          `json:"nav"`
	Maneuver   string          `json:"maneuver"`
	Volts      float64         `json:"battery_volts"`
	LowBattery bool            `json:"low_battery"`
	Target     [4]float64      `json:"target"`
	State      [17]float64     `json:"state"`
	Reference  [11]float64     `json:"reference"`
	Command    ActuatorCommand `json:"command"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Status returns the current controller snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Mode:       c.mode.String(),
		ModeCode:   int(c.mode),
		Pending:    c.pending.String(),
		Nav:        c.navState.String(),
		Maneuver:   c.maneuver.String(),
		Volts:      c.battery.Volts(),
		LowBattery: c.battery.Low(),
		Target:     [4]float64{c.target.Position.X, c.target.Position.Y, c.target.Position.Z, c.target.Yaw},
		State:      c.last.State.Vector(),
		Reference:  c.last.Reference.Vector(),
		Command:    c.last.Command,
		UpdatedAt:  c.last.At,
	}
}

func (c *Controller) reject(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	monitoring.Logf("flight: %s (mode %s)", msg, c.mode)
	return fmt.Errorf("%w: %s", ErrRejected, msg)
}

// enter switches to mode to. first requests the mode's entry capture on the
// next tick.
func (c *Controller) enter(now time.Time, to Mode, first bool) {
	from := c.mode
	c.mode = to
	c.first = first
	c.epoch++
	monitoring.Logf("flight: %s -> %s", from, to)
	if c.observer != nil {
		c.observer.ModeChanged(now, from, to)
	}
}

// start checks the LANDED preconditions, brings the vehicle into raw mode
// and enters START. A transition while the handshake runs, such as an
// emergency stop, cancels the start.
func (c *Controller) start(ctx context.Context) error {
	c.mu.Lock()
	if err := c.startAllowed(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.starting = true
	nav, epoch := c.navState, c.epoch
	c.mu.Unlock()

	err := c.requestRaw(ctx, nav)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		monitoring.Logf("flight: start rejected: %v", err)
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if c.epoch != epoch {
		return c.reject("start interrupted")
	}
	c.sink.SetTrim(TrimForPlatform(c.cfg.Platform))
	c.pending = PendingNone
	c.enter(c.clock.Now(), ModeStart, true)
	return nil
}

func (c *Controller) startAllowed() error {
	if c.mode != ModeLanded {
		return c.reject("start is only accepted in %s", ModeLanded)
	}
	if c.starting {
		return c.reject("start already in progress")
	}
	if v := c.battery.Volts(); v <= c.cfg.Profile.MinStartVolts {
		c.battery.Latch()
		return c.reject("battery low (%.2fV), start denied", v)
	}
	return nil
}

// emergencyStop zeroes the actuators, enters LANDED and then asks the
// vehicle to stop.
func (c *Controller) emergencyStop(ctx context.Context) {
	c.mu.Lock()
	monitoring.Logf("flight: emergency stop in %s", c.mode)
	c.sink.Reset()
	c.pending = PendingNone
	c.enter(c.clock.Now(), ModeLanded, false)
	c.mu.Unlock()

	c.requestNav(ctx, NavStop)
}

// requestRaw brings the onboard controller from nav into raw-command mode,
// passing through STOP when it reports neither STOP nor RAW.
func (c *Controller) requestRaw(ctx context.Context, nav NavState) error {
	if nav == NavRaw {
		return nil
	}
	timeout := c.cfg.Profile.NavTimeout
	if nav != NavStop {
		if err := c.nav.ReachNavState(ctx, NavStop, timeout); err != nil {
			return fmt.Errorf("reach %s: %w", NavStop, err)
		}
		c.clock.Sleep(c.cfg.Profile.StopSettleDelay)
	}
	if err := c.nav.ReachNavState(ctx, NavRaw, timeout); err != nil {
		return fmt.Errorf("reach %s: %w", NavRaw, err)
	}
	return nil
}

func (c *Controller) requestNav(ctx context.Context, state NavState) {
	if err := c.nav.ReachNavState(ctx, state, c.cfg.Profile.NavTimeout); err != nil {
		monitoring.Logf("flight: reach %s failed: %v", state, err)
	}
}
