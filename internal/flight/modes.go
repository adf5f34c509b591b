package flight

import (
	"context"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// output is what a mode produces for one tick: either a reference for the
// control law or a fixed open-loop throttle.
type output struct {
	ref     trajectory.Reference
	closed  bool
	command ActuatorCommand
}

func track(ref trajectory.Reference) output {
	return output{ref: ref, closed: true}
}

func openLoop(t RotorPair) output {
	return output{command: ActuatorCommand{Upper: t.Upper, Lower: t.Lower}}
}

func (c *Controller) startTick(now time.Time, here trajectory.Pose) output {
	p := c.cfg.Profile
	if c.first {
		c.home = here
		c.startTime = now
		c.first = false
	}

	dt := now.Sub(c.startTime).Seconds()
	switch {
	case dt < p.idle()/2:
		return openLoop(p.SpinUpThrottle)
	case dt < p.idle():
		return openLoop(p.SpinUp2Throttle)
	case dt < p.idle()+p.riseTime():
		ref := trajectory.Static(c.home)
		ref.Position.Z += p.RiseVelocity * (dt - p.idle())
		ref.Velocity.Z = p.RiseVelocity
		return track(ref)
	default:
		c.hover = c.landingPoint()
		c.enter(now, ModeHover, false)
		return track(trajectory.Static(c.hover))
	}
}

func (c *Controller) hoverTick(now time.Time, here trajectory.Pose) output {
	if c.first {
		c.hover = here
		c.first = false
	}
	out := track(trajectory.Static(c.hover))
	if c.battery.Low() {
		c.enter(now, ModeLanding, true)
	}
	return out
}

func (c *Controller) goToTick(now time.Time, here trajectory.Pose) output {
	p := c.cfg.Profile
	servingLand := c.pending == PendingLand
	if c.first {
		c.planRoute(now, here)
		c.first = false
	}

	var out output
	r := c.route
	if dt := now.Sub(r.start).Seconds(); dt < r.duration {
		ref := trajectory.Reference{
			Position: r3.Add(r.origin.Position, r3.Scale(p.GoToVelocity*dt, r.direction)),
			Velocity: r3.Scale(p.GoToVelocity, r.direction),
			Yaw:      dt/r.duration*r.yawDelta + r.origin.Yaw,
			YawRate:  r.yawDelta / r.duration,
		}
		out = track(ref)
	} else {
		switch c.pending {
		case PendingLand:
			c.pending = PendingNone
			c.enter(now, ModeLanding, true)
			out = track(trajectory.Static(trajectory.Pose{Position: here.Position, Yaw: r.goal.Yaw}))
		case PendingTrajectory:
			c.pending = PendingNone
			c.enter(now, ModeTrajectory, true)
			out = track(trajectory.Static(trajectory.Pose{Position: here.Position, Yaw: r.goal.Yaw}))
		default:
			if r3.Norm(r3.Sub(here.Position, r.goal.Position)) > p.ArrivalTol {
				monitoring.Logf("flight: %s missed goal, replanning", ModeGoToPos)
				c.first = true
			} else {
				c.hover = c.target
				c.enter(now, ModeHover, false)
			}
			out = track(trajectory.Static(here))
		}
	}

	if c.battery.Low() && !servingLand {
		c.pending = PendingNone
		c.enter(now, ModeHover, true)
	}
	return out
}

// planRoute captures the straight-line plan from here to the route goal.
// A zero-length route has zero duration and arrives on the same tick.
func (c *Controller) planRoute(now time.Time, here trajectory.Pose) {
	r := &c.route
	r.origin = here
	r.start = now

	delta := r3.Sub(r.goal.Position, here.Position)
	dist := r3.Norm(delta)
	r.direction = r3.Vec{}
	if dist > 0 {
		r.direction = r3.Scale(1/dist, delta)
	}
	r.yawDelta = wrapAngle(r.goal.Yaw - here.Yaw)
	r.duration = dist / c.cfg.Profile.GoToVelocity
}

func (c *Controller) trajectoryTick(now time.Time, here trajectory.Pose) output {
	var out output
	if c.first {
		_, init := trajectory.Generate(0, c.maneuver)
		if r3.Norm(r3.Sub(here.Position, init.Position)) > c.cfg.Profile.ArrivalTol {
			c.pending = PendingTrajectory
			c.route.goal = init
			c.enter(now, ModeGoToPos, true)
		} else {
			c.first = false
			c.trajStart = now
		}
		out = track(trajectory.Static(here))
	} else {
		ref, _ := trajectory.Generate(now.Sub(c.trajStart).Seconds(), c.maneuver)
		out = track(ref)
	}

	if c.battery.Low() {
		c.pending = PendingNone
		c.enter(now, ModeHover, true)
	}
	return out
}

func (c *Controller) landingTick(ctx context.Context, now time.Time, here trajectory.Pose) output {
	p := c.cfg.Profile
	above := c.landingPoint()
	if c.first {
		if r3.Norm(r3.Sub(here.Position, above.Position)) > p.ArrivalTol {
			c.pending = PendingLand
			c.route.goal = above
			c.enter(now, ModeGoToPos, true)
		} else {
			c.first = false
			c.landStart = now
		}
		return track(trajectory.Static(trajectory.Pose{Position: here.Position, Yaw: c.home.Yaw}))
	}

	dt := now.Sub(c.landStart).Seconds()
	switch {
	case dt < p.sinkTime():
		ref := trajectory.Static(above)
		ref.Position.Z -= p.SinkVelocity * dt
		ref.Velocity.Z = -p.SinkVelocity
		return track(ref)
	case dt < p.sinkTime()+p.idle():
		return openLoop(p.IdleThrottle)
	default:
		c.sink.Reset()
		// The stop is answered on the telemetry path that runs this tick.
		go c.requestNav(context.WithoutCancel(ctx), NavStop)
		c.enter(now, ModeLanded, false)
		return openLoop(RotorPair{})
	}
}

// landingPoint is the hover set-point above home where landings start.
func (c *Controller) landingPoint() trajectory.Pose {
	p := c.home
	p.Position.Z += c.cfg.Profile.StartHeight
	return p
}
