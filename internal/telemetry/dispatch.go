package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/monitoring"
	"github.com/banshee-data/coaxctl/internal/serialmux"
	"github.com/banshee-data/coaxctl/internal/timeutil"
)

// Handler consumes decoded telemetry. It is implemented by flight.Controller.
type Handler interface {
	HandleOdometry(ctx context.Context, o flight.Odometry) flight.ActuatorCommand
	HandleStatus(st flight.VehicleStatus)
}

// Stats counts dispatched lines by outcome.
type Stats struct {
	Odometry uint64 `json:"odometry"`
	Status   uint64 `json:"status"`
	Acks     uint64 `json:"acks"`
	Ignored  uint64 `json:"ignored"`
	Errors   uint64 `json:"errors"`
}

// Dispatcher routes bridge lines to the controller and the link.
type Dispatcher struct {
	handler Handler
	link    *SerialLink
	clock   timeutil.Clock

	odometry, status, acks, ignored, errors atomic.Uint64
}

// NewDispatcher returns a dispatcher feeding handler. link may be nil when
// no bridge is attached; a nil clock means the real clock.
func NewDispatcher(handler Handler, link *SerialLink, clock timeutil.Clock) *Dispatcher {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Dispatcher{handler: handler, link: link, clock: clock}
}

// Dispatch decodes one line stamped at and hands it on. Unknown lines are
// counted and ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, line string, at time.Time) error {
	switch serialmux.ClassifyPayload(line) {
	case serialmux.EventTypeOdometry:
		o, err := DecodeOdometry(line, at)
		if err != nil {
			d.errors.Add(1)
			return err
		}
		d.odometry.Add(1)
		d.handler.HandleOdometry(ctx, o)
	case serialmux.EventTypeState:
		st, err := DecodeStatus(line)
		if err != nil {
			d.errors.Add(1)
			return err
		}
		d.status.Add(1)
		// The link sees the nav state first: a set-mode command may be
		// holding the controller while it waits for this report.
		if d.link != nil {
			d.link.ObserveNav(st.Nav)
		}
		d.handler.HandleStatus(st)
	case serialmux.EventTypeAck:
		a, err := DecodeAck(line)
		if err != nil {
			d.errors.Add(1)
			return err
		}
		d.acks.Add(1)
		if !a.OK {
			monitoring.Logf("telemetry: bridge refused %s: %s", a.Cmd, a.Error)
		}
		if d.link != nil {
			d.link.ObserveAck(a)
		}
	default:
		d.ignored.Add(1)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Odometry: d.odometry.Load(),
		Status:   d.status.Load(),
		Acks:     d.acks.Load(),
		Ignored:  d.ignored.Load(),
		Errors:   d.errors.Load(),
	}
}

// logDropped logs the first undecodable line and every 100th after it.
func (d *Dispatcher) logDropped(origin string, err error) {
	if n := d.errors.Load(); monitoring.Sampled(n, 100) {
		monitoring.Logf("telemetry: dropping line from %s (%d so far): %v", origin, n, err)
	}
}

// LineSource is a subscribable line stream such as a serial mux.
type LineSource interface {
	Subscribe() (string, chan string)
	Unsubscribe(id string)
}

// Follow subscribes to src and dispatches every line, stamped with the
// dispatcher's clock on arrival, until ctx is done or src closes.
func Follow(ctx context.Context, src LineSource, d *Dispatcher) error {
	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := d.Dispatch(ctx, line, d.clock.Now()); err != nil {
				d.logDropped("serial", err)
			}
		}
	}
}
