package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// ErrNavRefused is returned when the bridge acknowledges a NAV request with
// a failure.
var ErrNavRefused = errors.New("telemetry: navigation request refused")

// Commander writes a command line to the vehicle bridge.
type Commander interface {
	SendCommand(command string) error
}

// SerialLink is the flight core's view of the vehicle bridge. It forwards
// actuator frames and tracks the navigation state reported in status and ack
// lines so that ReachNavState can wait for a transition to complete.
type SerialLink struct {
	cmd Commander

	mu      sync.Mutex
	nav     flight.NavState
	known   bool
	refusal error
	changed chan struct{}
}

// NewSerialLink returns a link writing through cmd.
func NewSerialLink(cmd Commander) *SerialLink {
	return &SerialLink{cmd: cmd, changed: make(chan struct{})}
}

// WriteRawControl sends one actuator frame.
func (l *SerialLink) WriteRawControl(_ context.Context, cmd flight.ActuatorCommand) error {
	return l.cmd.SendCommand(RawCommand(cmd))
}

// NavState returns the last reported navigation state and whether any
// report has arrived yet.
func (l *SerialLink) NavState() (flight.NavState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nav, l.known
}

// ObserveNav records a navigation state reported by the vehicle.
func (l *SerialLink) ObserveNav(n flight.NavState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nav, l.known = n, true
	l.notifyLocked()
}

// ObserveAck records a command acknowledgement. NAV refusals fail the
// pending ReachNavState call.
func (l *SerialLink) ObserveAck(a Ack) {
	if !strings.EqualFold(a.Cmd, "NAV") {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !a.OK {
		l.refusal = fmt.Errorf("%w: %s", ErrNavRefused, a.Error)
		l.notifyLocked()
		return
	}
	if n, err := ParseNavState(a.Nav); err == nil {
		l.nav, l.known = n, true
		l.notifyLocked()
	}
}

func (l *SerialLink) notifyLocked() {
	close(l.changed)
	l.changed = make(chan struct{})
}

// ReachNavState requests state and waits until the vehicle reports it, the
// bridge refuses, timeout elapses or ctx is done.
func (l *SerialLink) ReachNavState(ctx context.Context, state flight.NavState, timeout time.Duration) error {
	l.mu.Lock()
	if l.known && l.nav == state {
		l.mu.Unlock()
		return nil
	}
	l.refusal = nil
	l.mu.Unlock()

	if err := l.cmd.SendCommand(NavCommand(state)); err != nil {
		return fmt.Errorf("request nav %s: %w", state, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		l.mu.Lock()
		if l.known && l.nav == state {
			l.mu.Unlock()
			return nil
		}
		if err := l.refusal; err != nil {
			l.refusal = nil
			l.mu.Unlock()
			return err
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			monitoring.Logf("telemetry: nav %s not reached within %v", state, timeout)
			return fmt.Errorf("reach nav %s: %w", state, ctx.Err())
		}
	}
}
