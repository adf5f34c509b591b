package telemetry

import (
	"bufio"
	"bytes"
	"strings"
	"sync"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/serialmux"
)

// BenchBridge emulates the radio bridge for a vehicle resting on the bench.
// It reports a fixed pose, answers NAV commands with acks and tracks the
// navigation state they select. It drives the mock serial mux in dev mode.
type BenchBridge struct {
	// StatusEvery is the number of lines between state lines.
	StatusEvery int

	mu      sync.Mutex
	pose    r3.Vec
	battery float64
	nav     flight.NavState
	pending []string
	raw     int
}

// NewBenchBridge returns a bridge reporting volts on the pack and the vehicle
// at pose, in STOP.
func NewBenchBridge(pose r3.Vec, volts float64) *BenchBridge {
	return &BenchBridge{
		StatusEvery: 10,
		pose:        pose,
		battery:     flight.BatteryRaw(volts),
		nav:         flight.NavStop,
	}
}

// Line returns the n-th telemetry line. Queued acks go out first.
func (b *BenchBridge) Line(n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		line := b.pending[0]
		b.pending = b.pending[1:]
		return []byte(line)
	}
	if b.StatusEvery > 0 && n%b.StatusEvery == 0 {
		return []byte(EncodeStatus(flight.VehicleStatus{BatteryRaw: b.battery, Nav: b.nav}))
	}
	return []byte(EncodeOdometry(flight.Odometry{
		Position:    b.pose,
		Orientation: quat.Number{Real: 1},
	}))
}

// HandleWrite consumes command bytes written to the port.
func (b *BenchBridge) HandleWrite(p []byte) {
	scan := bufio.NewScanner(bytes.NewReader(p))
	for scan.Scan() {
		b.handleCommand(scan.Text())
	}
}

func (b *BenchBridge) handleCommand(line string) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	b.mu.Lock()
	defer b.mu.Unlock()
	switch verb {
	case "RAW":
		b.raw++
	case "NAV":
		nav, err := ParseNavState(arg)
		if err != nil {
			b.pending = append(b.pending, marshal(Ack{Type: serialmux.EventTypeAck, Cmd: verb, OK: false, Error: err.Error()}))
			return
		}
		b.nav = nav
		b.pending = append(b.pending, marshal(Ack{Type: serialmux.EventTypeAck, Cmd: verb, OK: true, Nav: navWord(nav)}))
	}
}

// Nav returns the navigation state selected by the last NAV command.
func (b *BenchBridge) Nav() flight.NavState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nav
}

// RawFrames counts the RAW control frames received.
func (b *BenchBridge) RawFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}
