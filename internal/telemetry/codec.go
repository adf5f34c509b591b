// Package telemetry carries the vehicle link: it decodes the JSON lines the
// radio bridge emits, encodes the outbound command lines and dispatches
// decoded samples to the flight controller.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/serialmux"
)

var (
	ErrWrongType     = errors.New("telemetry: unexpected line type")
	ErrBadQuaternion = errors.New("telemetry: degenerate orientation quaternion")
	ErrUnknownNav    = errors.New("telemetry: unknown navigation state")
)

// Comm content flags accepted by the COMM command.
const (
	ContentModes   = "modes"
	ContentBattery = "battery"
	ContentGyro    = "gyro"
)

// DefaultContents is the telemetry selection the controller needs.
var DefaultContents = []string{ContentModes, ContentBattery, ContentGyro}

// odomLine is the wire form of an odometry sample. Quat is w, x, y, z.
type odomLine struct {
	Type string     `json:"type"`
	Pos  [3]float64 `json:"pos"`
	Vel  [3]float64 `json:"vel"`
	Quat [4]float64 `json:"quat"`
	Rate [3]float64 `json:"rate"`
}

type stateLine struct {
	Type    string     `json:"type"`
	Battery float64    `json:"battery"`
	Gyro    [3]float64 `json:"gyro"`
	Nav     string     `json:"nav"`
}

// Ack answers a command line. Cmd is the command verb and Nav, when set,
// the navigation state the bridge reports after handling it.
type Ack struct {
	Type  string `json:"type"`
	Cmd   string `json:"cmd"`
	OK    bool   `json:"ok"`
	Nav   string `json:"nav,omitempty"`
	Error string `json:"error,omitempty"`
}

func decode(line, want string, v any) error {
	if got := serialmux.ClassifyPayload(line); got != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongType, got, want)
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		return fmt.Errorf("decode %s line: %w", want, err)
	}
	return nil
}

// DecodeOdometry parses an odom line stamped with at. The orientation is
// normalized; a zero or non-finite quaternion is rejected.
func DecodeOdometry(line string, at time.Time) (flight.Odometry, error) {
	var l odomLine
	if err := decode(line, serialmux.EventTypeOdometry, &l); err != nil {
		return flight.Odometry{}, err
	}
	q := quat.Number{Real: l.Quat[0], Imag: l.Quat[1], Jmag: l.Quat[2], Kmag: l.Quat[3]}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return flight.Odometry{}, ErrBadQuaternion
	}
	return flight.Odometry{
		Time:        at,
		Position:    vec(l.Pos),
		Velocity:    vec(l.Vel),
		Orientation: quat.Scale(1/n, q),
		AngularRate: vec(l.Rate),
	}, nil
}

// DecodeStatus parses a state line.
func DecodeStatus(line string) (flight.VehicleStatus, error) {
	var l stateLine
	if err := decode(line, serialmux.EventTypeState, &l); err != nil {
		return flight.VehicleStatus{}, err
	}
	nav, err := ParseNavState(l.Nav)
	if err != nil {
		return flight.VehicleStatus{}, err
	}
	return flight.VehicleStatus{BatteryRaw: l.Battery, Gyro: vec(l.Gyro), Nav: nav}, nil
}

// DecodeAck parses an ack line.
func DecodeAck(line string) (Ack, error) {
	var a Ack
	if err := decode(line, serialmux.EventTypeAck, &a); err != nil {
		return Ack{}, err
	}
	return a, nil
}

// EncodeOdometry renders o as an odom line without trailing newline.
func EncodeOdometry(o flight.Odometry) string {
	q := o.Orientation
	return marshal(odomLine{
		Type: serialmux.EventTypeOdometry,
		Pos:  arr(o.Position),
		Vel:  arr(o.Velocity),
		Quat: [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		Rate: arr(o.AngularRate),
	})
}

// EncodeStatus renders st as a state line without trailing newline.
func EncodeStatus(st flight.VehicleStatus) string {
	return marshal(stateLine{
		Type:    serialmux.EventTypeState,
		Battery: st.BatteryRaw,
		Gyro:    arr(st.Gyro),
		Nav:     navWord(st.Nav),
	})
}

func marshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// only fixed-size float arrays and strings are marshalled here
		panic(err)
	}
	return string(b)
}

// ParseNavState accepts the bridge's navigation state names in any case.
func ParseNavState(s string) (flight.NavState, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STOP":
		return flight.NavStop, nil
	case "IDLE":
		return flight.NavIdle, nil
	case "RAW":
		return flight.NavRaw, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownNav, s)
}

func navWord(n flight.NavState) string { return strings.ToUpper(n.String()) }

// RawCommand encodes a four-channel actuator frame.
func RawCommand(cmd flight.ActuatorCommand) string {
	return fmt.Sprintf("RAW %.4f %.4f %.4f %.4f", cmd.Upper, cmd.Lower, cmd.Roll, cmd.Pitch)
}

// NavCommand requests a navigation state.
func NavCommand(n flight.NavState) string { return "NAV " + navWord(n) }

// CommCommand selects the telemetry rate in Hz and the message contents.
func CommCommand(frequency int, contents []string) string {
	return fmt.Sprintf("COMM %d %s", frequency, strings.Join(contents, ","))
}

// TimeoutCommand sets the onboard control and watchdog timeouts in
// milliseconds.
func TimeoutCommand(control, watchdog time.Duration) string {
	return fmt.Sprintf("TIMEOUT %d %d", control.Milliseconds(), watchdog.Milliseconds())
}

// ConfigScript is the bridge initialization sequence sent at startup.
func ConfigScript(frequency int, contents []string, control, watchdog time.Duration) []string {
	return []string{
		CommCommand(frequency, contents),
		TimeoutCommand(control, watchdog),
	}
}

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

func arr(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }
