package flight

import (
	"math"
	"sync/atomic"

	"github.com/banshee-data/coaxctl/internal/monitoring"
)

const (
	// LowBatteryVolts latches the low-power condition once crossed.
	LowBatteryVolts = 10.80
	// NominalBatteryVolts is assumed until the first status message arrives.
	NominalBatteryVolts = 12.22
)

const (
	batteryGain   = 0.8817
	batteryOffset = 1.5299
)

// BatteryVolts converts a raw onboard battery reading to volts.
func BatteryVolts(raw float64) float64 {
	return batteryGain*raw + batteryOffset
}

// BatteryRaw is the inverse of BatteryVolts.
func BatteryRaw(volts float64) float64 {
	return (volts - batteryOffset) / batteryGain
}

// Battery tracks the latest pack voltage and the latched low-power flag.
// It is written by the telemetry path and read by the actuator loop.
type Battery struct {
	threshold float64
	volts     atomic.Uint64
	low       atomic.Bool
}

// NewBattery returns a monitor with the default thresholds.
func NewBattery() *Battery {
	return NewBatteryWithLimits(NominalBatteryVolts, LowBatteryVolts)
}

// NewBatteryWithLimits returns a monitor reporting nominal until the first
// reading and latching below low.
func NewBatteryWithLimits(nominal, low float64) *Battery {
	b := &Battery{threshold: low}
	b.volts.Store(math.Float64bits(nominal))
	return b
}

// Update records a raw reading and reports whether it latched the low-power
// flag for the first time.
func (b *Battery) Update(raw float64) (volts float64, latched bool) {
	volts = BatteryVolts(raw)
	b.volts.Store(math.Float64bits(volts))
	if volts < b.threshold && b.low.CompareAndSwap(false, true) {
		monitoring.Logf("battery low (%.2fV), landing initiated", volts)
		return volts, true
	}
	return volts, false
}

// Volts returns the latest pack voltage.
func (b *Battery) Volts() float64 {
	return math.Float64frombits(b.volts.Load())
}

// Low reports whether the low-power condition has been latched.
func (b *Battery) Low() bool { return b.low.Load() }

// Latch forces the low-power condition.
func (b *Battery) Latch() { b.low.Store(true) }
