// Package config loads the flight configuration: vehicle model, controller
// gains, maneuver profile, battery handling and the radio link settings.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical flight defaults file. The
// embedded copy in this package mirrors it.
const DefaultConfigPath = "config/flight.defaults.json"

//go:embed flight.defaults.json
var defaultsJSON []byte

// FlightConfig is the root configuration document.
type FlightConfig struct {
	Platform      int                   `json:"platform"`
	Frequency     int                   `json:"frequency"`
	WatchdogTicks int                   `json:"watchdog_ticks"`
	Model         flight.ModelParams    `json:"model"`
	Gains         flight.ControlGains   `json:"gains"`
	Profile       ProfileConfig         `json:"profile"`
	Battery       BatteryConfig         `json:"battery"`
	Comm          CommConfig            `json:"comm"`
	Serial        serialmux.PortOptions `json:"serial"`
}

// ProfileConfig holds the scripted-phase timing. Durations are strings such
// as "3s" or "500ms".
type ProfileConfig struct {
	IdleTime         string           `json:"idle_time"`
	StartHeight      float64          `json:"start_height"`
	RiseVelocity     float64          `json:"rise_velocity"`
	GoToVelocity     float64          `json:"goto_velocity"`
	SinkVelocity     float64          `json:"sink_velocity"`
	ArrivalTolerance float64          `json:"arrival_tolerance"`
	SpinUpThrottle   flight.RotorPair `json:"spin_up_throttle"`
	SpinUp2Throttle  flight.RotorPair `json:"spin_up2_throttle"`
	IdleThrottle     flight.RotorPair `json:"idle_throttle"`
	MinStartVolts    float64          `json:"min_start_volts"`
	StopSettleDelay  string           `json:"stop_settle_delay"`
	NavTimeout       string           `json:"nav_timeout"`
}

// BatteryConfig holds the battery thresholds and sag compensation.
type BatteryConfig struct {
	NominalVolts          float64          `json:"nominal_volts"`
	LowVolts              float64          `json:"low_volts"`
	CompensationSlope     flight.RotorPair `json:"compensation_slope"`
	CompensationThreshold float64          `json:"compensation_threshold"`
}

// CommConfig is sent to the vehicle bridge at startup.
type CommConfig struct {
	Frequency       int      `json:"frequency"`
	Contents        []string `json:"contents"`
	ControlTimeout  string   `json:"control_timeout"`
	WatchdogTimeout string   `json:"watchdog_timeout"`
}

// DefaultFlightConfig returns the embedded defaults.
func DefaultFlightConfig() *FlightConfig {
	cfg := &FlightConfig{}
	if err := json.Unmarshal(defaultsJSON, cfg); err != nil {
		panic("embedded flight defaults: " + err.Error())
	}
	return cfg
}

// LoadFlightConfig loads a FlightConfig from a JSON file. The file must have
// a .json extension and be under 1MB. Fields omitted from the file keep
// their default values, so partial configs are safe.
func LoadFlightConfig(path string) (*FlightConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultFlightConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *FlightConfig) Validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("frequency must be positive, got %d", c.Frequency)
	}
	if c.WatchdogTicks <= 0 {
		return fmt.Errorf("watchdog_ticks must be positive, got %d", c.WatchdogTicks)
	}

	m := c.Model
	if m.Mass <= 0 {
		return fmt.Errorf("model.mass must be positive, got %f", m.Mass)
	}
	for name, v := range map[string]float64{
		"thrust_factor.upper":       m.ThrustFactor.Upper,
		"thrust_factor.lower":       m.ThrustFactor.Lower,
		"moment_factor.upper":       m.MomentFactor.Upper,
		"moment_factor.lower":       m.MomentFactor.Lower,
		"linkage_factor.lower":      m.LinkageFactor.Lower,
		"bar_time_constant":         m.BarTimeConstant,
		"motor_time_constant.upper": m.MotorTimeConstant.Upper,
		"motor_time_constant.lower": m.MotorTimeConstant.Lower,
		"speed_upper.slope":         m.SpeedUpper.Slope,
		"speed_lower.slope":         m.SpeedLower.Slope,
		"max_swashplate_angle":      m.MaxSwashplateAngle,
	} {
		if v <= 0 {
			return fmt.Errorf("model.%s must be positive, got %g", name, v)
		}
	}

	p := c.Profile
	for name, v := range map[string]float64{
		"start_height":      p.StartHeight,
		"rise_velocity":     p.RiseVelocity,
		"goto_velocity":     p.GoToVelocity,
		"sink_velocity":     p.SinkVelocity,
		"arrival_tolerance": p.ArrivalTolerance,
	} {
		if v <= 0 {
			return fmt.Errorf("profile.%s must be positive, got %g", name, v)
		}
	}
	for name, s := range map[string]string{
		"profile.idle_time":         p.IdleTime,
		"profile.stop_settle_delay": p.StopSettleDelay,
		"profile.nav_timeout":       p.NavTimeout,
		"comm.control_timeout":      c.Comm.ControlTimeout,
		"comm.watchdog_timeout":     c.Comm.WatchdogTimeout,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, s, err)
		}
	}

	if c.Battery.LowVolts >= c.Battery.NominalVolts {
		return fmt.Errorf("battery.low_volts (%g) must be below nominal_volts (%g)", c.Battery.LowVolts, c.Battery.NominalVolts)
	}
	if c.Comm.Frequency <= 0 {
		return fmt.Errorf("comm.frequency must be positive, got %d", c.Comm.Frequency)
	}
	if _, err := c.Serial.Normalize(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	return nil
}

// FlightProfile converts the profile section. Validate must have succeeded.
func (c *FlightConfig) FlightProfile() flight.Profile {
	p := c.Profile
	return flight.Profile{
		IdleTime:        mustDuration(p.IdleTime),
		StartHeight:     p.StartHeight,
		RiseVelocity:    p.RiseVelocity,
		GoToVelocity:    p.GoToVelocity,
		SinkVelocity:    p.SinkVelocity,
		ArrivalTol:      p.ArrivalTolerance,
		SpinUpThrottle:  p.SpinUpThrottle,
		SpinUp2Throttle: p.SpinUp2Throttle,
		IdleThrottle:    p.IdleThrottle,
		MinStartVolts:   p.MinStartVolts,
		StopSettleDelay: mustDuration(p.StopSettleDelay),
		NavTimeout:      mustDuration(p.NavTimeout),
	}
}

// Compensation converts the battery section to sag compensation.
func (c *FlightConfig) Compensation() flight.Compensation {
	return flight.Compensation{
		NominalVolts: c.Battery.NominalVolts,
		Slope:        c.Battery.CompensationSlope,
		Threshold:    c.Battery.CompensationThreshold,
	}
}

// NewBattery returns a battery monitor with the configured thresholds.
func (c *FlightConfig) NewBattery() *flight.Battery {
	return flight.NewBatteryWithLimits(c.Battery.NominalVolts, c.Battery.LowVolts)
}

// ControllerConfig assembles the flight controller parameters.
func (c *FlightConfig) ControllerConfig() flight.ControllerConfig {
	return flight.ControllerConfig{
		Model:    c.Model,
		Gains:    c.Gains,
		Profile:  c.FlightProfile(),
		Platform: c.Platform,
	}
}

// LoopConfig assembles the actuator loop parameters.
func (c *FlightConfig) LoopConfig() flight.LoopConfig {
	return flight.LoopConfig{
		Rate:          c.Frequency,
		WatchdogTicks: c.WatchdogTicks,
		Model:         c.Model,
		Compensation:  c.Compensation(),
	}
}

// ControlTimeout returns the onboard control timeout.
func (c *FlightConfig) ControlTimeout() time.Duration { return mustDuration(c.Comm.ControlTimeout) }

// WatchdogTimeout returns the onboard watchdog timeout.
func (c *FlightConfig) WatchdogTimeout() time.Duration { return mustDuration(c.Comm.WatchdogTimeout) }

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q: %v", s, err))
	}
	return d
}
