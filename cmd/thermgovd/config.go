package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the thermgovd daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and environments where a file is awkward. Defaults and
// validation are centralized here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Sleep between control cycles, in seconds.
	IntervalSec float64 `yaml:"interval_sec"`

	// Temperature sources
	Sensor SensorConfig `yaml:"sensor"`

	// Fan actuator registers
	Fan FanConfig `yaml:"fan"`

	// External frequency-control invocations
	PState PStateConfig `yaml:"pstate"`

	// Ordered trip-point table, ascending by threshold
	TripPoints []TripPointConfig `yaml:"trip_points"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type SensorConfig struct {
	Control string   `yaml:"control"`
	Aux     []string `yaml:"aux,omitempty"` // sampled and logged, unused by control
}

type FanConfig struct {
	Mode string `yaml:"mode"` // pwm*_enable path
	Duty string `yaml:"duty"` // pwm* path
	Tach string `yaml:"tach,omitempty"`
}

type PStateConfig struct {
	ProbeCommand []string `yaml:"probe_command"`
	SetCommand   []string `yaml:"set_command"` // frequency in kHz appended as last argument
	QueryCommand []string `yaml:"query_command"`
}

// TripPointConfig is the user-facing form of one trip point. Fan and PState
// are strings so "auto"/"max"/"off" and numeric forms share one field.
type TripPointConfig struct {
	ThresholdMilliC int    `yaml:"threshold_millic"`
	DebounceCycles  int    `yaml:"debounce_cycles,omitempty"`
	Fan             string `yaml:"fan,omitempty"`    // "auto" | "max" | "off" | "0".."255" | absent
	PState          string `yaml:"pstate,omitempty"` // "max" | "0".."maxPState"        | absent
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go and the CLI defaults.
func DefaultConfig() Config {
	return Config{
		IntervalSec: defaultIntervalSec,
		Sensor: SensorConfig{
			Control: defaultControlSensor,
		},
		Fan: FanConfig{
			Mode: defaultFanModePath,
			Duty: defaultFanDutyPath,
			Tach: defaultFanTachPath,
		},
		PState: PStateConfig{
			ProbeCommand: []string{"cpupower", "frequency-info", "--freq-table"},
			SetCommand:   []string{"cpupower", "frequency-set", "--max"},
			QueryCommand: []string{"cpupower", "frequency-info", "--policy"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true), and
// trailing garbage after the document is an error.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies flag values on top of a loaded config. A nil pointer
// means the flag was not set; a non-nil pointer is applied even if it holds
// a zero value.
type FlagOverrides struct {
	IntervalSec   *float64
	ControlSensor *string
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.IntervalSec != nil {
		cfg.IntervalSec = *o.IntervalSec
	}
	if o.ControlSensor != nil {
		cfg.Sensor.Control = *o.ControlSensor
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// It needs maxPState from the capability probe to bound numeric pstate
// settings, which is why probing happens before validation. Any violation
// is fatal: the daemon refuses to run rather than auto-correct.
func (c *Config) Validate(maxPState int) error {
	if c.IntervalSec < minIntervalSec {
		return fmt.Errorf("interval_sec must be >= %.1f, got %g", minIntervalSec, c.IntervalSec)
	}

	if c.Sensor.Control == "" {
		return errors.New("sensor.control must not be empty")
	}
	if c.Fan.Mode == "" {
		return errors.New("fan.mode must not be empty")
	}
	if c.Fan.Duty == "" {
		return errors.New("fan.duty must not be empty")
	}
	if len(c.PState.ProbeCommand) == 0 {
		return errors.New("pstate.probe_command must not be empty")
	}
	if len(c.PState.SetCommand) == 0 {
		return errors.New("pstate.set_command must not be empty")
	}
	if len(c.PState.QueryCommand) == 0 {
		return errors.New("pstate.query_command must not be empty")
	}

	if len(c.TripPoints) == 0 {
		return errors.New("trip_points must contain at least one entry")
	}

	prev := thresholdMinMilliC
	for i, tp := range c.TripPoints {
		n := i + 1 // trip points are 1-indexed in messages and in the engine

		if tp.ThresholdMilliC < thresholdMinMilliC || tp.ThresholdMilliC > thresholdMaxMilliC {
			return fmt.Errorf("trip_points[%d]: threshold_millic %d outside sane range [%d, %d]",
				n, tp.ThresholdMilliC, thresholdMinMilliC, thresholdMaxMilliC)
		}
		if tp.ThresholdMilliC < prev {
			return fmt.Errorf("trip_points[%d]: threshold_millic %d is below trip point %d's threshold %d (thresholds must be non-decreasing)",
				n, tp.ThresholdMilliC, n-1, prev)
		}
		prev = tp.ThresholdMilliC

		if tp.DebounceCycles < 0 {
			return fmt.Errorf("trip_points[%d]: debounce_cycles must be >= 0, got %d", n, tp.DebounceCycles)
		}
		if _, err := parseFanSetting(tp.Fan); err != nil {
			return fmt.Errorf("trip_points[%d]: %w", n, err)
		}
		if _, err := parsePStateSetting(tp.PState, maxPState); err != nil {
			return fmt.Errorf("trip_points[%d]: %w", n, err)
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// TripTable converts the validated config into the engine's trip table.
// Call only after Validate has succeeded.
func (c *Config) TripTable(maxPState int) []TripPoint {
	trips := make([]TripPoint, 0, len(c.TripPoints))
	for i, tp := range c.TripPoints {
		fan, err := parseFanSetting(tp.Fan)
		if err != nil {
			panic(fmt.Sprintf("TripTable called on unvalidated config: %v", err))
		}
		pstate, err := parsePStateSetting(tp.PState, maxPState)
		if err != nil {
			panic(fmt.Sprintf("TripTable called on unvalidated config: %v", err))
		}
		trips = append(trips, TripPoint{
			Index:           i + 1,
			ThresholdMilliC: tp.ThresholdMilliC,
			DebounceCycles:  tp.DebounceCycles,
			Fan:             fan,
			PState:          pstate,
		})
	}
	return trips
}

// Interval returns the cycle sleep as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec * float64(time.Second))
}

// parseFanSetting parses the user-facing fan forms: absent (no change),
// "auto", "max", "off", or an explicit duty 0..255.
func parseFanSetting(s string) (FanSetting, error) {
	switch s {
	case "":
		return FanSetting{Mode: FanUnset}, nil
	case "auto":
		return FanSetting{Mode: FanAuto}, nil
	case "max":
		return FanSetting{Mode: FanMax}, nil
	case "off":
		return FanSetting{Mode: FanDuty, Duty: fanDutyMin}, nil
	}
	duty, err := strconv.Atoi(s)
	if err != nil {
		return FanSetting{}, fmt.Errorf("fan setting %q must be \"auto\", \"max\", \"off\" or a duty 0..255", s)
	}
	if duty < fanDutyMin || duty > fanDutyMax {
		return FanSetting{}, fmt.Errorf("fan duty %d out of range [%d, %d]", duty, fanDutyMin, fanDutyMax)
	}
	return FanSetting{Mode: FanDuty, Duty: duty}, nil
}

// parsePStateSetting parses the user-facing pstate forms: absent (no
// change), "max", or an explicit index 0..maxPState.
func parsePStateSetting(s string, maxPState int) (PStateSetting, error) {
	switch s {
	case "":
		return PStateSetting{Mode: PStateUnset}, nil
	case "max":
		return PStateSetting{Mode: PStateMax}, nil
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return PStateSetting{}, fmt.Errorf("pstate setting %q must be \"max\" or an index 0..%d", s, maxPState)
	}
	if idx < 0 || idx > maxPState {
		return PStateSetting{}, fmt.Errorf("pstate index %d out of range [0, %d]", idx, maxPState)
	}
	return PStateSetting{Mode: PStateIndex, Index: idx}, nil
}
