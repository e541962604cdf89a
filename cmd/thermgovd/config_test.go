package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thermgovd.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfigYAML = `
interval_sec: 1.5
sensor:
  control: /sys/class/hwmon/hwmon0/temp1_input
  aux:
    - /sys/class/hwmon/hwmon0/temp2_input
fan:
  mode: /sys/class/hwmon/hwmon1/pwm1_enable
  duty: /sys/class/hwmon/hwmon1/pwm1
  tach: /sys/class/hwmon/hwmon1/fan1_input
trip_points:
  - threshold_millic: 65000
    debounce_cycles: 2
    fan: "128"
    pstate: "2"
  - threshold_millic: 75000
    fan: max
    pstate: "0"
logging:
  level: debug
`

func TestLoadConfigFile_Valid(t *testing.T) {
	path := writeTestConfig(t, validConfigYAML)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.IntervalSec != 1.5 {
		t.Errorf("expected interval 1.5, got %g", cfg.IntervalSec)
	}
	if cfg.Interval() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s duration, got %s", cfg.Interval())
	}
	if len(cfg.TripPoints) != 2 {
		t.Fatalf("expected 2 trip points, got %d", len(cfg.TripPoints))
	}
	if cfg.TripPoints[1].DebounceCycles != 0 {
		t.Errorf("expected debounce to default to 0, got %d", cfg.TripPoints[1].DebounceCycles)
	}
	// Defaults survive partial configs.
	if len(cfg.PState.ProbeCommand) == 0 {
		t.Error("expected default probe command to be populated")
	}
	if err := cfg.Validate(2); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeTestConfig(t, "interval_sec: 2.0\nsleep_interval: 5\n")

	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestLoadConfigFile_MissingFile(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestConfigValidate_Rejections(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.TripPoints = []TripPointConfig{
			{ThresholdMilliC: 65000, DebounceCycles: 2, Fan: "128", PState: "2"},
			{ThresholdMilliC: 75000, Fan: "max", PState: "0"},
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "interval too small",
			mutate:  func(c *Config) { c.IntervalSec = 0.05 },
			wantErr: "interval_sec",
		},
		{
			name:    "interval negative",
			mutate:  func(c *Config) { c.IntervalSec = -1 },
			wantErr: "interval_sec",
		},
		{
			name:    "no trip points",
			mutate:  func(c *Config) { c.TripPoints = nil },
			wantErr: "trip_points",
		},
		{
			name: "thresholds out of order",
			mutate: func(c *Config) {
				c.TripPoints[1].ThresholdMilliC = 60000
			},
			wantErr: "non-decreasing",
		},
		{
			name: "threshold outside sane range",
			mutate: func(c *Config) {
				c.TripPoints[0].ThresholdMilliC = 200000
			},
			wantErr: "sane range",
		},
		{
			name: "negative debounce",
			mutate: func(c *Config) {
				c.TripPoints[0].DebounceCycles = -1
			},
			wantErr: "debounce_cycles",
		},
		{
			name: "bad fan form",
			mutate: func(c *Config) {
				c.TripPoints[0].Fan = "fast"
			},
			wantErr: "fan setting",
		},
		{
			name: "fan duty out of range",
			mutate: func(c *Config) {
				c.TripPoints[0].Fan = "300"
			},
			wantErr: "fan duty",
		},
		{
			name: "pstate index out of range",
			mutate: func(c *Config) {
				c.TripPoints[0].PState = "7"
			},
			wantErr: "pstate index",
		},
		{
			name: "bad pstate form",
			mutate: func(c *Config) {
				c.TripPoints[0].PState = "min"
			},
			wantErr: "pstate setting",
		},
		{
			name:    "empty control sensor",
			mutate:  func(c *Config) { c.Sensor.Control = "" },
			wantErr: "sensor.control",
		},
		{
			name:    "empty fan mode path",
			mutate:  func(c *Config) { c.Fan.Mode = "" },
			wantErr: "fan.mode",
		},
		{
			name:    "empty set command",
			mutate:  func(c *Config) { c.PState.SetCommand = nil },
			wantErr: "set_command",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate(2)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestConfigValidate_EqualThresholdsAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TripPoints = []TripPointConfig{
		{ThresholdMilliC: 65000, Fan: "auto"},
		{ThresholdMilliC: 65000, Fan: "max"},
	}
	if err := cfg.Validate(2); err != nil {
		t.Fatalf("equal thresholds are non-decreasing, expected valid, got %v", err)
	}
}

func TestConfigTripTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TripPoints = []TripPointConfig{
		{ThresholdMilliC: 55000, DebounceCycles: 1, Fan: "off"},
		{ThresholdMilliC: 65000, Fan: "auto", PState: "max"},
		{ThresholdMilliC: 75000, Fan: "max", PState: "0"},
	}
	if err := cfg.Validate(2); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	trips := cfg.TripTable(2)
	if len(trips) != 3 {
		t.Fatalf("expected 3 trips, got %d", len(trips))
	}
	for i, tp := range trips {
		if tp.Index != i+1 {
			t.Errorf("trip %d: expected 1-based index %d, got %d", i, i+1, tp.Index)
		}
	}
	if trips[0].Fan != (FanSetting{Mode: FanDuty, Duty: 0}) {
		t.Errorf(`expected "off" to mean duty 0, got %s`, trips[0].Fan)
	}
	if trips[0].PState.Mode != PStateUnset {
		t.Errorf("expected absent pstate to mean unset, got %s", trips[0].PState)
	}
	if trips[1].Fan.Mode != FanAuto || trips[1].PState.Mode != PStateMax {
		t.Errorf("trip 2 settings wrong: fan=%s pstate=%s", trips[1].Fan, trips[1].PState)
	}
	if trips[2].PState != (PStateSetting{Mode: PStateIndex, Index: 0}) {
		t.Errorf("trip 3 pstate wrong: %s", trips[2].PState)
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	interval := 0.5
	sensor := "/sys/class/hwmon/hwmon2/temp1_input"
	level := "debug"

	FlagOverrides{
		IntervalSec:   &interval,
		ControlSensor: &sensor,
		LogLevel:      &level,
	}.Apply(&cfg)

	if cfg.IntervalSec != 0.5 {
		t.Errorf("expected interval override 0.5, got %g", cfg.IntervalSec)
	}
	if cfg.Sensor.Control != sensor {
		t.Errorf("expected sensor override, got %s", cfg.Sensor.Control)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level override, got %s", cfg.Logging.Level)
	}

	// Nil pointers leave the config untouched.
	FlagOverrides{}.Apply(&cfg)
	if cfg.IntervalSec != 0.5 {
		t.Errorf("expected empty overrides to be a no-op, got %g", cfg.IntervalSec)
	}
}
