package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SensorReader samples hwmon temperature files. The control sensor is the
// only input to the trip-point evaluator; auxiliary sensors are sampled and
// logged but reserved for future combined-condition trip rules.
type SensorReader struct {
	control string
	aux     []string
}

// AuxReading is one auxiliary sample. Err is set when the source could not
// be read; auxiliary failures are not fatal.
type AuxReading struct {
	Path   string
	MilliC int
	Err    error
}

func newSensorReader(control string, aux []string) *SensorReader {
	return &SensorReader{control: control, aux: aux}
}

// Sample reads the control sensor. A failed read or a non-numeric value is
// an error: the caller treats it as fatal rather than acting on garbage.
func (r *SensorReader) Sample() (int, error) {
	v, err := readMilliC(r.control)
	if err != nil {
		return 0, fmt.Errorf("control sensor %s: %w", r.control, err)
	}
	return v, nil
}

// SampleAux reads every auxiliary sensor, best-effort.
func (r *SensorReader) SampleAux() []AuxReading {
	if len(r.aux) == 0 {
		return nil
	}
	readings := make([]AuxReading, 0, len(r.aux))
	for _, path := range r.aux {
		v, err := readMilliC(path)
		readings = append(readings, AuxReading{Path: path, MilliC: v, Err: err})
	}
	return readings
}

// readMilliC reads a sysfs-style integer file (millidegrees Celsius).
func readMilliC(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", strings.TrimSpace(string(data)), err)
	}
	return v, nil
}
