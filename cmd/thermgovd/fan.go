package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FanControl drives a hwmon PWM fan through its sysfs registers.
//
// Ordering constraint: the control-mode register (pwm*_enable) must be
// switched to manual before the duty-cycle register (pwm*) is written, or
// the duty write has no effect. Apply and Restore preserve that order.
type FanControl struct {
	modePath string // pwm*_enable
	dutyPath string // pwm*
	tachPath string // fan*_input, read-only, display only

	// writeInt performs the register write; swappable so tests can observe
	// write ordering.
	writeInt func(path string, v int) error
}

func newFanControl(modePath, dutyPath, tachPath string) *FanControl {
	return &FanControl{
		modePath: modePath,
		dutyPath: dutyPath,
		tachPath: tachPath,
		writeInt: writeSysfsInt,
	}
}

// State reads both control registers for original-state capture.
func (f *FanControl) State() (FanState, error) {
	mode, err := readSysfsInt(f.modePath)
	if err != nil {
		return FanState{}, fmt.Errorf("read fan mode %s: %w", f.modePath, err)
	}
	duty, err := readSysfsInt(f.dutyPath)
	if err != nil {
		return FanState{}, fmt.Errorf("read fan duty %s: %w", f.dutyPath, err)
	}
	return FanState{Mode: mode, Duty: duty}, nil
}

// Apply writes a fan setting to the hardware. No retries: a failed write is
// reported to the caller, which treats it as fatal.
func (f *FanControl) Apply(s FanSetting) error {
	switch s.Mode {
	case FanAuto:
		return f.writeMode(fanModeAuto)
	case FanMax:
		return f.applyManualDuty(fanDutyMax)
	case FanDuty:
		return f.applyManualDuty(s.Duty)
	default:
		return nil
	}
}

// Restore puts the registers back to a captured snapshot. The duty register
// is only rewritten when the captured mode was manual: in auto or disengaged
// mode the hardware owns the duty value.
func (f *FanControl) Restore(st FanState) error {
	if err := f.writeMode(st.Mode); err != nil {
		return err
	}
	if st.Mode != fanModeManual {
		return nil
	}
	return f.writeDuty(st.Duty)
}

// Tach reads the tachometer. Not used for control decisions.
func (f *FanControl) Tach() (int, error) {
	if f.tachPath == "" {
		return 0, fmt.Errorf("no tachometer configured")
	}
	return readSysfsInt(f.tachPath)
}

// applyManualDuty writes mode first, then duty.
func (f *FanControl) applyManualDuty(duty int) error {
	if err := f.writeMode(fanModeManual); err != nil {
		return err
	}
	return f.writeDuty(duty)
}

func (f *FanControl) writeMode(mode int) error {
	if err := f.writeInt(f.modePath, mode); err != nil {
		return fmt.Errorf("write fan mode %s: %w", f.modePath, err)
	}
	return nil
}

func (f *FanControl) writeDuty(duty int) error {
	if err := f.writeInt(f.dutyPath, duty); err != nil {
		return fmt.Errorf("write fan duty %s: %w", f.dutyPath, err)
	}
	return nil
}

func readSysfsInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func writeSysfsInt(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0644)
}
