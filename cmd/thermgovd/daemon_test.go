package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

// mockSensor replays a fixed sample sequence (last value repeats).
type mockSensor struct {
	samples []int
	next    int
	err     error
	aux     []AuxReading
}

func (m *mockSensor) Sample() (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	i := m.next
	if i >= len(m.samples) {
		i = len(m.samples) - 1
	}
	m.next++
	return m.samples[i], nil
}

func (m *mockSensor) SampleAux() []AuxReading { return m.aux }

// mockFan records every register write.
type mockFan struct {
	state    FanState
	applies  []FanSetting
	restores []FanState
	applyErr error
}

func (m *mockFan) State() (FanState, error) { return m.state, nil }

func (m *mockFan) Apply(s FanSetting) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applies = append(m.applies, s)
	return nil
}

func (m *mockFan) Restore(st FanState) error {
	m.restores = append(m.restores, st)
	return nil
}

// mockFreq records floor-setting invocations.
type mockFreq struct {
	current int
	floors  []PStateSetting
	setErr  error
}

func (m *mockFreq) SetFloor(s PStateSetting, table PStateTable) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.floors = append(m.floors, s)
	return nil
}

func (m *mockFreq) Current(table PStateTable) (int, error) { return m.current, nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTable() PStateTable { return PStateTable{800000, 1800000, 2400000} }

func newTestGovernor(sensor *mockSensor, fan *mockFan, freq *mockFreq) *governor {
	return newGovernor(testTrips(), testTable(), time.Millisecond, sensor, fan, freq, testLogger())
}

func TestGovernor_CaptureOriginal(t *testing.T) {
	fan := &mockFan{state: FanState{Mode: fanModeAuto, Duty: 90}}
	freq := &mockFreq{current: 2}
	g := newTestGovernor(&mockSensor{samples: []int{40000}}, fan, freq)

	if err := g.captureOriginal(); err != nil {
		t.Fatalf("captureOriginal failed: %v", err)
	}
	if g.state.OriginalFan != (FanState{Mode: fanModeAuto, Duty: 90}) {
		t.Errorf("unexpected original fan state: %+v", g.state.OriginalFan)
	}
	if g.state.OriginalPState != 2 {
		t.Errorf("expected original pstate 2, got %d", g.state.OriginalPState)
	}
}

func TestGovernor_CycleAppliesCommittedSettings(t *testing.T) {
	sensor := &mockSensor{samples: []int{70000}}
	fan := &mockFan{}
	freq := &mockFreq{}
	g := newTestGovernor(sensor, fan, freq)

	if err := g.runCycle(); err != nil {
		t.Fatalf("runCycle failed: %v", err)
	}
	if g.state.ActiveTrip != 2 {
		t.Fatalf("expected active trip 2, got %d", g.state.ActiveTrip)
	}
	if len(fan.applies) != 1 || fan.applies[0].Mode != FanMax {
		t.Errorf("expected one fan max write, got %v", fan.applies)
	}
	if len(freq.floors) != 1 || freq.floors[0] != (PStateSetting{Mode: PStateIndex, Index: 1}) {
		t.Errorf("expected one pstate floor write, got %v", freq.floors)
	}
}

func TestGovernor_BaselineTransitionRestoresOriginals(t *testing.T) {
	sensor := &mockSensor{samples: []int{70000, 40000}}
	fan := &mockFan{state: FanState{Mode: fanModeAuto, Duty: 80}}
	freq := &mockFreq{current: 2}
	g := newTestGovernor(sensor, fan, freq)

	if err := g.captureOriginal(); err != nil {
		t.Fatalf("captureOriginal failed: %v", err)
	}
	if err := g.runCycle(); err != nil {
		t.Fatalf("hot cycle failed: %v", err)
	}
	if err := g.runCycle(); err != nil {
		t.Fatalf("cool cycle failed: %v", err)
	}

	if g.state.ActiveTrip != 0 {
		t.Fatalf("expected baseline after cool cycle, got active trip %d", g.state.ActiveTrip)
	}
	if len(fan.restores) != 1 || fan.restores[0] != (FanState{Mode: fanModeAuto, Duty: 80}) {
		t.Errorf("expected one fan restore with original state, got %v", fan.restores)
	}
	// The restore path re-issues the original floor.
	last := freq.floors[len(freq.floors)-1]
	if last != (PStateSetting{Mode: PStateIndex, Index: 2}) {
		t.Errorf("expected original pstate floor restored, got %v", last)
	}

	// At baseline, shutdown restoration has nothing left to do.
	if err := g.restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if len(fan.restores) != 1 {
		t.Errorf("expected no further restore writes at baseline, got %d", len(fan.restores))
	}
}

// TestGovernor_ScenarioC: shutdown while a trip point is active restores the
// original fan and pstate exactly once, even if restore is invoked twice.
func TestGovernor_ScenarioC_RestoreExactlyOnce(t *testing.T) {
	sensor := &mockSensor{samples: []int{80000, 80000, 80000, 80000}}
	fan := &mockFan{state: FanState{Mode: fanModeAuto, Duty: 70}}
	freq := &mockFreq{current: 2}
	g := newTestGovernor(sensor, fan, freq)

	if err := g.captureOriginal(); err != nil {
		t.Fatalf("captureOriginal failed: %v", err)
	}
	// Trip 3 has debounce 3: arm plus three countdown cycles.
	for i := 0; i < 4; i++ {
		if err := g.runCycle(); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}
	if g.state.ActiveTrip != 3 {
		t.Fatalf("expected active trip 3 before shutdown, got %d", g.state.ActiveTrip)
	}

	if err := g.restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if err := g.restore(); err != nil {
		t.Fatalf("second restore failed: %v", err)
	}

	if len(fan.restores) != 1 {
		t.Fatalf("expected exactly one fan restore, got %d", len(fan.restores))
	}
	if fan.restores[0] != (FanState{Mode: fanModeAuto, Duty: 70}) {
		t.Errorf("expected original fan state restored, got %+v", fan.restores[0])
	}
	last := freq.floors[len(freq.floors)-1]
	if last != (PStateSetting{Mode: PStateIndex, Index: 2}) {
		t.Errorf("expected original pstate floor restored, got %v", last)
	}
}

// TestGovernor_ScenarioD: shutdown without ever leaving baseline performs no
// restoration writes at all.
func TestGovernor_ScenarioD_NoRestoreAtBaseline(t *testing.T) {
	sensor := &mockSensor{samples: []int{40000, 41000, 42000}}
	fan := &mockFan{state: FanState{Mode: fanModeAuto, Duty: 60}}
	freq := &mockFreq{current: 2}
	g := newTestGovernor(sensor, fan, freq)

	if err := g.captureOriginal(); err != nil {
		t.Fatalf("captureOriginal failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := g.runCycle(); err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
	}

	if err := g.restore(); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if len(fan.restores) != 0 {
		t.Errorf("expected no fan restore writes, got %d", len(fan.restores))
	}
	if len(freq.floors) != 0 {
		t.Errorf("expected no pstate writes, got %d", len(freq.floors))
	}
}

func TestGovernor_SensorFailureIsFatal(t *testing.T) {
	sensorErr := errors.New("read /sys/class/hwmon/hwmon0/temp1_input: input/output error")
	sensor := &mockSensor{err: sensorErr}
	g := newTestGovernor(sensor, &mockFan{}, &mockFreq{})

	err := g.runCycle()
	if !errors.Is(err, sensorErr) {
		t.Fatalf("expected sensor error to propagate, got %v", err)
	}
}

func TestGovernor_ActuatorFailureIsFatal(t *testing.T) {
	fanErr := errors.New("write pwm1: device or resource busy")
	sensor := &mockSensor{samples: []int{70000}}
	g := newTestGovernor(sensor, &mockFan{applyErr: fanErr}, &mockFreq{})

	err := g.runCycle()
	if !errors.Is(err, fanErr) {
		t.Fatalf("expected fan write error to propagate, got %v", err)
	}
}

func TestGovernor_RunStopsOnCancel(t *testing.T) {
	sensor := &mockSensor{samples: []int{40000}}
	g := newTestGovernor(sensor, &mockFan{}, &mockFreq{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not stop after context cancellation")
	}
}

func TestGovernor_RunReturnsSensorError(t *testing.T) {
	sensorErr := errors.New("sensor gone")
	sensor := &mockSensor{err: sensorErr}
	g := newTestGovernor(sensor, &mockFan{}, &mockFreq{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := g.run(ctx)
	if !errors.Is(err, sensorErr) {
		t.Fatalf("expected sensor error from run, got %v", err)
	}
}

func TestGovernor_AuxFailuresAreNotFatal(t *testing.T) {
	sensor := &mockSensor{
		samples: []int{40000},
		aux: []AuxReading{
			{Path: "/sys/class/hwmon/hwmon0/temp2_input", MilliC: 38000},
			{Path: "/sys/class/hwmon/hwmon0/temp3_input", Err: errors.New("no such file")},
		},
	}
	g := newTestGovernor(sensor, &mockFan{}, &mockFreq{})

	if err := g.runCycle(); err != nil {
		t.Fatalf("expected aux failure to be ignored, got %v", err)
	}
}
