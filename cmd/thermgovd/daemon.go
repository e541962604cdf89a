package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ============================================================================
// Control loop
// ============================================================================
//
// Single logical thread of control: sleep, sample, evaluate, act. The
// evaluator (governor.go) performs no I/O; this loop is the only place that
// touches hardware. Asynchronous signal delivery cancels the loop context;
// every exit path funnels through the once-guarded restore.
//
// Running two instances of thermgovd against one host's hardware is
// undefined behavior. This is a documented assumption, not defended against.
//
// ============================================================================

// Narrow actuator/sensor contracts so the loop can be exercised with test
// doubles. The concrete implementations live in sensors.go, fan.go and
// pstate.go.
type tempSampler interface {
	Sample() (int, error)
	SampleAux() []AuxReading
}

type fanActuator interface {
	State() (FanState, error)
	Apply(FanSetting) error
	Restore(FanState) error
}

type freqActuator interface {
	SetFloor(PStateSetting, PStateTable) error
	Current(PStateTable) (int, error)
}

// governor ties the trip table, sensors and actuators to one ControlState.
type governor struct {
	trips    []TripPoint
	table    PStateTable
	interval time.Duration

	sensor tempSampler
	fan    fanActuator
	freq   freqActuator

	state  ControlState
	logger *slog.Logger

	restoreOnce sync.Once
	restoreErr  error
}

func newGovernor(trips []TripPoint, table PStateTable, interval time.Duration,
	sensor tempSampler, fan fanActuator, freq freqActuator, logger *slog.Logger) *governor {
	return &governor{
		trips:    trips,
		table:    table,
		interval: interval,
		sensor:   sensor,
		fan:      fan,
		freq:     freq,
		logger:   logger,
	}
}

// captureOriginal snapshots the actuator state before the first evaluation.
// The snapshot is what restore puts back on every exit path.
func (g *governor) captureOriginal() error {
	fanState, err := g.fan.State()
	if err != nil {
		return fmt.Errorf("capture fan state: %w", err)
	}
	pstate, err := g.freq.Current(g.table)
	if err != nil {
		return fmt.Errorf("capture pstate: %w", err)
	}
	g.state.OriginalFan = fanState
	g.state.OriginalPState = pstate
	g.logger.Info("captured original actuator state",
		"fan_mode", fanState.Mode, "fan_duty", fanState.Duty,
		"pstate", pstate, "pstate_khz", g.table[pstate])
	return nil
}

// run executes the control loop until the context is cancelled (clean exit)
// or a sensor/actuator failure occurs (fatal). The caller is responsible for
// invoking restore afterwards.
func (g *governor) run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("control loop stopping")
			return nil
		case <-ticker.C:
			if err := g.runCycle(); err != nil {
				return err
			}
		}
	}
}

// runCycle performs one sample/evaluate/act iteration.
func (g *governor) runCycle() error {
	sample, err := g.sensor.Sample()
	if err != nil {
		// No stale-value fallback: acting on garbage risks misapplied
		// cooling, so a failed read takes the whole process down.
		return err
	}

	for _, aux := range g.sensor.SampleAux() {
		if aux.Err != nil {
			g.logger.Warn("auxiliary sensor read failed", "path", aux.Path, "error", aux.Err)
			continue
		}
		g.logger.Debug("auxiliary sample", "path", aux.Path, "millic", aux.MilliC)
	}

	before := g.state
	actions := Evaluate(&g.state, sample, g.trips)
	g.logTransitions(before, sample)

	for _, act := range actions {
		if err := g.execute(act); err != nil {
			return err
		}
	}
	return nil
}

// execute applies a single evaluator action to the hardware. A failed write
// is fatal: the daemon cannot guarantee actuator state otherwise.
func (g *governor) execute(act Action) error {
	g.logger.Debug("executing action", "action", act.String())

	switch a := act.(type) {
	case ActionSetFan:
		return g.fan.Apply(a.Setting)
	case ActionSetPState:
		return g.freq.SetFloor(a.Setting, g.table)
	case ActionRestore:
		return g.writeOriginal()
	default:
		return fmt.Errorf("unknown action %s", act.String())
	}
}

// writeOriginal puts the hardware back to the startup snapshot. Shared by
// the baseline transition and the shutdown path so there is exactly one
// restoration code path.
func (g *governor) writeOriginal() error {
	if err := g.fan.Restore(g.state.OriginalFan); err != nil {
		return err
	}
	return g.freq.SetFloor(PStateSetting{Mode: PStateIndex, Index: g.state.OriginalPState}, g.table)
}

// restore runs the shutdown restoration exactly once. Termination signals
// are masked on entry so a second signal cannot interrupt it. Restoration
// writes are only needed when a trip point is still active; at baseline the
// hardware already holds its original state.
func (g *governor) restore() error {
	g.restoreOnce.Do(func() {
		signal.Ignore(syscall.SIGINT, syscall.SIGTERM)

		if g.state.ActiveTrip == 0 {
			g.logger.Info("no trip point active, nothing to restore")
			return
		}
		g.logger.Info("restoring original actuator state", "active_trip", g.state.ActiveTrip)
		if err := g.writeOriginal(); err != nil {
			g.restoreErr = err
			g.logger.Error("restore failed", "error", err)
		}
	})
	return g.restoreErr
}

// logTransitions reports state-machine movement by diffing the state around
// one Evaluate call. Kept out of Evaluate so the evaluator stays pure.
func (g *governor) logTransitions(before ControlState, sample int) {
	after := g.state

	switch {
	case after.ActiveTrip != before.ActiveTrip && after.ActiveTrip == 0:
		g.logger.Info("dropped to baseline, restoring original state",
			"sample_millic", sample, "previous_trip", before.ActiveTrip)
	case after.ActiveTrip != before.ActiveTrip:
		g.logger.Info("trip point engaged",
			"trip", after.ActiveTrip, "sample_millic", sample,
			"threshold_millic", g.trips[after.ActiveTrip-1].ThresholdMilliC)
	}

	switch {
	case before.DebounceTarget == 0 && after.DebounceTarget != 0:
		g.logger.Info("debounce started",
			"target_trip", after.DebounceTarget, "cycles", after.DebounceRemaining, "sample_millic", sample)
	case before.DebounceTarget != 0 && after.DebounceTarget != 0 && after.DebounceTarget != before.DebounceTarget:
		g.logger.Info("debounce retargeted",
			"target_trip", after.DebounceTarget, "cycles", after.DebounceRemaining,
			"previous_target", before.DebounceTarget)
	case before.DebounceTarget != 0 && after.DebounceTarget == 0 && after.ActiveTrip != before.DebounceTarget:
		// A completed countdown ends with ActiveTrip == the old target;
		// anything else means the pending transition was abandoned.
		g.logger.Info("debounce cancelled",
			"target_trip", before.DebounceTarget, "sample_millic", sample)
	case after.DebounceTarget != 0 && after.DebounceTarget == before.DebounceTarget:
		g.logger.Debug("debounce countdown",
			"target_trip", after.DebounceTarget, "remaining", after.DebounceRemaining)
	}
}
