package main

import "fmt"

// This file implements the trip-point state machine:
//
//   - TripPoint / FanSetting / PStateSetting: the validated, immutable trip table
//   - ControlState: the single mutable struct owned by the control loop
//   - Actions: side effects requested by the evaluator (fan/pstate writes)
//   - Evaluate(): computes the next state + actions, without performing I/O
//
// Evaluate must be pure. It mutates only the ControlState passed in and never
// touches hardware. The control loop executes the returned Actions and is the
// only place where sysfs writes and external invocations happen.

// ==============================
// Trip table
// ==============================

// FanMode selects how a trip point drives the fan.
type FanMode int

const (
	FanUnset FanMode = iota // leave the fan alone at this trip point
	FanAuto                 // hand control back to the hardware
	FanMax                  // manual, full duty
	FanDuty                 // manual, explicit duty 0..255
)

// FanSetting is a fan directive attached to a trip point.
type FanSetting struct {
	Mode FanMode
	Duty int // meaningful only when Mode == FanDuty
}

func (s FanSetting) String() string {
	switch s.Mode {
	case FanAuto:
		return "auto"
	case FanMax:
		return "max"
	case FanDuty:
		return fmt.Sprintf("duty=%d", s.Duty)
	default:
		return "unset"
	}
}

// PStateMode selects how a trip point drives the frequency floor.
type PStateMode int

const (
	PStateUnset PStateMode = iota // leave the floor alone at this trip point
	PStateMax                     // highest available frequency step
	PStateIndex                   // explicit index into the PStateTable
)

// PStateSetting is a frequency-floor directive attached to a trip point.
type PStateSetting struct {
	Mode  PStateMode
	Index int // meaningful only when Mode == PStateIndex
}

func (s PStateSetting) String() string {
	switch s.Mode {
	case PStateMax:
		return "max"
	case PStateIndex:
		return fmt.Sprintf("index=%d", s.Index)
	default:
		return "unset"
	}
}

// TripPoint is one validated row of the trip table. Index is 1-based and
// dense; thresholds are non-decreasing by index. Immutable after validation.
type TripPoint struct {
	Index           int
	ThresholdMilliC int
	DebounceCycles  int
	Fan             FanSetting
	PState          PStateSetting
}

// ==============================
// Control state
// ==============================

// FanState is a raw snapshot of the fan control registers, used for
// original-state capture and restoration.
type FanState struct {
	Mode int // pwm_enable value as found
	Duty int // pwm value as found
}

// ControlState is the process-lifetime mutable state. It has exactly one
// mutator (the control loop); the shutdown path only reads it.
type ControlState struct {
	ActiveTrip        int // 0 = baseline, else 1..N
	DebounceTarget    int // 0 = idle, else the trip index being debounced toward
	DebounceRemaining int // cycles left before DebounceTarget commits

	// Captured once at startup, immutable thereafter.
	OriginalFan    FanState
	OriginalPState int // index into the PStateTable
}

// ==============================
// Actions (side effects)
// ==============================

// Action represents a hardware side effect requested by the evaluator and
// executed by the control loop.
type Action interface {
	actionMarker()
	String() string
}

// ActionSetFan requests a fan register write.
type ActionSetFan struct {
	Setting FanSetting
}

func (ActionSetFan) actionMarker()    {}
func (a ActionSetFan) String() string { return fmt.Sprintf("SetFan(%s)", a.Setting) }

// ActionSetPState requests a frequency-floor change.
type ActionSetPState struct {
	Setting PStateSetting
}

func (ActionSetPState) actionMarker()    {}
func (a ActionSetPState) String() string { return fmt.Sprintf("SetPState(%s)", a.Setting) }

// ActionRestore requests restoration of the original fan and frequency floor
// (the baseline transition).
type ActionRestore struct{}

func (ActionRestore) actionMarker()  {}
func (ActionRestore) String() string { return "Restore()" }

// ==============================
// Evaluator
// ==============================

// Evaluate runs one cycle of trip-point evaluation. Trip points are scanned
// from the highest index down; the first whose threshold the sample meets is
// the candidate. Transitions to a non-baseline trip point pass through that
// trip point's debounce counter; the drop below every threshold is committed
// immediately and cancels any pending debounce.
func Evaluate(s *ControlState, sampleMilliC int, trips []TripPoint) []Action {
	for i := len(trips); i >= 1; i-- {
		tp := trips[i-1]

		if sampleMilliC < tp.ThresholdMilliC {
			if i > 1 {
				// Sample doesn't reach this trip point; try a lower one.
				continue
			}

			// Below every threshold: baseline. Never debounced.
			s.DebounceTarget = 0
			s.DebounceRemaining = 0
			if s.ActiveTrip == 0 {
				return nil
			}
			s.ActiveTrip = 0
			return []Action{ActionRestore{}}
		}

		// Trip point i is the highest whose threshold is met.
		if s.ActiveTrip == i {
			// Holding. A pending countdown toward another trip point is
			// cancelled, not suspended: a countdown never resumes with
			// leftover cycles, so re-entering that band later restarts it
			// at full length.
			s.DebounceTarget = 0
			s.DebounceRemaining = 0
			return nil
		}

		if tp.DebounceCycles > 0 {
			if s.DebounceTarget != i {
				// New target: arm the counter at the target's full length.
				// Switching targets mid-countdown does not carry cycles over.
				s.DebounceTarget = i
				s.DebounceRemaining = tp.DebounceCycles
				return nil
			}
			s.DebounceRemaining--
			if s.DebounceRemaining > 0 {
				return nil
			}
		}

		// Commit.
		s.DebounceTarget = 0
		s.DebounceRemaining = 0
		s.ActiveTrip = i

		var actions []Action
		if tp.Fan.Mode != FanUnset {
			actions = append(actions, ActionSetFan{Setting: tp.Fan})
		}
		if tp.PState.Mode != PStateUnset {
			actions = append(actions, ActionSetPState{Setting: tp.PState})
		}
		return actions
	}

	// Empty trip table; validation rejects this before the loop starts.
	return nil
}
