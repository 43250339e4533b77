package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a run status change would break
// the run state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// validTransitions maps from-status to allowed to-statuses
var validTransitions = map[RunStatus]map[RunStatus]bool{
	RunStatusReady: {
		RunStatusRunning: true, // Ready → Running (container starts)
		RunStatusAborted: true, // Ready → Aborted (aborted before start)
	},
	RunStatusRunning: {
		RunStatusSucceeded: true, // Running → Succeeded (exit code 0)
		RunStatusFailed:    true, // Running → Failed (non-zero exit code)
		RunStatusAborting:  true, // Running → Aborting (abort requested)
		RunStatusTimingOut: true, // Running → TimingOut (timeout reached)
		RunStatusReady:     true, // Running → Ready (reboot, container replaced)
	},
	RunStatusAborting: {
		RunStatusAborted: true, // Aborting → Aborted (wind-down complete)
		RunStatusFailed:  true, // Aborting → Failed (crashed while winding down)
	},
	RunStatusTimingOut: {
		RunStatusTimedOut: true, // TimingOut → TimedOut (killed)
		RunStatusFailed:   true, // TimingOut → Failed (crashed while winding down)
	},
	// Terminal statuses (no transitions allowed)
	RunStatusSucceeded: {},
	RunStatusFailed:    {},
	RunStatusAborted:   {},
	RunStatusTimedOut:  {},
}

// ValidateTransition checks if a run status transition is valid
func ValidateTransition(from, to RunStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown source status %s", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminalStatus returns true if the status is terminal (no further transitions)
func IsTerminalStatus(status RunStatus) bool {
	return status == RunStatusSucceeded || status == RunStatusFailed ||
		status == RunStatusAborted || status == RunStatusTimedOut
}

// IsActiveStatus returns true if the run is still executing or winding down
func IsActiveStatus(status RunStatus) bool {
	return status == RunStatusRunning || status == RunStatusAborting ||
		status == RunStatusTimingOut
}
