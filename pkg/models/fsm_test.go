package models

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    RunStatus
		to      RunStatus
		wantErr bool
	}{
		{"ready to running", RunStatusReady, RunStatusRunning, false},
		{"ready to aborted", RunStatusReady, RunStatusAborted, false},
		{"ready to succeeded", RunStatusReady, RunStatusSucceeded, true},
		{"running to succeeded", RunStatusRunning, RunStatusSucceeded, false},
		{"running to failed", RunStatusRunning, RunStatusFailed, false},
		{"running to aborting", RunStatusRunning, RunStatusAborting, false},
		{"running to timing out", RunStatusRunning, RunStatusTimingOut, false},
		{"running to ready (reboot)", RunStatusRunning, RunStatusReady, false},
		{"running to aborted directly", RunStatusRunning, RunStatusAborted, true},
		{"aborting to aborted", RunStatusAborting, RunStatusAborted, false},
		{"aborting to failed", RunStatusAborting, RunStatusFailed, false},
		{"aborting to running", RunStatusAborting, RunStatusRunning, true},
		{"timing out to timed out", RunStatusTimingOut, RunStatusTimedOut, false},
		{"succeeded is terminal", RunStatusSucceeded, RunStatusRunning, true},
		{"failed is terminal", RunStatusFailed, RunStatusReady, true},
		{"aborted is terminal", RunStatusAborted, RunStatusRunning, true},
		{"timed out is terminal", RunStatusTimedOut, RunStatusRunning, true},
		{"unknown source", RunStatus("BOGUS"), RunStatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error for %s -> %s, got nil", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error for %s -> %s: %v", tt.from, tt.to, err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := []RunStatus{RunStatusSucceeded, RunStatusFailed, RunStatusAborted, RunStatusTimedOut}
	for _, s := range terminal {
		if !IsTerminalStatus(s) {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	active := []RunStatus{RunStatusReady, RunStatusRunning, RunStatusAborting, RunStatusTimingOut}
	for _, s := range active {
		if IsTerminalStatus(s) {
			t.Errorf("Expected %s not to be terminal", s)
		}
	}
}

func TestIsActiveStatus(t *testing.T) {
	if !IsActiveStatus(RunStatusRunning) {
		t.Error("Expected RUNNING to be active")
	}
	if !IsActiveStatus(RunStatusAborting) {
		t.Error("Expected ABORTING to be active")
	}
	if IsActiveStatus(RunStatusReady) {
		t.Error("Expected READY not to be active")
	}
	if IsActiveStatus(RunStatusSucceeded) {
		t.Error("Expected SUCCEEDED not to be active")
	}
}

func TestStatusForExitCode(t *testing.T) {
	if got := StatusForExitCode(ExitCodeSuccess); got != RunStatusSucceeded {
		t.Errorf("Expected SUCCEEDED for exit code 0, got %s", got)
	}
	if got := StatusForExitCode(ExitCodeFailure); got != RunStatusFailed {
		t.Errorf("Expected FAILED for exit code 1, got %s", got)
	}
	if got := StatusForExitCode(42); got != RunStatusFailed {
		t.Errorf("Expected FAILED for exit code 42, got %s", got)
	}
}
