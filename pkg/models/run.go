package models

import (
	"time"
)

// RunStatus represents the status of an actor run
type RunStatus string

const (
	RunStatusReady     RunStatus = "READY"      // Run created, not yet started
	RunStatusRunning   RunStatus = "RUNNING"    // Run actively executing
	RunStatusSucceeded RunStatus = "SUCCEEDED"  // Run finished with exit code 0
	RunStatusFailed    RunStatus = "FAILED"     // Run finished with non-zero exit code
	RunStatusAborting  RunStatus = "ABORTING"   // Abort requested, run still winding down
	RunStatusAborted   RunStatus = "ABORTED"    // Run aborted externally
	RunStatusTimingOut RunStatus = "TIMING-OUT" // Timeout reached, run still winding down
	RunStatusTimedOut  RunStatus = "TIMED-OUT"  // Run killed after timeout
)

// Exit code conventions shared by the SDK and the platform
const (
	ExitCodeSuccess = 0
	ExitCodeFailure = 1
	// ExitCodeReboot signals that the run asked to be migrated to a
	// fresh container and should be restarted, not finished.
	ExitCodeReboot = 91
)

// Run represents one execution of an actor tracked by the platform
type Run struct {
	ID                      string             `json:"id"`
	ActorID                 string             `json:"actor_id"`
	Status                  RunStatus          `json:"status"`
	StatusMessage           string             `json:"status_message,omitempty"`
	IsStatusMessageTerminal bool               `json:"is_status_message_terminal,omitempty"`
	ExitCode                *int               `json:"exit_code,omitempty"`
	Origin                  string             `json:"origin,omitempty"` // "API", "WEB", "CLI", "SCHEDULER"
	StartedAt               time.Time          `json:"started_at"`
	FinishedAt              *time.Time         `json:"finished_at,omitempty"`
	RebootCount             int                `json:"reboot_count"`
	DefaultKeyValueStoreID  string             `json:"default_key_value_store_id,omitempty"`
	DefaultDatasetID        string             `json:"default_dataset_id,omitempty"`
	ContainerURL            string             `json:"container_url,omitempty"`
	StateTransitions        []StatusTransition `json:"state_transitions,omitempty"`
}

// RunRequest represents a request to start a new actor run
type RunRequest struct {
	ActorID string                 `json:"actor_id"`
	Input   map[string]interface{} `json:"input,omitempty"`
	Origin  string                 `json:"origin,omitempty"`
}

// StatusMessageUpdate is the payload for updating a run status message
type StatusMessageUpdate struct {
	Message    string `json:"message"`
	IsTerminal bool   `json:"is_terminal,omitempty"`
}

// RunFinish is the payload reported by the SDK when a run ends
type RunFinish struct {
	ExitCode      int       `json:"exit_code"`
	StatusMessage string    `json:"status_message,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// StatusTransition tracks run status changes with timestamps
type StatusTransition struct {
	From      RunStatus `json:"from"`
	To        RunStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// StatusForExitCode maps an exit code to the terminal run status
func StatusForExitCode(code int) RunStatus {
	if code == ExitCodeSuccess {
		return RunStatusSucceeded
	}
	return RunStatusFailed
}

// IsFinished returns true once the run has a finish timestamp
func (r *Run) IsFinished() bool {
	return r.FinishedAt != nil
}
