package models

import (
	"time"
)

// EventType identifies a platform event delivered to a running actor
type EventType string

const (
	// EventPersistState is emitted periodically so the actor can checkpoint
	// its progress, and once more when a migration is imminent.
	EventPersistState EventType = "persistState"
	// EventSystemInfo carries a resource usage snapshot of the container.
	EventSystemInfo EventType = "systemInfo"
	// EventMigrating warns that the run is about to be moved to another host.
	EventMigrating EventType = "migrating"
	// EventAborting warns that a graceful abort was requested externally.
	EventAborting EventType = "aborting"
	// EventExit is emitted once, right before the actor finishes.
	EventExit EventType = "exit"
)

// Event is a single event delivered to actor event handlers
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// PersistState is the payload of EventPersistState
type PersistState struct {
	IsMigrating bool `json:"is_migrating"`
}

// SystemInfo is the payload of EventSystemInfo
type SystemInfo struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemUsedBytes  uint64    `json:"mem_used_bytes"`
	MemTotalBytes uint64    `json:"mem_total_bytes"`
	NumGoroutines int       `json:"num_goroutines"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExitInfo is the payload of EventExit
type ExitInfo struct {
	ExitCode int `json:"exit_code"`
}
