package proc

import "time"

// Status is a process lifecycle state.
type Status string

const (
	// StatusStarting is set at spawn, before the protocol handshake
	// confirms the plugin is serving.
	StatusStarting Status = "starting"

	// StatusRunning is set once the handshake succeeds. Raw output is not
	// a liveness signal — a silent process is still starting/running.
	StatusRunning Status = "running"

	// StatusCrashed is set when the process exits without being asked to
	// stop (non-zero exit, signal, or unexpected clean exit).
	StatusCrashed Status = "crashed"

	// StatusStopped is set when a requested stop completes.
	StatusStopped Status = "stopped"
)

// Alive reports whether the process is expected to be serving.
func (s Status) Alive() bool {
	return s == StatusStarting || s == StatusRunning
}

// Spec describes a subprocess to spawn.
type Spec struct {
	// Path is the executable path or name (resolved via PATH).
	Path string

	// Args are the arguments passed to the executable.
	Args []string

	// Dir is the working directory. Empty inherits the supervisor's.
	Dir string

	// PackageName attributes the process to the package it was installed
	// from, for diagnostics and status listings.
	PackageName string
}

// HandleInfo is a point-in-time snapshot of a supervised process. All fields
// are copies; mutating a snapshot has no effect on the supervisor.
type HandleInfo struct {
	ID          string    `json:"id"`
	PackageName string    `json:"package_name"`
	PID         int       `json:"pid"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	ExitedAt    time.Time `json:"exited_at,omitzero"`
	ExitCode    int       `json:"exit_code,omitempty"`

	// StderrTail is the most recent captured stderr lines, oldest first.
	StderrTail []string `json:"stderr_tail,omitempty"`
}

// ExitEvent is delivered to exit subscribers when a process leaves the
// running set.
type ExitEvent struct {
	ID          string
	PackageName string
	Status      Status // crashed or stopped
	ExitCode    int
	ExitedAt    time.Time
}
