package varietyd

import "time"

// EventType classifies a lifecycle event on the acquisition stream.
type EventType string

const (
	// EventGapDetected fires when a capability is first reported missing.
	EventGapDetected EventType = "gap_detected"

	// EventAttemptFailed fires after a failed acquisition attempt that
	// will be retried.
	EventAttemptFailed EventType = "attempt_failed"

	// EventParked fires when a capability exhausts its attempt budget.
	EventParked EventType = "parked"

	// EventRegistered fires when a capability becomes invocable.
	EventRegistered EventType = "registered"

	// EventProcessExited fires when a plugin process leaves the running
	// set, reopening the capabilities it served.
	EventProcessExited EventType = "process_exited"
)

// Event is one entry on the acquisition event stream. Events are
// point-in-time copies; consumers never observe later mutations.
type Event struct {
	Type        EventType `json:"type"`
	Capability  string    `json:"capability,omitempty"`
	PackageName string    `json:"package_name,omitempty"`
	ProcessID   string    `json:"process_id,omitempty"`
	Stage       Stage     `json:"stage,omitempty"`
	Err         string    `json:"err,omitempty"`
	Time        time.Time `json:"time"`
}
