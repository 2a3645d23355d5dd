package varietyd

import "errors"

// Sentinel errors shared across components.
var (
	// ErrNoCandidate indicates discovery produced no candidate for a
	// capability. Terminal for that acquisition attempt — there is no
	// fallback to a different capability or to simulated behavior.
	ErrNoCandidate = errors.New("varietyd: no candidate found")

	// ErrUnavailable indicates an executable cannot be started
	// (binary not found or not executable).
	ErrUnavailable = errors.New("varietyd: executable unavailable")

	// ErrUnknownCapability indicates no mapping exists for the requested
	// capability name.
	ErrUnknownCapability = errors.New("varietyd: unknown capability")

	// ErrProcessUnavailable indicates the mapped process is no longer
	// running. The stale mapping is removed; subsequent invocations
	// return ErrUnknownCapability.
	ErrProcessUnavailable = errors.New("varietyd: process unavailable")

	// ErrTerminated indicates the process was stopped or exited
	// (requested stop or crash).
	ErrTerminated = errors.New("varietyd: process terminated")
)
