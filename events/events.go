// Package events provides composable channel middleware for filtering
// acquisition event streams. Consumers wrap the monitor's Events() channel
// with these functions to select the slice of the stream they care about.
package events

import (
	"context"

	"github.com/varietylab/varietyd"
)

// Filter returns a channel that only passes events of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Filter(ctx context.Context, ch <-chan varietyd.Event, types ...varietyd.EventType) <-chan varietyd.Event {
	allowed := make(map[varietyd.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(ev varietyd.Event) bool {
		_, ok := allowed[ev.Type]
		return ok
	})
}

// Failures returns a channel that passes only failure outcomes: failed
// attempts, parked capabilities, and process exits. Spawns a goroutine that
// exits when ctx is cancelled or ch is closed.
func Failures(ctx context.Context, ch <-chan varietyd.Event) <-chan varietyd.Event {
	return pipe(ctx, ch, func(ev varietyd.Event) bool {
		return IsFailure(ev.Type)
	})
}

// Registrations returns a channel that passes only EventRegistered.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
func Registrations(ctx context.Context, ch <-chan varietyd.Event) <-chan varietyd.Event {
	return pipe(ctx, ch, func(ev varietyd.Event) bool {
		return ev.Type == varietyd.EventRegistered
	})
}

// ForCapability returns a channel that passes only events concerning the
// named capability. Spawns a goroutine that exits when ctx is cancelled or
// ch is closed.
func ForCapability(ctx context.Context, ch <-chan varietyd.Event, capability string) <-chan varietyd.Event {
	return pipe(ctx, ch, func(ev varietyd.Event) bool {
		return ev.Capability == capability
	})
}

// IsFailure reports whether t describes something going wrong rather than
// progress.
func IsFailure(t varietyd.EventType) bool {
	switch t {
	case varietyd.EventAttemptFailed, varietyd.EventParked, varietyd.EventProcessExited:
		return true
	}
	return false
}

// pipe spawns a goroutine that reads from ch, passes events matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Events accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan varietyd.Event, accept func(varietyd.Event) bool) <-chan varietyd.Event {
	out := make(chan varietyd.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if accept(ev) && !trySend(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends ev on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- varietyd.Event, ev varietyd.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
