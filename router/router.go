// Package router maps capability names to the live process that serves
// them and forwards invocations over the process's RPC client.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/varietylab/varietyd"
	"github.com/varietylab/varietyd/rpc"
)

// ToolCaller is the slice of the RPC client the router needs.
// *rpc.Client satisfies it.
type ToolCaller interface {
	CallTool(ctx context.Context, tool string, args any, timeout time.Duration) (json.RawMessage, error)
}

// Route records where one capability is served.
type Route struct {
	Capability string
	ProcessID  string
	Tool       string
}

// Router is safe for concurrent use.
type Router struct {
	mu      sync.RWMutex
	routes  map[string]Route      // capability → route
	callers map[string]ToolCaller // process id → client
	log     *slog.Logger
}

// New creates an empty router.
func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		routes:  make(map[string]Route),
		callers: make(map[string]ToolCaller),
		log:     log,
	}
}

// AttachClient makes a process's client available for routing. Must be
// called before Register for that process.
func (r *Router) AttachClient(processID string, c ToolCaller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[processID] = c
}

// Register binds a capability to a tool on a process. A capability is
// registered only after its server's handshake succeeded, so a registered
// route always pointed at a live process at registration time. Re-registering
// a capability replaces the old route.
func (r *Router) Register(capability, processID, tool string) error {
	if err := varietyd.ValidateCapability(capability); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callers[processID]; !ok {
		return fmt.Errorf("varietyd: router: no client attached for process %s", processID)
	}
	if old, ok := r.routes[capability]; ok && old.ProcessID != processID {
		r.log.Info("capability rebound",
			"capability", capability, "from", old.ProcessID, "to", processID)
	}
	r.routes[capability] = Route{Capability: capability, ProcessID: processID, Tool: tool}
	return nil
}

// Resolve returns the route for a capability.
func (r *Router) Resolve(capability string) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[capability]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", varietyd.ErrUnknownCapability, capability)
	}
	return route, nil
}

// Invoke forwards an invocation to the process serving the capability.
//
// A closed connection invalidates every route to that process before the
// error returns, so the next Invoke for the capability reports it as a gap
// instead of dialing a dead pipe again.
func (r *Router) Invoke(ctx context.Context, capability string, args any) (json.RawMessage, error) {
	r.mu.RLock()
	route, ok := r.routes[capability]
	caller := r.callers[route.ProcessID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", varietyd.ErrUnknownCapability, capability)
	}
	if caller == nil {
		return nil, fmt.Errorf("%w: capability %s on process %s",
			varietyd.ErrProcessUnavailable, capability, route.ProcessID)
	}

	result, err := caller.CallTool(ctx, route.Tool, args, 0)
	if err != nil {
		if errors.Is(err, rpc.ErrConnClosed) {
			r.InvalidateProcess(route.ProcessID)
			return nil, fmt.Errorf("%w: capability %s on process %s: %v",
				varietyd.ErrProcessUnavailable, capability, route.ProcessID, err)
		}
		return nil, err
	}
	return result, nil
}

// InvalidateProcess drops the process's client and every route pointing at
// it. Called when the process exits or its connection closes.
func (r *Router) InvalidateProcess(processID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.callers, processID)
	var dropped []string
	for capability, route := range r.routes {
		if route.ProcessID == processID {
			delete(r.routes, capability)
			dropped = append(dropped, capability)
		}
	}
	sort.Strings(dropped)
	if len(dropped) > 0 {
		r.log.Warn("routes invalidated", "process", processID, "capabilities", dropped)
	}
	return dropped
}

// Capabilities lists registered capabilities, sorted.
func (r *Router) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for capability := range r.routes {
		out = append(out, capability)
	}
	sort.Strings(out)
	return out
}

// Routes returns a snapshot of all routes, sorted by capability.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}
