// Package varietyd defines the shared vocabulary for gap-driven capability
// acquisition.
//
// varietyd closes the gap between a running control system and capabilities
// it does not currently possess: it detects that a required capability is
// missing, locates an external plugin package that supplies it, installs the
// package, launches it as a subprocess, speaks a JSON-RPC line protocol over
// the subprocess's stdio, and routes subsequent capability invocations to the
// running process.
//
// # Core Types
//
//   - [Gap] — a detected or injected capability shortfall
//   - [Candidate] — an externally discovered package believed to implement a capability
//   - [InstalledPackage] — the on-disk result of installing a candidate
//   - [Stage] — the per-capability acquisition state machine position
//   - [Event] — one entry on the acquisition event stream
//
// # Components
//
// The root package holds only vocabulary. The work happens in the
// subpackages:
//
//   - rpc — JSON-RPC protocol client (request correlation, handshake, tool calls)
//   - proc — subprocess supervisor (spawn, liveness, stop, exit attribution)
//   - discovery — candidate sources and deterministic matching
//   - install — isolated package installation
//   - router — capability → process/tool dispatch
//   - monitor — the acquisition control loop tying the above together
//   - events — composable filters over the monitor's event stream
//   - rpctest — in-process fake plugin for protocol-level tests
//
// A failed acquisition is always surfaced as a typed failure. No component
// substitutes a locally simulated answer for a missing capability; capability
// availability is always truthful.
package varietyd
