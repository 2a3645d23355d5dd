// Package monitor drives the acquisition loop: it accepts capability gaps,
// walks each missing capability through
// discover → install → spawn → handshake → register, and retries failures
// with bounded exponential backoff.
//
// A capability that cannot be acquired stays failed and every invocation of
// it keeps failing loudly. There is no simulated fallback at any stage.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/varietylab/varietyd"
	"github.com/varietylab/varietyd/discovery"
	"github.com/varietylab/varietyd/proc"
	"github.com/varietylab/varietyd/router"
	"github.com/varietylab/varietyd/rpc"
)

// Discoverer merges candidates for a capability. *discovery.Engine
// satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, capability string) []varietyd.Candidate
}

// Installer fetches a package and resolves its run command.
// *install.Installer satisfies it.
type Installer interface {
	Install(ctx context.Context, pkg, version string) (varietyd.InstalledPackage, error)
}

// Spawner is the slice of the process supervisor the monitor drives.
// *proc.Supervisor satisfies it.
type Spawner interface {
	Spawn(spec proc.Spec) (proc.HandleInfo, error)
	Transport(id string) (io.Reader, io.Writer, error)
	SetRunning(id string) error
	Stop(ctx context.Context, id string) error
	List() []proc.HandleInfo
}

// Registrar binds capabilities to live processes. *router.Router
// satisfies it.
type Registrar interface {
	AttachClient(processID string, c router.ToolCaller)
	Register(capability, processID, tool string) error
	InvalidateProcess(processID string) []string
}

// Dialer opens an RPC client over a transport. Swappable in tests; the
// default wraps rpc.Dial and Initialize.
type Dialer func(ctx context.Context, r io.Reader, w io.Writer) (RPCSession, error)

// RPCSession is the post-handshake surface of an rpc.Client the monitor
// uses.
type RPCSession interface {
	ListTools(ctx context.Context) ([]rpc.ToolInfo, error)
	CallTool(ctx context.Context, tool string, args any, timeout time.Duration) (json.RawMessage, error)
	Shutdown()
}

// AttemptStatus is a snapshot of one capability's acquisition state.
type AttemptStatus struct {
	Capability  string            `json:"capability"`
	Severity    varietyd.Severity `json:"severity"`
	Stage       varietyd.Stage    `json:"stage"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	NextRetry   time.Time         `json:"next_retry,omitzero"`
	PackageName string            `json:"package_name,omitempty"`
	ProcessID   string            `json:"process_id,omitempty"`
}

// AttemptRecord is one completed acquisition attempt, kept for diagnostics.
type AttemptRecord struct {
	Stage       varietyd.Stage `json:"stage"`
	Error       string         `json:"error,omitempty"`
	PackageName string         `json:"package_name,omitempty"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// maxHistory bounds the per-capability attempt history.
const maxHistory = 16

// eventBuffer bounds the event stream. A slow or absent consumer drops
// events rather than stalling acquisitions.
const eventBuffer = 64

type acquisition struct {
	capability  string
	severity    varietyd.Severity
	stage       varietyd.Stage
	attempts    int
	lastErr     string
	nextRetry   time.Time
	packageName string
	processID   string
	inflight    bool
	parked      bool
	lost        bool // process exited while the attempt was in flight
	history     []AttemptRecord
}

// errProcessLost reports a plugin process that exited after the attempt
// registered it but before the outcome was committed.
var errProcessLost = errors.New("monitor: process exited during registration")

func (a *acquisition) record(rec AttemptRecord) {
	a.history = append(a.history, rec)
	if len(a.history) > maxHistory {
		a.history = a.history[len(a.history)-maxHistory:]
	}
}

// Monitor owns the acquisition state machine. Safe for concurrent use.
type Monitor struct {
	opts monitorOptions

	discoverer Discoverer
	installer  Installer
	spawner    Spawner
	registrar  Registrar
	dial       Dialer

	mu       sync.Mutex
	states   map[string]*acquisition
	sessions map[string]RPCSession // process id → session
	spawned  map[string]string     // process id → capability, while its attempt is in flight

	events chan varietyd.Event

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	done      chan struct{}
	loopDone  chan struct{}
}

// New wires a monitor over its collaborators.
func New(d Discoverer, i Installer, s Spawner, r Registrar, opts ...Option) *Monitor {
	o := resolveOptions(opts...)
	m := &Monitor{
		opts:       o,
		discoverer: d,
		installer:  i,
		spawner:    s,
		registrar:  r,
		states:     make(map[string]*acquisition),
		sessions:   make(map[string]RPCSession),
		spawned:    make(map[string]string),
		events:     make(chan varietyd.Event, eventBuffer),
		done:       make(chan struct{}),
		loopDone:   make(chan struct{}),
	}
	m.dial = o.dial
	if m.dial == nil {
		m.dial = m.defaultDial
	}
	return m
}

// Start launches the tick loop. Call Stop to shut it down.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.started = true
		go m.loop()
	})
}

// Stop halts the loop and shuts down every RPC session. Supervised
// processes are stopped by the caller through the supervisor.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		if m.started {
			<-m.loopDone
		}

		m.mu.Lock()
		sessions := make([]RPCSession, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.sessions = make(map[string]RPCSession)
		m.mu.Unlock()
		for _, s := range sessions {
			s.Shutdown()
		}
	})
}

// Events exposes the acquisition event stream. Events are dropped when the
// buffer is full; the stream is for observation, never for control flow.
// Compose it with the events package filters.
func (m *Monitor) Events() <-chan varietyd.Event {
	return m.events
}

func (m *Monitor) emit(ev varietyd.Event) {
	ev.Time = time.Now()
	select {
	case m.events <- ev:
	default:
		m.opts.log.Debug("event dropped", "type", ev.Type, "capability", ev.Capability)
	}
}

// InjectGap reports missing capabilities. Capabilities already registered
// are ignored; capabilities with an acquisition in flight are coalesced
// into it; parked capabilities get a fresh attempt budget.
func (m *Monitor) InjectGap(gap varietyd.Gap) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, capability := range gap.Capabilities {
		st, ok := m.states[capability]
		if !ok {
			m.states[capability] = &acquisition{
				capability: capability,
				severity:   gap.Severity,
				stage:      varietyd.StageDetected,
			}
			m.opts.log.Info("gap detected",
				"capability", capability, "severity", gap.Severity, "source", gap.Source)
			m.emit(varietyd.Event{Type: varietyd.EventGapDetected, Capability: capability})
			continue
		}
		if st.stage == varietyd.StageRegistered {
			continue
		}
		if st.inflight {
			// Coalesced: the running attempt covers this report.
			continue
		}
		if st.parked {
			st.parked = false
			st.attempts = 0
			st.nextRetry = time.Time{}
			st.stage = varietyd.StageDetected
			st.severity = gap.Severity
			m.opts.log.Info("parked capability re-injected", "capability", capability)
		}
	}
}

// Tick starts an acquisition for every capability that is due. Never
// blocks on acquisition work; each attempt runs in its own goroutine.
func (m *Monitor) Tick() {
	now := time.Now()
	m.mu.Lock()
	var due []*acquisition
	for _, st := range m.states {
		if st.inflight || st.parked || st.stage == varietyd.StageRegistered {
			continue
		}
		if now.Before(st.nextRetry) {
			continue
		}
		st.inflight = true
		due = append(due, st)
	}
	m.mu.Unlock()

	for _, st := range due {
		go m.acquire(st.capability)
	}
}

// HandleExit reacts to a process leaving the running set: its routes are
// invalidated and every capability it served becomes a gap again.
func (m *Monitor) HandleExit(ev proc.ExitEvent) {
	dropped := m.registrar.InvalidateProcess(ev.ID)

	m.mu.Lock()
	if s, ok := m.sessions[ev.ID]; ok {
		delete(m.sessions, ev.ID)
		go s.Shutdown()
	}
	if capability, ok := m.spawned[ev.ID]; ok {
		delete(m.spawned, ev.ID)
		if st, ok := m.states[capability]; ok && st.inflight {
			st.lost = true
		}
	}
	var lost []string
	for _, capability := range dropped {
		st, ok := m.states[capability]
		if !ok || st.processID != ev.ID {
			continue
		}
		st.stage = varietyd.StageDetected
		st.attempts = 0
		st.parked = false
		st.nextRetry = time.Time{}
		st.processID = ""
		st.lastErr = ""
		lost = append(lost, capability)
	}
	m.mu.Unlock()

	if len(lost) > 0 {
		m.opts.log.Warn("process exit reopened gaps",
			"process", ev.ID, "package", ev.PackageName,
			"status", ev.Status, "capabilities", lost)
	}
	for _, capability := range lost {
		m.emit(varietyd.Event{
			Type: varietyd.EventProcessExited, Capability: capability,
			PackageName: ev.PackageName, ProcessID: ev.ID,
		})
	}
}

// Status reports one capability's acquisition state.
func (m *Monitor) Status(capability string) (AttemptStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[capability]
	if !ok {
		return AttemptStatus{}, false
	}
	return snapshot(st), true
}

// StatusAll reports every tracked capability, sorted by name.
func (m *Monitor) StatusAll() []AttemptStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AttemptStatus, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, snapshot(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

// ListCapabilities lists the registered, routable capability names, sorted.
// Failed and in-flight capabilities are visible through StatusAll only.
func (m *Monitor) ListCapabilities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.states))
	for capability, st := range m.states {
		if st.parked || st.stage != varietyd.StageRegistered {
			continue
		}
		out = append(out, capability)
	}
	sort.Strings(out)
	return out
}

// History returns the capability's recent completed attempts, oldest
// first, bounded at maxHistory.
func (m *Monitor) History(capability string) []AttemptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[capability]
	if !ok {
		return nil
	}
	return append([]AttemptRecord(nil), st.history...)
}

func snapshot(st *acquisition) AttemptStatus {
	stage := st.stage
	if st.parked {
		stage = varietyd.StageFailed
	}
	return AttemptStatus{
		Capability:  st.capability,
		Severity:    st.severity,
		Stage:       stage,
		Attempts:    st.attempts,
		LastError:   st.lastErr,
		NextRetry:   st.nextRetry,
		PackageName: st.packageName,
		ProcessID:   st.processID,
	}
}

// ListProcesses snapshots the supervised processes.
func (m *Monitor) ListProcesses() []proc.HandleInfo {
	return m.spawner.List()
}

func (m *Monitor) loop() {
	defer close(m.loopDone)
	ticker := time.NewTicker(m.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// acquire runs one attempt for the capability and records the outcome.
// The capability's inflight flag is held for the duration.
func (m *Monitor) acquire(capability string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.attemptDeadline)
	defer cancel()

	stage, processID, pkg, err := m.attempt(ctx, capability)

	m.mu.Lock()
	defer m.mu.Unlock()
	if processID != "" {
		delete(m.spawned, processID)
	}
	st, ok := m.states[capability]
	if !ok {
		return
	}
	st.inflight = false
	st.packageName = pkg
	if err == nil && st.lost {
		// The process exited after the attempt registered it but before
		// this commit. HandleExit already invalidated its routes, so a
		// committed registration would have nothing to serve calls.
		if s, ok := m.sessions[processID]; ok {
			delete(m.sessions, processID)
			go s.Shutdown()
		}
		m.registrar.InvalidateProcess(processID)
		err = errProcessLost
	}
	st.lost = false
	rec := AttemptRecord{Stage: stage, PackageName: pkg, FinishedAt: time.Now()}
	if err != nil {
		rec.Error = err.Error()
	}
	st.record(rec)

	if err == nil {
		st.stage = varietyd.StageRegistered
		st.processID = processID
		st.lastErr = ""
		st.nextRetry = time.Time{}
		m.opts.log.Info("capability registered",
			"capability", capability, "package", pkg, "process", processID)
		m.emit(varietyd.Event{
			Type: varietyd.EventRegistered, Capability: capability,
			PackageName: pkg, ProcessID: processID, Stage: varietyd.StageRegistered,
		})
		return
	}

	st.attempts++
	st.lastErr = err.Error()
	if st.attempts >= m.opts.maxAttempts {
		st.parked = true
		st.stage = varietyd.StageFailed
		m.opts.log.Error("capability acquisition parked",
			"capability", capability, "stage", stage,
			"attempts", st.attempts, "err", err)
		m.emit(varietyd.Event{
			Type: varietyd.EventParked, Capability: capability,
			PackageName: pkg, Stage: stage, Err: err.Error(),
		})
		return
	}
	st.stage = varietyd.StageDetected
	st.nextRetry = time.Now().Add(backoff(m.opts.backoffBase, m.opts.backoffCap, st.attempts))
	m.opts.log.Warn("capability acquisition failed",
		"capability", capability, "stage", stage,
		"attempt", st.attempts, "retry_at", st.nextRetry, "err", err)
	m.emit(varietyd.Event{
		Type: varietyd.EventAttemptFailed, Capability: capability,
		PackageName: pkg, Stage: stage, Err: err.Error(),
	})
}

// attempt walks one capability through the pipeline. It returns the stage
// that failed, or StageRegistered with a nil error on success.
func (m *Monitor) attempt(ctx context.Context, capability string) (varietyd.Stage, string, string, error) {
	m.setStage(capability, varietyd.StageDiscovering)
	cands := m.discoverer.Discover(ctx, capability)
	winner, err := discovery.Select(capability, cands)
	if err != nil {
		return varietyd.StageDiscovering, "", "", err
	}

	m.setStage(capability, varietyd.StageInstalling)
	rec, err := m.installer.Install(ctx, winner.PackageName, winner.Version)
	if err != nil {
		return varietyd.StageInstalling, "", winner.PackageName, err
	}

	m.setStage(capability, varietyd.StageSpawning)
	handle, err := m.spawner.Spawn(proc.Spec{
		Path:        rec.BinPath,
		Args:        rec.BinArgs,
		Dir:         rec.InstallDir,
		PackageName: rec.PackageName,
	})
	if err != nil {
		return varietyd.StageSpawning, "", rec.PackageName, err
	}
	m.mu.Lock()
	m.spawned[handle.ID] = capability
	m.mu.Unlock()

	m.setStage(capability, varietyd.StageHandshaking)
	session, err := m.handshake(ctx, handle.ID)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), m.opts.stopTimeout)
		defer cancel()
		_ = m.spawner.Stop(stopCtx, handle.ID)
		return varietyd.StageHandshaking, handle.ID, rec.PackageName, err
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		session.Shutdown()
		stopCtx, cancel := context.WithTimeout(context.Background(), m.opts.stopTimeout)
		defer cancel()
		_ = m.spawner.Stop(stopCtx, handle.ID)
		return varietyd.StageHandshaking, handle.ID, rec.PackageName, err
	}

	m.registrar.AttachClient(handle.ID, session)
	if err := m.register(capability, handle.ID, tools); err != nil {
		session.Shutdown()
		m.registrar.InvalidateProcess(handle.ID)
		stopCtx, cancel := context.WithTimeout(context.Background(), m.opts.stopTimeout)
		defer cancel()
		_ = m.spawner.Stop(stopCtx, handle.ID)
		return varietyd.StageHandshaking, handle.ID, rec.PackageName, err
	}

	m.mu.Lock()
	m.sessions[handle.ID] = session
	m.mu.Unlock()
	return varietyd.StageRegistered, handle.ID, rec.PackageName, nil
}

// handshake dials the process transport and completes the protocol
// handshake, promoting the process to running on success.
func (m *Monitor) handshake(ctx context.Context, processID string) (RPCSession, error) {
	r, w, err := m.spawner.Transport(processID)
	if err != nil {
		return nil, err
	}
	session, err := m.dial(ctx, r, w)
	if err != nil {
		return nil, err
	}
	if err := m.spawner.SetRunning(processID); err != nil {
		session.Shutdown()
		return nil, err
	}
	return session, nil
}

// register binds the capability to the tool that serves it, plus any other
// tools the plugin advertises under valid capability names.
func (m *Monitor) register(capability string, processID string, tools []rpc.ToolInfo) error {
	if len(tools) == 0 {
		return errors.New("monitor: plugin advertises no tools")
	}
	tool := pickTool(capability, tools)
	if err := m.registrar.Register(capability, processID, tool); err != nil {
		return err
	}
	for _, t := range tools {
		if t.Name == capability {
			continue
		}
		if varietyd.ValidateCapability(t.Name) != nil {
			continue
		}
		// Extra tools are registered best-effort; the requested
		// capability is the only one that can fail the attempt.
		_ = m.registrar.Register(t.Name, processID, t.Name)
	}
	return nil
}

// pickTool chooses which advertised tool serves the requested capability:
// exact name match, then a tool whose name contains the capability, then
// the first advertised tool.
func pickTool(capability string, tools []rpc.ToolInfo) string {
	for _, t := range tools {
		if t.Name == capability {
			return t.Name
		}
	}
	for _, t := range tools {
		if strings.Contains(t.Name, capability) {
			return t.Name
		}
	}
	return tools[0].Name
}

func (m *Monitor) setStage(capability string, stage varietyd.Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[capability]; ok {
		st.stage = stage
	}
}

func (m *Monitor) defaultDial(ctx context.Context, r io.Reader, w io.Writer) (RPCSession, error) {
	client := rpc.Dial(r, w,
		rpc.WithHandshakeTimeout(m.opts.handshakeTimeout),
		rpc.WithCallTimeout(m.opts.callTimeout),
		rpc.WithLogger(m.opts.log),
	)
	if _, err := client.Initialize(ctx); err != nil {
		client.Shutdown()
		return nil, err
	}
	return client, nil
}

// backoff computes the delay before retry number attempt (1-based):
// base doubled per prior attempt, capped at ceil.
func backoff(base, ceil time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}
