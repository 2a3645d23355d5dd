//go:build !windows

package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/varietylab/varietyd"
)

// Supervisor owns the lifecycle of every plugin subprocess: it spawns them,
// wires their stdio, watches for exit independently of any in-flight RPC
// call, and keeps the only registry of process handles. Other components
// refer to a process exclusively by its handle ID — the underlying OS
// process is never exposed.
type Supervisor struct {
	opts supervisorOptions

	mu     sync.Mutex
	procs  map[string]*managed
	onExit []func(ExitEvent)
}

type managed struct {
	id          string
	packageName string
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	stderr      *tailBuffer

	status    Status
	startedAt time.Time
	exitedAt  time.Time
	exitCode  int

	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Supervisor.
func New(opts ...SupervisorOption) *Supervisor {
	return &Supervisor{
		opts:  resolveSupervisorOptions(opts...),
		procs: make(map[string]*managed),
	}
}

// Subscribe registers fn to be called whenever a process leaves the running
// set (crash or requested stop). Handlers run on the watcher goroutine and
// must not block.
func (s *Supervisor) Subscribe(fn func(ExitEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = append(s.onExit, fn)
}

// Spawn launches the executable described by spec and registers a handle for
// it. The process starts in StatusStarting; the caller promotes it with
// SetRunning once the protocol handshake succeeds. Returns
// varietyd.ErrUnavailable when the executable cannot be resolved.
func (s *Supervisor) Spawn(spec Spec) (HandleInfo, error) {
	resolved, err := exec.LookPath(spec.Path)
	if err != nil {
		return HandleInfo{}, fmt.Errorf("%w: %s: %w", varietyd.ErrUnavailable, spec.Path, err)
	}

	cmd := exec.Command(resolved, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return HandleInfo{}, fmt.Errorf("proc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return HandleInfo{}, fmt.Errorf("proc: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return HandleInfo{}, fmt.Errorf("proc: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return HandleInfo{}, fmt.Errorf("proc: start %s: %w", spec.Path, err)
	}

	m := &managed{
		id:          uuid.NewString(),
		packageName: spec.PackageName,
		cmd:         cmd,
		stdin:       stdin,
		stdout:      stdout,
		stderr:      newTailBuffer(s.opts.stderrTail),
		status:      StatusStarting,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}

	s.mu.Lock()
	s.procs[m.id] = m
	s.mu.Unlock()

	s.opts.log.Info("spawned plugin process",
		"proc", m.id, "pkg", m.packageName, "pid", cmd.Process.Pid, "path", resolved)

	stderrDone := make(chan struct{})
	go s.captureStderr(m, stderr, stderrDone)
	go s.watch(m, stderrDone)

	return s.snapshot(m), nil
}

// Transport returns the byte streams for speaking protocol to the process:
// its stdout to read from and its stdin to write to. Fails with
// varietyd.ErrProcessUnavailable for an unknown handle and
// varietyd.ErrTerminated once the process has exited.
func (s *Supervisor) Transport(id string) (io.Reader, io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.procs[id]
	if !ok {
		return nil, nil, fmt.Errorf("proc: %s: %w", id, varietyd.ErrProcessUnavailable)
	}
	if !m.status.Alive() {
		return nil, nil, fmt.Errorf("proc: %s %s: %w", id, m.status, varietyd.ErrTerminated)
	}
	return m.stdout, m.stdin, nil
}

// SetRunning promotes a starting process to running. Called after the
// protocol handshake succeeds — the handshake, not raw output, is the
// liveness signal.
func (s *Supervisor) SetRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.procs[id]
	if !ok {
		return fmt.Errorf("proc: %s: %w", id, varietyd.ErrProcessUnavailable)
	}
	if !m.status.Alive() {
		return fmt.Errorf("proc: %s %s: %w", id, m.status, varietyd.ErrTerminated)
	}
	m.status = StatusRunning
	return nil
}

// Info returns a snapshot of one process.
func (s *Supervisor) Info(id string) (HandleInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.procs[id]
	if !ok {
		return HandleInfo{}, false
	}
	return s.snapshot(m), true
}

// List returns snapshots of every known process, oldest first. Exited
// processes remain listed until Remove is called for them.
func (s *Supervisor) List() []HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HandleInfo, 0, len(s.procs))
	for _, m := range s.procs {
		out = append(out, s.snapshot(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stop terminates a process: SIGTERM, a grace period, then SIGKILL. Safe to
// call multiple times and for ids that are already gone.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	m.stopOnce.Do(func() {
		m.stopping.Store(true)

		// Closing stdin signals EOF — most well-behaved plugins exit on it.
		_ = m.stdin.Close()
		_ = signalProcess(m.cmd.Process, syscall.SIGTERM)

		select {
		case <-m.done:
		case <-time.After(s.opts.gracePeriod):
			_ = signalProcess(m.cmd.Process, os.Kill)
			<-m.done
		case <-ctx.Done():
			_ = signalProcess(m.cmd.Process, os.Kill)
			<-m.done
		}
	})

	<-m.done
	return nil
}

// StopAll stops every live process. Used during daemon shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id, m := range s.procs {
		if m.status.Alive() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.Stop(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Remove forgets an exited process's handle. Live processes are not
// removable.
func (s *Supervisor) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.procs[id]
	if !ok {
		return nil
	}
	if m.status.Alive() {
		return fmt.Errorf("proc: %s still alive, stop it first", id)
	}
	delete(s.procs, id)
	return nil
}

// watch blocks until the process exits, records the transition, and fires
// exit subscribers. Runs once per spawn, independent of any RPC activity, so
// a crash is observed even with no request in flight.
func (s *Supervisor) watch(m *managed, stderrDone <-chan struct{}) {
	// Drain our side of stderr before Wait closes the pipe.
	<-stderrDone
	err := m.cmd.Wait()

	s.mu.Lock()
	m.exitedAt = time.Now()
	m.exitCode = m.cmd.ProcessState.ExitCode()
	if m.stopping.Load() {
		m.status = StatusStopped
	} else {
		m.status = StatusCrashed
	}
	ev := ExitEvent{
		ID:          m.id,
		PackageName: m.packageName,
		Status:      m.status,
		ExitCode:    m.exitCode,
		ExitedAt:    m.exitedAt,
	}
	handlers := make([]func(ExitEvent), len(s.onExit))
	copy(handlers, s.onExit)
	s.mu.Unlock()

	close(m.done)

	if ev.Status == StatusCrashed {
		s.opts.log.Warn("plugin process crashed",
			"proc", m.id, "pkg", m.packageName, "exit_code", m.exitCode, "err", err)
	} else {
		s.opts.log.Info("plugin process stopped", "proc", m.id, "pkg", m.packageName)
	}

	for _, fn := range handlers {
		fn(ev)
	}
}

// captureStderr attributes the process's stderr to it line by line. Stderr
// is diagnostics only — it is never parsed as protocol data.
func (s *Supervisor) captureStderr(m *managed, r io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m.stderr.push(line)
		s.opts.log.Debug("plugin stderr", "proc", m.id, "pkg", m.packageName, "line", line)
	}
}

// snapshot copies a managed entry into a HandleInfo. Caller holds s.mu.
func (s *Supervisor) snapshot(m *managed) HandleInfo {
	return HandleInfo{
		ID:          m.id,
		PackageName: m.packageName,
		PID:         m.cmd.Process.Pid,
		Status:      m.status,
		StartedAt:   m.startedAt,
		ExitedAt:    m.exitedAt,
		ExitCode:    m.exitCode,
		StderrTail:  m.stderr.lines(),
	}
}

// signalProcess sends sig, returning nil if the process already exited.
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// --- Options ---

const (
	defaultGracePeriod = 5 * time.Second
	defaultStderrTail  = 32
)

type supervisorOptions struct {
	gracePeriod time.Duration
	stderrTail  int
	log         *slog.Logger
}

// SupervisorOption configures a Supervisor at construction time.
type SupervisorOption func(*supervisorOptions)

// WithGracePeriod sets the SIGTERM-to-SIGKILL grace period.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) SupervisorOption {
	return func(o *supervisorOptions) {
		if d > 0 {
			o.gracePeriod = d
		}
	}
}

// WithStderrTail sets how many recent stderr lines are retained per process.
// Values <= 0 are ignored.
func WithStderrTail(n int) SupervisorOption {
	return func(o *supervisorOptions) {
		if n > 0 {
			o.stderrTail = n
		}
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(log *slog.Logger) SupervisorOption {
	return func(o *supervisorOptions) {
		if log != nil {
			o.log = log
		}
	}
}

func resolveSupervisorOptions(opts ...SupervisorOption) supervisorOptions {
	o := supervisorOptions{
		gracePeriod: defaultGracePeriod,
		stderrTail:  defaultStderrTail,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
