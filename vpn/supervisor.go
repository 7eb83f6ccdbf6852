package vpn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/kingzvpn/client/common"
)

// State is the lifecycle state of the supervised VPN process.
type State int

const (
	// StateNotStarted indicates no process has been launched yet.
	StateNotStarted State = iota
	// StateLaunching indicates the process is being spawned.
	StateLaunching
	// StateRunning indicates the process is alive.
	StateRunning
	// StateTerminating indicates a stop has been requested.
	StateTerminating
	// StateStopped indicates the process exited cleanly or was stopped.
	StateStopped
	// StateError is absorbing: the process failed to launch, crashed, or
	// could not be stopped.
	StateError
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateLaunching:
		return "Launching"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// LaunchError reports a failure to start the VPN process.
type LaunchError struct {
	Path  string
	Cause error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch vpn with %q: %v", e.Path, e.Cause)
}

func (e *LaunchError) Unwrap() error { return e.Cause }

// TerminationError reports a process that survived the forced kill.
type TerminationError struct {
	PID   int
	Cause error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("failed to terminate vpn process %d: %v", e.PID, e.Cause)
}

func (e *TerminationError) Unwrap() error { return e.Cause }

var errKillTimeout = errors.New("process did not exit after kill")

// Options configures a Supervisor. Zero values select the defaults.
type Options struct {
	// Binary is the VPN executable name or path.
	Binary string
	// ProbeTimeout bounds the version probe.
	ProbeTimeout time.Duration
	// TerminateTimeout is the grace period between SIGTERM and SIGKILL.
	TerminateTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Binary == "" {
		o.Binary = common.DefaultVPNBinary
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = common.ProbeTimeout
	}
	if o.TerminateTimeout <= 0 {
		o.TerminateTimeout = common.TerminateTimeout
	}
	return o
}

// LaunchOptions carries per-launch arguments.
type LaunchOptions struct {
	// AuthFile is an optional username/password file for --auth-user-pass.
	AuthFile string
	// ExtraArgs are appended after the standard arguments.
	ExtraArgs []string
}

// Handle is a launched VPN process. Its output stream must be consumed by
// exactly one Monitor.
type Handle struct {
	PID int

	output   *os.File
	done     chan struct{}
	exitErr  error
	exitCode int
	closeOut sync.Once
}

// Output returns the combined stdout/stderr stream.
func (h *Handle) Output() io.Reader { return h.output }

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr returns the wait error. Valid after Done is closed.
func (h *Handle) ExitErr() error { return h.exitErr }

// ExitCode returns the process exit code. Valid after Done is closed.
func (h *Handle) ExitCode() int { return h.exitCode }

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Close releases the output stream.
func (h *Handle) Close() error {
	var err error
	h.closeOut.Do(func() { err = h.output.Close() })
	return err
}

// Supervisor owns a single external VPN process: probe, spawn and
// two-phase termination. One Supervisor launches at most one process.
type Supervisor struct {
	opts Options

	mu     sync.Mutex
	state  State
	probed bool
	handle *Handle
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{opts: opts.withDefaults()}
}

// Binary returns the configured executable.
func (s *Supervisor) Binary() string {
	return s.opts.Binary
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the launched process, or nil.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Probe checks that the executable exists and answers --version within the
// probe timeout. A non-zero exit still counts as present: openvpn --version
// exits with status 1.
func (s *Supervisor) Probe(ctx context.Context) error {
	path, err := exec.LookPath(s.opts.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrToolMissing, s.opts.Binary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--version")
	err = cmd.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: version probe timed out", common.ErrToolMissing, s.opts.Binary)
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s: %v", common.ErrToolMissing, s.opts.Binary, err)
	}

	s.mu.Lock()
	s.probed = true
	s.mu.Unlock()
	return nil
}

// Launch starts the VPN process with credential caching disabled.
func (s *Supervisor) Launch(ctx context.Context, configPath string, lo LaunchOptions) (*Handle, error) {
	if configPath == "" {
		return nil, &LaunchError{Path: configPath, Cause: errors.New("config path is empty")}
	}

	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return nil, common.ErrAlreadyLaunched
	}
	s.state = StateLaunching
	probed := s.probed
	s.mu.Unlock()

	if !probed {
		if err := s.Probe(ctx); err != nil {
			s.setState(StateError)
			return nil, err
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		s.setState(StateError)
		return nil, &LaunchError{Path: configPath, Cause: err}
	}

	args := []string{"--config", configPath, "--auth-nocache"}
	if lo.AuthFile != "" {
		args = append(args, "--auth-user-pass", lo.AuthFile)
	}
	args = append(args, lo.ExtraArgs...)

	r, w, err := os.Pipe()
	if err != nil {
		s.setState(StateError)
		return nil, &LaunchError{Path: configPath, Cause: err}
	}

	cmd := exec.Command(s.opts.Binary, args...)
	cmd.Stdout = w
	cmd.Stderr = w

	common.LogInfo("VPN: Starting %s %v", s.opts.Binary, args)
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		s.setState(StateError)
		return nil, &LaunchError{Path: configPath, Cause: err}
	}
	// The child holds its own copy; the reader sees EOF once it exits.
	w.Close()

	h := &Handle{
		PID:    cmd.Process.Pid,
		output: r,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.handle = h
	s.state = StateRunning
	s.mu.Unlock()
	common.LogInfo("VPN: Process started with PID %d", h.PID)

	go s.wait(cmd, h)

	return h, nil
}

func (s *Supervisor) wait(cmd *exec.Cmd, h *Handle) {
	err := cmd.Wait()
	h.exitErr = err
	if cmd.ProcessState != nil {
		h.exitCode = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	if s.state == StateRunning {
		if err != nil {
			common.LogWarn("VPN: Process %d exited: %v", h.PID, err)
			s.state = StateError
		} else {
			common.LogInfo("VPN: Process %d exited normally", h.PID)
			s.state = StateStopped
		}
	}
	s.mu.Unlock()

	close(h.done)
}

// Terminate stops the process: SIGTERM, then SIGKILL once the terminate
// timeout elapses. Terminating a process that never started or has already
// exited succeeds.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	h := s.handle
	if h == nil {
		if s.state == StateNotStarted {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return nil
	}
	if h.Exited() {
		if s.state != StateError {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminating
	s.mu.Unlock()

	proc, err := os.FindProcess(h.PID)
	if err != nil {
		s.setState(StateError)
		return &TerminationError{PID: h.PID, Cause: err}
	}

	common.LogInfo("VPN: Sending SIGTERM to %d", h.PID)
	if err := proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		common.LogWarn("VPN: SIGTERM failed: %v", err)
	}

	select {
	case <-h.done:
		s.setState(StateStopped)
		return nil
	case <-time.After(s.opts.TerminateTimeout):
	}

	common.LogWarn("VPN: Process %d ignored SIGTERM for %v, killing", h.PID, s.opts.TerminateTimeout)
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		common.LogError("VPN: Kill failed: %v", err)
	}

	select {
	case <-h.done:
		s.setState(StateStopped)
		return nil
	case <-time.After(s.opts.TerminateTimeout):
		s.setState(StateError)
		return &TerminationError{PID: h.PID, Cause: errKillTimeout}
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateError {
		return
	}
	s.state = state
}
