// Package session orchestrates VPN connections for the presentation layer.
//
// A Session owns the connect/disconnect state machine, the single active VPN
// process with its output and telemetry monitors, and a dispatcher goroutine
// that is the only place subscriber callbacks run. Background workers never
// call subscribers directly.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/detect"
	"github.com/kingzvpn/client/fetch"
	"github.com/kingzvpn/client/history"
	"github.com/kingzvpn/client/store"
	"github.com/kingzvpn/client/telemetry"
	"github.com/kingzvpn/client/vpn"
)

// Recorder persists session history. history.Log implements it.
type Recorder interface {
	Record(ctx context.Context, kind history.Kind, configID, message string) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options configures a Session. Zero values select the defaults.
type Options struct {
	VPN            vpn.Options
	Telemetry      telemetry.Options
	Fetch          fetch.Options
	QueueSize      int
	JoinTimeout    time.Duration
	Retention      time.Duration
	CredentialsDir string
	History        Recorder
	Credentials    common.CredentialStore
}

// run is the state of one launched connection.
type run struct {
	config      *store.Config
	sup         *vpn.Supervisor
	handle      *vpn.Handle
	stop        chan struct{}
	stopOnce    sync.Once
	monitorDone chan struct{}
	telemetry   *telemetry.Monitor
	credFile    string
	warnings    warnLimiter
}

// warnLimiter rate-limits warning notifications. It is used only from
// the run's output monitor goroutine.
type warnLimiter struct {
	last       time.Time
	suppressed int
}

// allow reports whether a warning at now may be shown and how many were
// suppressed since the last one shown.
func (w *warnLimiter) allow(now time.Time) (bool, int) {
	if !w.last.IsZero() && now.Sub(w.last) < common.WarningInterval {
		w.suppressed++
		return false, 0
	}
	skipped := w.suppressed
	w.last, w.suppressed = now, 0
	return true, skipped
}

func (r *run) signalStop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.telemetry.Stop()
}

// Session is the process-wide connection controller.
type Session struct {
	store *store.Store
	opts  Options
	now   func() time.Time

	// launchLock serializes the launch decision only.
	launchLock sync.Mutex

	mu      sync.RWMutex
	status  Status
	active  *store.Config
	current *run
	lastErr error

	queue *telemetry.Queue
	notes chan Notification

	// Status transitions are never dropped: they queue here and the
	// dispatcher is woken through statusReady.
	statusMu      sync.Mutex
	pendingStatus []StatusEvent
	statusReady   chan struct{}

	subMu         sync.RWMutex
	nextSub       int
	telemetrySubs map[int]func(telemetry.Sample)
	noteSubs      map[int]func(Notification)
	statusSubs    map[int]func(StatusEvent)

	closed       chan struct{}
	closeOnce    sync.Once
	dispatchDone chan struct{}

	// launchHook runs while the launch lock is held. Tests use it to hold
	// the lock open.
	launchHook func()
}

// New creates a Session over st and starts its dispatcher.
func New(st *store.Store, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = common.TelemetryQueueSize
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = common.JoinTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = common.RetentionPeriod
	}

	s := &Session{
		store:         st,
		opts:          opts,
		now:           time.Now,
		queue:         telemetry.NewQueue(opts.QueueSize),
		notes:         make(chan Notification, common.NotificationQueueSize),
		statusReady:   make(chan struct{}, 1),
		telemetrySubs: make(map[int]func(telemetry.Sample)),
		noteSubs:      make(map[int]func(Notification)),
		statusSubs:    make(map[int]func(StatusEvent)),
		closed:        make(chan struct{}),
		dispatchDone:  make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Active returns the config of the current connection, or nil.
func (s *Session) Active() *store.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// LastError returns the error that put the session into StatusError.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// PID returns the process ID of the running VPN process.
func (s *Session) PID() (int, error) {
	s.mu.RLock()
	r := s.current
	s.mu.RUnlock()
	if r == nil {
		return 0, common.ErrNotRunning
	}
	h := r.sup.Handle()
	if h == nil || h.Exited() {
		return 0, common.ErrNotRunning
	}
	return h.PID, nil
}

// Connect starts a connection with cfg. Calling it while connected
// disconnects instead.
func (s *Session) Connect(ctx context.Context, cfg *store.Config) error {
	if cfg == nil {
		return common.ErrNoConfigSelected
	}

	sup := vpn.NewSupervisor(s.opts.VPN)
	if err := sup.Probe(ctx); err != nil {
		s.notify(LevelError, "VPN executable not found", err)
		return err
	}

	if !s.launchLock.TryLock() {
		return common.ErrAlreadyConnecting
	}
	defer s.launchLock.Unlock()

	if s.launchHook != nil {
		s.launchHook()
	}

	s.sweep(ctx)

	switch s.Status() {
	case StatusConnected:
		common.LogInfo("Connect while connected, disconnecting instead")
		return s.Disconnect()
	case StatusConnecting, StatusDisconnecting:
		return common.ErrAlreadyConnecting
	}

	cfg, credFile, err := s.prepare(ctx, cfg)
	if err != nil {
		s.fail(cfg, err)
		return err
	}

	s.setStatus(StatusConnecting, cfg, nil)

	h, err := sup.Launch(ctx, cfg.FilePath, vpn.LaunchOptions{AuthFile: credFile})
	if err != nil {
		removeFile(credFile)
		s.fail(cfg, err)
		return err
	}

	r := &run{
		config:      cfg,
		sup:         sup,
		handle:      h,
		stop:        make(chan struct{}),
		monitorDone: make(chan struct{}),
		telemetry:   telemetry.NewMonitor(s.queue, s.opts.Telemetry),
		credFile:    credFile,
	}

	s.mu.Lock()
	s.current = r
	s.mu.Unlock()

	// Started before the monitor so an immediate exit can join it.
	r.telemetry.Start()

	go func() {
		defer close(r.monitorDone)
		vpn.Monitor(h, r.stop, vpn.MonitorCallbacks{
			OnWarning:   func(line string) { s.warn(r, line) },
			OnConnected: func() { s.onConnected(r) },
			OnExit:      func(err error) { s.onExit(r, err) },
		})
	}()

	s.record(history.KindConnect, cfg.ID, fmt.Sprintf("launched %s (pid %d)", cfg.Name, h.PID))
	return nil
}

// prepare checks the config can be launched and writes its credentials file.
func (s *Session) prepare(ctx context.Context, cfg *store.Config) (*store.Config, string, error) {
	if cfg.Protocol != detect.OpenVPN {
		return cfg, "", fmt.Errorf("%w: %s", common.ErrUnsupportedProtocol, cfg.Protocol)
	}
	if !s.store.Validate(cfg) {
		return cfg, "", &common.ValidationError{Field: "raw_content", Reason: "not a valid OpenVPN client configuration"}
	}

	if cfg.FilePath == "" {
		persisted, err := s.store.Persist(cfg.ID)
		if err != nil {
			return cfg, "", &vpn.LaunchError{Path: cfg.FilePath, Cause: err}
		}
		cfg = persisted
	}
	if !common.FileExists(cfg.FilePath) {
		return cfg, "", &vpn.LaunchError{Path: cfg.FilePath, Cause: os.ErrNotExist}
	}

	if s.opts.Credentials == nil {
		return cfg, "", nil
	}
	creds, err := s.opts.Credentials.Get(cfg.ID)
	if err != nil {
		if !errors.Is(err, common.ErrCredentialsNotFound) {
			common.LogWarn("Could not read credentials for %s: %v", cfg.Name, err)
		}
		return cfg, "", nil
	}
	credFile, err := vpn.WriteCredentialsFile(s.opts.CredentialsDir, creds)
	if err != nil {
		return cfg, "", &vpn.LaunchError{Path: cfg.FilePath, Cause: err}
	}
	return cfg, credFile, nil
}

// warn reports an OpenVPN warning line, at most one per WarningInterval.
func (s *Session) warn(r *run, line string) {
	ok, skipped := r.warnings.allow(s.now())
	if !ok {
		return
	}
	if skipped > 0 {
		line = fmt.Sprintf("%s (%d more suppressed)", line, skipped)
	}
	s.notifyMessage(LevelWarning, "OpenVPN", line)
}

func (s *Session) onConnected(r *run) {
	s.mu.Lock()
	if s.current != r || s.status != StatusConnecting {
		s.mu.Unlock()
		return
	}
	s.status = StatusConnected
	s.mu.Unlock()

	s.publishStatus(StatusConnected, r.config, nil)
	s.notifyMessage(LevelInfo, "Connected", fmt.Sprintf("Connected to %s", r.config.Name))
	s.record(history.KindConnect, r.config.ID, "tunnel established")
}

// onExit handles a process that exited without being asked to.
func (s *Session) onExit(r *run, exitErr error) {
	s.mu.Lock()
	if s.current != r || (s.status != StatusConnecting && s.status != StatusConnected) {
		s.mu.Unlock()
		return
	}
	err := exitErr
	if err == nil {
		err = errors.New("vpn process exited")
	} else {
		err = fmt.Errorf("vpn process exited: %w", exitErr)
	}
	s.current = nil
	s.active = nil
	s.status = StatusError
	s.lastErr = err
	s.mu.Unlock()

	common.LogError("Connection to %s lost: %v", r.config.Name, err)
	s.publishStatus(StatusError, r.config, err)
	s.notify(LevelError, "Connection lost", err)
	s.record(history.KindError, r.config.ID, err.Error())

	// Running on the monitor goroutine: it cannot join itself.
	if terr := s.teardown(r, false); terr != nil {
		common.LogError("Teardown after exit failed: %v", terr)
	}
}

// Disconnect stops the active connection. It is a no-op when idle.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	r := s.current
	if r == nil {
		if s.status == StatusError {
			s.status = StatusIdle
			s.lastErr = nil
			s.mu.Unlock()
			s.publishStatus(StatusIdle, nil, nil)
			return nil
		}
		s.mu.Unlock()
		return nil
	}
	if s.status == StatusDisconnecting {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusDisconnecting
	s.mu.Unlock()

	s.publishStatus(StatusDisconnecting, r.config, nil)
	err := s.teardown(r, true)

	s.mu.Lock()
	if s.current == r {
		s.current = nil
	}
	s.active = nil
	if err != nil {
		s.status = StatusError
		s.lastErr = err
	} else {
		s.status = StatusIdle
		s.lastErr = nil
	}
	s.mu.Unlock()

	if err != nil {
		s.publishStatus(StatusError, r.config, err)
		s.notify(LevelError, "Disconnect failed", err)
		s.record(history.KindError, r.config.ID, err.Error())
		return err
	}
	s.publishStatus(StatusIdle, r.config, nil)
	s.notifyMessage(LevelInfo, "Disconnected", fmt.Sprintf("Disconnected from %s", r.config.Name))
	s.record(history.KindDisconnect, r.config.ID, "disconnected")
	return nil
}

// teardown stops every background activity of r. Stop signals are set
// before any join; joins are bounded and a stuck worker is abandoned.
func (s *Session) teardown(r *run, waitMonitor bool) error {
	r.signalStop()

	err := r.sup.Terminate()
	if err != nil {
		common.LogError("Failed to stop VPN process: %v", err)
	}

	if waitMonitor {
		s.join("output monitor", r.monitorDone)
	}
	if done := r.telemetry.Done(); done != nil {
		s.join("telemetry monitor", done)
	}

	if cerr := r.handle.Close(); cerr != nil {
		common.LogDebug("Closing output stream: %v", cerr)
	}
	removeFile(r.credFile)

	if n := s.queue.Drain(); n > 0 {
		common.LogDebug("Discarded %d pending telemetry sample(s)", n)
	}
	return err
}

func (s *Session) join(name string, done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(s.opts.JoinTimeout):
		common.LogWarn("%s did not stop within %v, abandoning it", name, s.opts.JoinTimeout)
	}
}

// sweep runs the retention sweep. Failures are logged only.
func (s *Session) sweep(ctx context.Context) {
	if _, err := s.store.Sweep(); err != nil {
		common.LogWarn("Retention sweep failed: %v", err)
	}
	if s.opts.History != nil {
		if _, err := s.opts.History.Prune(ctx, s.now().Add(-s.opts.Retention)); err != nil {
			common.LogWarn("History prune failed: %v", err)
		}
	}
}

// fail reports a connect attempt that never got a running process.
func (s *Session) fail(cfg *store.Config, err error) {
	s.setStatus(StatusError, nil, err)
	s.notify(LevelError, "Connection failed", err)
	if cfg != nil {
		s.record(history.KindError, cfg.ID, err.Error())
	}
}

func (s *Session) setStatus(status Status, cfg *store.Config, err error) {
	s.mu.Lock()
	s.status = status
	s.active = cfg
	s.lastErr = err
	s.mu.Unlock()
	s.publishStatus(status, cfg, err)
}

func (s *Session) record(kind history.Kind, configID, msg string) {
	if s.opts.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.opts.History.Record(ctx, kind, configID, msg); err != nil {
		common.LogWarn("Failed to record history: %v", err)
	}
}

// Close disconnects and stops the dispatcher.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.closeOnce.Do(func() { close(s.closed) })
	select {
	case <-s.dispatchDone:
	case <-time.After(s.opts.JoinTimeout):
		common.LogWarn("Dispatcher did not stop within %v", s.opts.JoinTimeout)
	}
	return err
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		common.LogWarn("Failed to remove %s: %v", path, err)
	}
}
