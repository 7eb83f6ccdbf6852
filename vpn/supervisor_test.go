package vpn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/kingzvpn/client/common"
)

// fakeVPN writes a shell script standing in for openvpn. --version prints a
// banner and exits 1, as the real binary does.
func fakeVPN(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "openvpn")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo 'OpenVPN 2.6.0 fake'; exit 1; fi\n" +
		body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.ovpn")
	if err := os.WriteFile(path, []byte("client\nremote 1.2.3.4 1194\nproto udp\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const connectingScript = `trap 'echo "SIGTERM received, process exiting"; exit 0' TERM
echo "OpenVPN 2.6.0 x86_64-pc-linux-gnu"
echo "WARNING: --auth-nocache used"
echo "Initialization Sequence Completed"
while true; do sleep 0.05; done`

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateNotStarted, "NotStarted"},
		{StateLaunching, "Launching"},
		{StateRunning, "Running"},
		{StateTerminating, "Terminating"},
		{StateStopped, "Stopped"},
		{StateError, "Error"},
		{State(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSupervisor_BinaryMissing(t *testing.T) {
	s := NewSupervisor(Options{Binary: filepath.Join(t.TempDir(), "no-such-openvpn")})
	if err := s.Probe(context.Background()); !errors.Is(err, common.ErrToolMissing) {
		t.Errorf("Probe() error = %v, want ErrToolMissing", err)
	}
}

func TestSupervisor_VersionExitCodeIgnored(t *testing.T) {
	s := NewSupervisor(Options{Binary: fakeVPN(t, "exit 0")})
	if err := s.Probe(context.Background()); err != nil {
		t.Errorf("Probe() error = %v", err)
	}
}

func TestSupervisor_VersionTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "openvpn")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexec sleep 5\n"), 0755); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(Options{Binary: path, ProbeTimeout: 100 * time.Millisecond})
	start := time.Now()
	if err := s.Probe(context.Background()); !errors.Is(err, common.ErrToolMissing) {
		t.Errorf("Probe() error = %v, want ErrToolMissing", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Probe() did not honour its timeout")
	}
}

func TestSupervisor_LaunchEmptyPath(t *testing.T) {
	s := NewSupervisor(Options{Binary: fakeVPN(t, "exit 0")})
	_, err := s.Launch(context.Background(), "", LaunchOptions{})
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Launch() error = %v, want LaunchError", err)
	}
	if s.State() != StateNotStarted {
		t.Errorf("State() = %v, want NotStarted", s.State())
	}
}

func TestSupervisor_LaunchMissingFile(t *testing.T) {
	s := NewSupervisor(Options{Binary: fakeVPN(t, "exit 0")})
	_, err := s.Launch(context.Background(), filepath.Join(t.TempDir(), "gone.ovpn"), LaunchOptions{})
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("Launch() error = %v, want LaunchError", err)
	}
	if s.State() != StateError {
		t.Errorf("State() = %v, want Error", s.State())
	}
}

func TestSupervisor_LaunchMissingTool(t *testing.T) {
	s := NewSupervisor(Options{Binary: filepath.Join(t.TempDir(), "no-such-openvpn")})
	_, err := s.Launch(context.Background(), writeConfig(t), LaunchOptions{})
	if !errors.Is(err, common.ErrToolMissing) {
		t.Fatalf("Launch() error = %v, want ErrToolMissing", err)
	}
}

func TestSupervisor_LaunchArguments(t *testing.T) {
	s := NewSupervisor(Options{Binary: fakeVPN(t, `echo "ARGS $*"`)})
	cfg := writeConfig(t)

	h, err := s.Launch(context.Background(), cfg, LaunchOptions{AuthFile: "/tmp/creds"})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer h.Close()

	lines := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		Monitor(h, make(chan struct{}), MonitorCallbacks{
			OnLine: func(line string) { lines <- line },
			OnExit: func(error) { close(done) },
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	want := "ARGS --config " + cfg + " --auth-nocache --auth-user-pass /tmp/creds"
	if got := <-lines; got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", s.State())
	}
}

func TestSupervisor_LaunchTwice(t *testing.T) {
	s := NewSupervisor(Options{Binary: fakeVPN(t, connectingScript), TerminateTimeout: time.Second})
	cfg := writeConfig(t)

	h, err := s.Launch(context.Background(), cfg, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer h.Close()
	defer s.Terminate()

	if _, err := s.Launch(context.Background(), cfg, LaunchOptions{}); !errors.Is(err, common.ErrAlreadyLaunched) {
		t.Errorf("second Launch() error = %v, want ErrAlreadyLaunched", err)
	}
}

func TestSupervisor_ConnectAndTerminate(t *testing.T) {
	s := NewSupervisor(Options{Binary: fakeVPN(t, connectingScript), TerminateTimeout: 2 * time.Second})

	h, err := s.Launch(context.Background(), writeConfig(t), LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer h.Close()
	if h.PID <= 0 {
		t.Errorf("PID = %d", h.PID)
	}
	if s.State() != StateRunning {
		t.Errorf("State() = %v, want Running", s.State())
	}

	stop := make(chan struct{})
	connected := make(chan struct{})
	warnings := make(chan string, 4)
	exited := make(chan error, 1)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		Monitor(h, stop, MonitorCallbacks{
			OnWarning:   func(line string) { warnings <- line },
			OnConnected: func() { close(connected) },
			OnExit:      func(err error) { exited <- err },
		})
	}()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connected marker not seen")
	}
	if w := <-warnings; !strings.Contains(w, "WARNING") {
		t.Errorf("warning = %q", w)
	}

	close(stop)
	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", s.State())
	}

	select {
	case <-monitorDone:
	case <-time.After(3 * time.Second):
		t.Fatal("monitor did not return")
	}
	select {
	case err := <-exited:
		t.Errorf("OnExit called after stop: %v", err)
	default:
	}

	// Terminating an exited process is a no-op.
	if err := s.Terminate(); err != nil {
		t.Errorf("second Terminate() error = %v", err)
	}
}

func TestSupervisor_ForceKill(t *testing.T) {
	script := `trap '' TERM
echo "ignoring signals"
while true; do sleep 0.05; done`
	s := NewSupervisor(Options{Binary: fakeVPN(t, script), TerminateTimeout: 200 * time.Millisecond})

	h, err := s.Launch(context.Background(), writeConfig(t), LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer h.Close()

	// Let the shell install its trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := s.Terminate(); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("Terminate() returned after %v, before the grace period", elapsed)
	}
	if !h.Exited() {
		t.Error("process should have exited")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", s.State())
	}
}

func TestSupervisor_UnexpectedExit(t *testing.T) {
	script := `echo "RESOLVE: Cannot resolve host address: vpn.example.com"
echo "Exiting due to fatal error"
exit 3`
	s := NewSupervisor(Options{Binary: fakeVPN(t, script)})

	h, err := s.Launch(context.Background(), writeConfig(t), LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	defer h.Close()

	var warnings []string
	exited := make(chan error, 1)
	Monitor(h, make(chan struct{}), MonitorCallbacks{
		OnWarning: func(line string) { warnings = append(warnings, line) },
		OnExit:    func(err error) { exited <- err },
	})

	select {
	case err := <-exited:
		if err == nil {
			t.Error("OnExit error = nil, want exit status")
		}
	default:
		t.Fatal("OnExit not called")
	}
	if h.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", h.ExitCode())
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want the fatal line", warnings)
	}
	if s.State() != StateError {
		t.Errorf("State() = %v, want Error", s.State())
	}
}

func TestSupervisor_TerminateNotStarted(t *testing.T) {
	s := NewSupervisor(Options{})
	if err := s.Terminate(); err != nil {
		t.Errorf("Terminate() error = %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want Stopped", s.State())
	}
}

func TestWriteCredentialsFile(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteCredentialsFile(dir, common.Credentials{Username: "alice", Password: "s3cret"})
	if err != nil {
		t.Fatalf("WriteCredentialsFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "alice\ns3cret\n" {
		t.Errorf("content = %q", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	empty, err := WriteCredentialsFile(dir, common.Credentials{})
	if err != nil || empty != "" {
		t.Errorf("empty credentials = %q, %v", empty, err)
	}
}
