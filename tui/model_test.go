package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingzvpn/client/detect"
	"github.com/kingzvpn/client/session"
	"github.com/kingzvpn/client/store"
	"github.com/kingzvpn/client/telemetry"
)

type fakeCore struct {
	mu          sync.Mutex
	configs     []*store.Config
	connected   []string
	disconnects int
	deleted     []string
	imported    []string
	connectErr  error
}

func (f *fakeCore) ListConfigs() []*store.Config { return f.configs }

func (f *fakeCore) Connect(_ context.Context, cfg *store.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, cfg.ID)
	return f.connectErr
}

func (f *fakeCore) Disconnect() error {
	f.disconnects++
	return nil
}

func (f *fakeCore) DeleteConfig(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCore) ImportFromURL(_ context.Context, rawURL string) (*store.Config, error) {
	f.imported = append(f.imported, rawURL)
	return &store.Config{ID: "new"}, nil
}

func (f *fakeCore) Status() session.Status { return session.StatusIdle }
func (f *fakeCore) Active() *store.Config  { return nil }

func newFakeCore() *fakeCore {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeCore{configs: []*store.Config{
		{ID: "aaaaaaaa-1111", Name: "frankfurt", Protocol: detect.OpenVPN, ImportedAt: now},
		{ID: "bbbbbbbb-2222", Name: "tokyo", Protocol: detect.VMess, ImportedAt: now.Add(time.Minute)},
	}}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update() returned %T", next)
	}
	return model, cmd
}

func TestModel_KeyActions(t *testing.T) {
	tests := []struct {
		name  string
		keys  []string
		check func(t *testing.T, f *fakeCore)
	}{
		{"connect selected", []string{"c"}, func(t *testing.T, f *fakeCore) {
			if len(f.connected) != 1 || f.connected[0] != "aaaaaaaa-1111" {
				t.Errorf("connected = %v", f.connected)
			}
		}},
		{"enter connects second row", []string{"down", "enter"}, func(t *testing.T, f *fakeCore) {
			if len(f.connected) != 1 || f.connected[0] != "bbbbbbbb-2222" {
				t.Errorf("connected = %v", f.connected)
			}
		}},
		{"disconnect", []string{"d"}, func(t *testing.T, f *fakeCore) {
			if f.disconnects != 1 {
				t.Errorf("disconnects = %d", f.disconnects)
			}
		}},
		{"delete", []string{"x"}, func(t *testing.T, f *fakeCore) {
			if len(f.deleted) != 1 || f.deleted[0] != "aaaaaaaa-1111" {
				t.Errorf("deleted = %v", f.deleted)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeCore()
			m := New(f, nil)
			var cmd tea.Cmd
			for _, k := range tt.keys {
				m, cmd = update(t, m, key(k))
			}
			if cmd == nil {
				t.Fatal("no command returned")
			}
			if _, ok := cmd().(resultMsg); !ok {
				t.Fatal("command did not produce a result")
			}
			tt.check(t, f)
		})
	}
}

func TestModel_Quit(t *testing.T) {
	m := New(newFakeCore(), nil)
	_, cmd := update(t, m, key("q"))
	if cmd == nil {
		t.Fatal("no command returned")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestModel_Import(t *testing.T) {
	f := newFakeCore()
	m := New(f, nil)

	m, _ = update(t, m, key("i"))
	if !m.importing {
		t.Fatal("import prompt not opened")
	}
	m, _ = update(t, m, key("https://vpn.example.com/a.ovpn"))
	m, cmd := update(t, m, key("enter"))
	if m.importing {
		t.Error("import prompt still open")
	}
	if cmd == nil {
		t.Fatal("no command returned")
	}
	cmd()
	if len(f.imported) != 1 || f.imported[0] != "https://vpn.example.com/a.ovpn" {
		t.Errorf("imported = %v", f.imported)
	}
}

func TestModel_SessionEvents(t *testing.T) {
	f := newFakeCore()
	m := New(f, nil)

	m, _ = update(t, m, statusMsg{Status: session.StatusConnected, Config: f.configs[0]})
	m, _ = update(t, m, sampleMsg{DownloadMbps: 2, UploadMbps: 1, PingMs: 15})
	view := m.View()
	for _, want := range []string{"Connected", "frankfurt", "2.00 Mbps", "15 ms", "●"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	m, _ = update(t, m, statusMsg{Status: session.StatusError, Err: errors.New("vpn process exited")})
	m, _ = update(t, m, noteMsg{Level: session.LevelError, Title: "Connection lost", Message: "exit status 1"})
	view = m.View()
	for _, want := range []string{"Error", "vpn process exited", "Connection lost: exit status 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(view, "Mbps") {
		t.Error("telemetry shown while not connected")
	}
}

func TestModel_ConnectErrorShown(t *testing.T) {
	f := newFakeCore()
	f.connectErr = errors.New("already connecting")
	m := New(f, nil)

	_, cmd := update(t, m, key("c"))
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.View(), "Connect: already connecting") {
		t.Error("connect error not rendered")
	}
}

func TestModel_NotesCapped(t *testing.T) {
	m := New(newFakeCore(), nil)
	for i := 0; i < maxNotes+3; i++ {
		m, _ = update(t, m, noteMsg{Title: "n"})
	}
	if len(m.notes) != maxNotes {
		t.Errorf("notes = %d, want %d", len(m.notes), maxNotes)
	}
}

type fakeSource struct {
	status func(session.StatusEvent)
	sample func(telemetry.Sample)
	note   func(session.Notification)
	unsubs int
}

func (f *fakeSource) SubscribeTelemetry(fn func(telemetry.Sample)) func() {
	f.sample = fn
	return func() { f.unsubs++ }
}

func (f *fakeSource) SubscribeNotifications(fn func(session.Notification)) func() {
	f.note = fn
	return func() { f.unsubs++ }
}

func (f *fakeSource) SubscribeStatus(fn func(session.StatusEvent)) func() {
	f.status = fn
	return func() { f.unsubs++ }
}

func TestBridge(t *testing.T) {
	src := &fakeSource{}
	b := NewBridge(src)

	src.status(session.StatusEvent{Status: session.StatusConnecting})
	src.sample(telemetry.Sample{PingMs: 9})
	src.note(session.Notification{Title: "hi"})

	if msg, ok := b.Wait()().(statusMsg); !ok || msg.Status != session.StatusConnecting {
		t.Errorf("first message = %#v", msg)
	}
	if msg, ok := b.Wait()().(sampleMsg); !ok || msg.PingMs != 9 {
		t.Errorf("second message = %#v", msg)
	}
	if msg, ok := b.Wait()().(noteMsg); !ok || msg.Title != "hi" {
		t.Errorf("third message = %#v", msg)
	}

	b.Close()
	if src.unsubs != 3 {
		t.Errorf("unsubscribed %d, want 3", src.unsubs)
	}
}
