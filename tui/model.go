// Package tui is the terminal presentation layer. It owns all presentation
// state; session events reach it only as tea messages.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/session"
	"github.com/kingzvpn/client/store"
	"github.com/kingzvpn/client/telemetry"
)

const maxNotes = 4

// Core is the part of the session the TUI drives.
type Core interface {
	ListConfigs() []*store.Config
	Connect(ctx context.Context, cfg *store.Config) error
	Disconnect() error
	DeleteConfig(id string) error
	ImportFromURL(ctx context.Context, rawURL string) (*store.Config, error)
	Status() session.Status
	Active() *store.Config
}

// resultMsg reports the outcome of a Core call made from a command.
type resultMsg struct {
	op  string
	err error
}

// Model is the bubbletea model.
type Model struct {
	core   Core
	bridge *Bridge

	configs   []*store.Config
	table     table.Model
	spinner   spinner.Model
	input     textinput.Model
	importing bool

	status  session.Status
	active  *store.Config
	lastErr error
	sample  *telemetry.Sample
	notes   []session.Notification
	width   int
}

// New builds the model. bridge may be nil.
func New(core Core, bridge *Bridge) Model {
	columns := []table.Column{
		{Title: " ", Width: 1},
		{Title: "ID", Width: 8},
		{Title: "Name", Width: 28},
		{Title: "Protocol", Width: 12},
		{Title: "Imported", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = warnStyle

	in := textinput.New()
	in.Placeholder = "https://example.com/client.ovpn"
	in.Prompt = "Import URL: "
	in.CharLimit = 2048

	m := Model{
		core:    core,
		bridge:  bridge,
		table:   t,
		spinner: sp,
		input:   in,
		status:  core.Status(),
		active:  core.Active(),
	}
	m.refresh()
	return m
}

// Init starts the spinner and the event bridge.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.bridge != nil {
		cmds = append(cmds, m.bridge.Wait())
	}
	return tea.Batch(cmds...)
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		if h := msg.Height - 12; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		if m.importing {
			return m.updateImport(msg)
		}
		return m.updateKeys(msg)

	case statusMsg:
		m.status = msg.Status
		m.active = msg.Config
		if msg.Status == session.StatusError {
			m.lastErr = msg.Err
		} else {
			m.lastErr = nil
		}
		if msg.Status != session.StatusConnected {
			m.sample = nil
		}
		m.refresh()
		return m, m.waitBridge()

	case sampleMsg:
		s := telemetry.Sample(msg)
		m.sample = &s
		return m, m.waitBridge()

	case noteMsg:
		m.addNote(session.Notification(msg))
		return m, m.waitBridge()

	case resultMsg:
		if msg.err != nil {
			m.addNote(session.Notification{Level: session.LevelError, Title: msg.op, Message: msg.err.Error(), Err: msg.err, At: time.Now()})
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "enter", "c":
		cfg := m.selected()
		if cfg == nil {
			m.addNote(session.Notification{Level: session.LevelWarning, Title: "Connect", Message: common.ErrNoConfigSelected.Error(), At: time.Now()})
			return m, nil
		}
		return m, m.call("Connect", func() error { return m.core.Connect(context.Background(), cfg) })
	case "d":
		return m, m.call("Disconnect", m.core.Disconnect)
	case "x":
		cfg := m.selected()
		if cfg == nil {
			return m, nil
		}
		return m, m.call("Delete", func() error { return m.core.DeleteConfig(cfg.ID) })
	case "r":
		m.refresh()
		return m, nil
	case "i":
		m.importing = true
		m.input.SetValue("")
		cmd := m.input.Focus()
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) updateImport(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.importing = false
		m.input.Blur()
		return m, nil
	case "enter":
		rawURL := strings.TrimSpace(m.input.Value())
		m.importing = false
		m.input.Blur()
		if rawURL == "" {
			return m, nil
		}
		return m, m.call("Import", func() error {
			_, err := m.core.ImportFromURL(context.Background(), rawURL)
			return err
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// call runs fn off the update loop.
func (m Model) call(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return resultMsg{op: op, err: fn()}
	}
}

func (m Model) waitBridge() tea.Cmd {
	if m.bridge == nil {
		return nil
	}
	return m.bridge.Wait()
}

func (m *Model) addNote(n session.Notification) {
	m.notes = append(m.notes, n)
	if len(m.notes) > maxNotes {
		m.notes = m.notes[len(m.notes)-maxNotes:]
	}
}

func (m *Model) refresh() {
	m.configs = m.core.ListConfigs()
	rows := make([]table.Row, 0, len(m.configs))
	for _, cfg := range m.configs {
		marker := " "
		if m.active != nil && m.active.ID == cfg.ID {
			marker = "●"
		}
		rows = append(rows, table.Row{
			marker,
			common.ShortID(cfg.ID),
			cfg.Name,
			cfg.Protocol.String(),
			cfg.ImportedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m Model) selected() *store.Config {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.configs) {
		return nil
	}
	return m.configs[c]
}

// View renders the screen.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(common.AppName))
	b.WriteString("\n\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	if line := m.telemetryLine(); line != "" {
		b.WriteString(statusBarStyle.Render(line))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(m.configs) == 0 {
		b.WriteString(mutedStyle.Render("  No configurations imported. Press i to import from a URL."))
		b.WriteString("\n")
	} else {
		b.WriteString(tableBorder.Render(m.table.View()))
		b.WriteString("\n")
	}

	if m.importing {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	for _, n := range m.notes {
		b.WriteString(renderNote(n))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render("enter/c connect • d disconnect • i import • x delete • r refresh • q quit"))
	return b.String()
}

func (m Model) statusLine() string {
	label := statusStyle(m.status).Render(m.status.String())
	switch m.status {
	case session.StatusConnecting, session.StatusDisconnecting:
		label = m.spinner.View() + " " + label
	}
	if m.active != nil {
		label += mutedStyle.Render(" " + m.active.Name)
	}
	if m.status == session.StatusError && m.lastErr != nil {
		label += " " + errorStyle.Render(m.lastErr.Error())
	}
	return statusBarStyle.Render(label)
}

func (m Model) telemetryLine() string {
	if m.sample == nil || m.status != session.StatusConnected {
		return ""
	}
	ping := "n/a"
	if m.sample.PingMs > 0 {
		ping = fmt.Sprintf("%d ms", m.sample.PingMs)
	}
	return fmt.Sprintf("↓ %.2f Mbps  ↑ %.2f Mbps  ping %s", m.sample.DownloadMbps, m.sample.UploadMbps, ping)
}

func renderNote(n session.Notification) string {
	text := n.Title
	if n.Message != "" {
		text += ": " + n.Message
	}
	var style lipgloss.Style
	switch n.Level {
	case session.LevelError:
		style = errorStyle
	case session.LevelWarning:
		style = warnStyle
	default:
		style = mutedStyle
	}
	return statusBarStyle.Render(style.Render(text))
}

// Run starts the program and blocks until the user quits.
func Run(core Core, src Source) error {
	bridge := NewBridge(src)
	defer bridge.Close()

	p := tea.NewProgram(New(core, bridge), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
