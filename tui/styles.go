package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/kingzvpn/client/session"
)

var (
	colorConnected  = lipgloss.Color("#2ec27e")
	colorConnecting = lipgloss.Color("#e5a50a")
	colorError      = lipgloss.Color("#e01b24")
	colorMuted      = lipgloss.Color("#9a9996")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#3584e4"))

	statusBarStyle = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle     = lipgloss.NewStyle().Foreground(colorMuted)
	warnStyle      = lipgloss.NewStyle().Foreground(colorConnecting)
	errorStyle     = lipgloss.NewStyle().Foreground(colorError)
	helpStyle      = lipgloss.NewStyle().Foreground(colorMuted).Padding(0, 1)

	tableBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted)
)

// statusStyle colors the status label the way the tray icon would.
func statusStyle(s session.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case session.StatusConnected:
		return base.Foreground(colorConnected)
	case session.StatusConnecting, session.StatusDisconnecting:
		return base.Foreground(colorConnecting)
	case session.StatusError:
		return base.Foreground(colorError)
	}
	return base.Foreground(colorMuted)
}
