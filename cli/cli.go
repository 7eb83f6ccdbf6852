// Package cli provides command-line operations for KingzVPN.
// It lets users import, list and connect configurations from the terminal
// without starting the interactive interface.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/history"
	"github.com/kingzvpn/client/session"
	"github.com/kingzvpn/client/telemetry"
)

// HistorySource lists recent session events. *history.Log implements it.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

// CLI runs one command against a session.
type CLI struct {
	session *session.Session
	history HistorySource
	out     io.Writer
	in      *bufio.Reader

	// readPassword reads a secret without echo.
	readPassword func() (string, error)
}

// New creates a CLI writing to stdout. hist may be nil.
func New(s *session.Session, hist HistorySource) *CLI {
	return &CLI{
		session:      s,
		history:      hist,
		out:          &lockedWriter{w: os.Stdout},
		in:           bufio.NewReader(os.Stdin),
		readPassword: readTerminalPassword,
	}
}

// lockedWriter serializes writes from the dispatcher and the caller.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// ListConfigs lists all stored configurations.
func (c *CLI) ListConfigs() error {
	configs := c.session.ListConfigs()
	if len(configs) == 0 {
		fmt.Fprintln(c.out, "No configurations imported.")
		fmt.Fprintln(c.out, "Use --import URL or --import-file PATH to add one.")
		return nil
	}

	active := c.session.Active()
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROTOCOL\tSTATUS\tIMPORTED")
	fmt.Fprintln(w, "--\t----\t--------\t------\t--------")

	for _, cfg := range configs {
		status := "-"
		if active != nil && active.ID == cfg.ID {
			status = c.session.Status().String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			common.ShortID(cfg.ID), cfg.Name, cfg.Protocol, status,
			cfg.ImportedAt.Local().Format("2006-01-02 15:04"))
	}

	return w.Flush()
}

// Import downloads and stores a configuration.
func (c *CLI) Import(ctx context.Context, rawURL string) error {
	cfg, err := c.session.ImportFromURL(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Imported %s (%s) as %s\n", cfg.Name, cfg.Protocol, common.ShortID(cfg.ID))
	return nil
}

// ImportFile stores a configuration read from disk.
func (c *CLI) ImportFile(path string) error {
	cfg, err := c.session.ImportFile(path)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Imported %s (%s) as %s\n", cfg.Name, cfg.Protocol, common.ShortID(cfg.ID))
	return nil
}

// Delete removes a configuration by name or ID.
func (c *CLI) Delete(ref string) error {
	cfg, err := c.session.FindConfig(ref)
	if err != nil {
		return err
	}
	if err := c.session.DeleteConfig(cfg.ID); err != nil {
		return fmt.Errorf("failed to delete %s: %w", cfg.Name, err)
	}
	fmt.Fprintf(c.out, "✓ Deleted %s\n", cfg.Name)
	return nil
}

// Connect connects and blocks until ctx is cancelled or the tunnel fails.
// Telemetry samples are printed while connected.
func (c *CLI) Connect(ctx context.Context, ref string) error {
	cfg, err := c.session.FindConfig(ref)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	unsubStatus := c.session.SubscribeStatus(func(ev session.StatusEvent) {
		switch ev.Status {
		case session.StatusConnected:
			if pid, err := c.session.PID(); err == nil {
				fmt.Fprintf(c.out, "✓ Connected to %s (pid %d, Ctrl-C to disconnect)\n", cfg.Name, pid)
			} else {
				fmt.Fprintf(c.out, "✓ Connected to %s\n", cfg.Name)
			}
		case session.StatusError:
			select {
			case failed <- ev.Err:
			default:
			}
		}
	})
	defer unsubStatus()

	unsubTelemetry := c.session.SubscribeTelemetry(func(s telemetry.Sample) {
		fmt.Fprintln(c.out, formatSample(s))
	})
	defer unsubTelemetry()

	unsubNotes := c.session.SubscribeNotifications(func(n session.Notification) {
		if n.Level == session.LevelWarning {
			fmt.Fprintf(c.out, "  ! %s\n", n.Message)
		}
	})
	defer unsubNotes()

	fmt.Fprintf(c.out, "Connecting to %s...\n", cfg.Name)
	if err := c.session.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintf(c.out, "Disconnecting from %s...\n", cfg.Name)
		if err := c.session.Disconnect(); err != nil {
			return fmt.Errorf("failed to disconnect: %w", err)
		}
		fmt.Fprintf(c.out, "✓ Disconnected from %s\n", cfg.Name)
		return nil
	case err := <-failed:
		if err == nil {
			err = errors.New("vpn process exited")
		}
		return fmt.Errorf("connection failed: %w", err)
	}
}

// Status shows the session status and recent history.
func (c *CLI) Status(ctx context.Context) error {
	status := c.session.Status()
	if active := c.session.Active(); active != nil {
		fmt.Fprintf(c.out, "Status: %s (%s)\n", status, active.Name)
	} else {
		fmt.Fprintf(c.out, "Status: %s\n", status)
	}
	fmt.Fprintf(c.out, "Configurations: %d\n", len(c.session.ListConfigs()))

	if c.history == nil {
		return nil
	}
	events, err := c.history.Recent(ctx, 10)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(c.out)
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tEVENT\tCONFIG\tMESSAGE")
	fmt.Fprintln(w, "----\t-----\t------\t-------")
	for _, ev := range events {
		fmt.Fprintf(w, "%s ago\t%s\t%s\t%s\n",
			formatDuration(time.Since(ev.At)), ev.Kind, common.ShortID(ev.ConfigID), ev.Message)
	}
	return w.Flush()
}

// SetCredentials prompts for and stores OpenVPN credentials.
func (c *CLI) SetCredentials(ref string) error {
	cfg, err := c.session.FindConfig(ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Username for %s: ", cfg.Name)
	username, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(c.out, "Password: ")
	password, err := c.readPassword()
	fmt.Fprintln(c.out)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	if err := c.session.SetCredentials(cfg.ID, common.Credentials{Username: username, Password: password}); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Credentials saved for %s\n", cfg.Name)
	return nil
}

func readTerminalPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	secret, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func formatSample(s telemetry.Sample) string {
	ping := "n/a"
	if s.PingMs > 0 {
		ping = fmt.Sprintf("%d ms", s.PingMs)
	}
	return fmt.Sprintf("  ↓ %6.2f Mbps  ↑ %6.2f Mbps  ping %s", s.DownloadMbps, s.UploadMbps, ping)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// PrintHelp prints CLI usage help.
func PrintHelp() {
	fmt.Println(`KingzVPN - VPN client

Usage:
  kingzvpn [OPTIONS]

Options:
  --version               Show version and exit
  --verbose               Enable verbose logging
  --no-prepare            Skip creating directories and probing the VPN binary at startup
  --tui                   Start the terminal interface (default with no command)
  --list                  List imported configurations
  --import URL            Import a configuration from a URL
  --import-file PATH      Import a configuration file
  --delete ID|NAME        Delete a configuration
  --connect ID|NAME       Connect and stay connected until Ctrl-C
  --status                Show connection status and recent history
  --set-credentials ID    Store an OpenVPN username and password
  --help                  Show this help message

Examples:
  kingzvpn --import https://example.com/frankfurt.ovpn
  kingzvpn --list
  kingzvpn --connect frankfurt

Notes:
  - Only OpenVPN configurations can be connected; other formats are stored
  - Run without options to launch the terminal interface`)
}
