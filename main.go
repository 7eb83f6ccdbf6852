// Package main provides the entry point for the KingzVPN client.
// KingzVPN imports VPN configurations from links, files or pasted text,
// recognises their protocol, and runs OpenVPN for the selected one while
// reporting live throughput and latency.
//
// Usage:
//
//	kingzvpn [options]
//
// Environment:
//
//	Connecting requires OpenVPN to be installed on the system.
//	KINGZVPN_CONFIG overrides the settings file location.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/kingzvpn/client/cli"
	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/config"
	"github.com/kingzvpn/client/fetch"
	"github.com/kingzvpn/client/history"
	"github.com/kingzvpn/client/keyring"
	"github.com/kingzvpn/client/notify"
	"github.com/kingzvpn/client/session"
	"github.com/kingzvpn/client/store"
	"github.com/kingzvpn/client/telemetry"
	"github.com/kingzvpn/client/tui"
	"github.com/kingzvpn/client/vpn"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	noPrepare   = flag.Bool("no-prepare", false, "Skip creating directories and probing the VPN binary")
	runTUI      = flag.Bool("tui", false, "Start the terminal interface")

	listConfigs    = flag.Bool("list", false, "List imported configurations")
	importURL      = flag.String("import", "", "Import a configuration from a URL")
	importFile     = flag.String("import-file", "", "Import a configuration file")
	deleteConfig   = flag.String("delete", "", "Delete a configuration by ID or name")
	connectConfig  = flag.String("connect", "", "Connect to a configuration by ID or name")
	showStatus     = flag.Bool("status", false, "Show connection status and recent history")
	setCredentials = flag.String("set-credentials", "", "Store OpenVPN credentials for a configuration")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showHelp {
		cli.PrintHelp()
		return 0
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logLevel := common.ParseLogLevel(cfg.LogLevel)
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:      logLevel,
		EnableFile: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	// The TUI owns the terminal; log only to the file there.
	if isTUIMode() {
		common.GetLogger().SetOutput(io.Discard)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if !*noPrepare {
		prepare(ctx, cfg)
	}

	app, err := newApp(cfg)
	if err != nil {
		common.LogError("Startup failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.close()

	common.LogInfo("Starting %s v%s", common.AppName, appVersion)

	if isTUIMode() {
		if err := tui.Run(app.session, app.session); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if err := runCLI(ctx, cli.New(app.session, app.history)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func isTUIMode() bool {
	if *runTUI {
		return true
	}
	return !*listConfigs && *importURL == "" && *importFile == "" && *deleteConfig == "" &&
		*connectConfig == "" && !*showStatus && *setCredentials == ""
}

// runCLI handles command-line interface operations.
func runCLI(ctx context.Context, c *cli.CLI) error {
	switch {
	case *importURL != "":
		return c.Import(ctx, *importURL)
	case *importFile != "":
		return c.ImportFile(*importFile)
	case *deleteConfig != "":
		return c.Delete(*deleteConfig)
	case *setCredentials != "":
		return c.SetCredentials(*setCredentials)
	case *connectConfig != "":
		return c.Connect(ctx, *connectConfig)
	case *listConfigs:
		return c.ListConfigs()
	case *showStatus:
		return c.Status(ctx)
	}
	return nil
}

// prepare creates the data directories and checks the VPN binary.
// Failures only warn: listing and importing work without OpenVPN.
func prepare(ctx context.Context, cfg *config.Config) {
	if _, err := common.GetDataDir(); err != nil {
		common.LogWarn("Could not create data directory: %v", err)
	}
	if dir, err := cfg.ResolveConfigsDir(); err == nil {
		if err := common.EnsureDir(dir); err != nil {
			common.LogWarn("Could not create configs directory: %v", err)
		}
	}

	sup := vpn.NewSupervisor(vpn.Options{Binary: cfg.VPNBinary})
	if err := sup.Probe(ctx); err != nil {
		common.LogWarn("%v", err)
		fmt.Fprintf(os.Stderr, "Warning: %s was not found; connecting will fail until it is installed.\n", cfg.VPNBinary)
	}
}

// app holds the long-lived components.
type app struct {
	session  *session.Session
	history  *history.Log
	notifier *notify.DesktopNotifier
}

func newApp(cfg *config.Config) (*app, error) {
	dataDir, err := common.GetDataDir()
	if err != nil {
		return nil, err
	}
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	configsDir, err := cfg.ResolveConfigsDir()
	if err != nil {
		return nil, err
	}

	st, err := store.New(
		filepath.Join(dataDir, common.IndexFileName),
		configsDir,
		store.WithRetention(cfg.Retention()),
		store.WithWarningHandler(func(msg string) { common.LogWarn("%s", msg) }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open config store: %w", err)
	}

	a := &app{}
	opts := session.Options{
		VPN: vpn.Options{
			Binary:           cfg.VPNBinary,
			TerminateTimeout: cfg.TerminateTimeout,
		},
		Telemetry: telemetry.Options{
			Interval: cfg.TelemetryInterval,
			Pinger:   telemetry.NewCommandPinger(cfg.PingHost, cfg.PingTimeout),
		},
		Fetch: fetch.Options{
			Timeout:  cfg.FetchTimeout,
			MaxBytes: cfg.FetchMaxBytes,
			MaxChars: cfg.MaxDecodedChars,
			ProxyURL: cfg.FetchProxy,
		},
		QueueSize:      cfg.TelemetryQueueSize,
		JoinTimeout:    cfg.JoinTimeout,
		Retention:      cfg.Retention(),
		CredentialsDir: filepath.Join(dataDir, "run"),
	}

	if hist, err := history.Open(filepath.Join(dataDir, common.HistoryFileName)); err != nil {
		common.LogWarn("History disabled: %v", err)
	} else {
		a.history = hist
		opts.History = hist
	}

	if creds, err := keyring.New(configDir); err != nil {
		common.LogWarn("Credential storage disabled: %v", err)
	} else {
		opts.Credentials = creds
	}

	a.session = session.New(st, opts)

	if cfg.ShowNotifications {
		if n, err := notify.NewDesktopNotifier(common.AppName); err != nil {
			common.LogDebug("Desktop notifications unavailable: %v", err)
		} else {
			a.notifier = n
			a.session.SubscribeNotifications(notify.Forward(n))
			a.session.SubscribeStatus(notify.ForwardStatus(n))
		}
	}
	return a, nil
}

func (a *app) close() {
	if err := a.session.Close(); err != nil {
		common.LogWarn("Disconnect on shutdown failed: %v", err)
	}
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, shutting down", sig)
		cancel()
	}()
}
