// Package config provides configuration management for KingzVPN.
// It handles loading, saving, and managing application settings.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingzvpn/client/common"
)

// EnvConfigPath overrides the location of the settings file.
const EnvConfigPath = "KINGZVPN_CONFIG"

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// VPNBinary is the OpenVPN executable name or path.
	VPNBinary string `yaml:"vpn_binary"`
	// ConfigsDir holds persisted .ovpn files. Empty means <data dir>/configs.
	ConfigsDir string `yaml:"configs_dir"`
	// RetentionDays is the age after which unreferenced config files are swept.
	RetentionDays int `yaml:"retention_days"`
	// TelemetryInterval is the sampling cadence while connected.
	TelemetryInterval time.Duration `yaml:"telemetry_interval"`
	// PingHost is the latency probe target.
	PingHost string `yaml:"ping_host"`
	// PingTimeout bounds a single latency probe.
	PingTimeout time.Duration `yaml:"ping_timeout"`
	// TerminateTimeout is the grace period before the VPN process is killed.
	TerminateTimeout time.Duration `yaml:"terminate_timeout"`
	// JoinTimeout bounds the wait for each background worker on disconnect.
	JoinTimeout time.Duration `yaml:"join_timeout"`
	// TelemetryQueueSize is the capacity of the lossy sample queue.
	TelemetryQueueSize int `yaml:"telemetry_queue_size"`
	// FetchTimeout is the request timeout for URL imports.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// FetchMaxBytes caps the body of a URL import.
	FetchMaxBytes int64 `yaml:"fetch_max_bytes"`
	// FetchProxy optionally routes URL imports through a proxy (socks5://host:port).
	FetchProxy string `yaml:"fetch_proxy,omitempty"`
	// MaxDecodedChars caps fetched and decoded text.
	MaxDecodedChars int `yaml:"max_decoded_chars"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		VPNBinary:          common.DefaultVPNBinary,
		RetentionDays:      int(common.RetentionPeriod / (24 * time.Hour)),
		TelemetryInterval:  common.TelemetryInterval,
		PingHost:           common.DefaultPingHost,
		PingTimeout:        common.PingTimeout,
		TerminateTimeout:   common.TerminateTimeout,
		JoinTimeout:        common.JoinTimeout,
		TelemetryQueueSize: common.TelemetryQueueSize,
		FetchTimeout:       common.FetchTimeout,
		FetchMaxBytes:      common.FetchMaxBytes,
		MaxDecodedChars:    common.MaxDecodedChars,
		ShowNotifications:  true,
		LogLevel:           "info",
	}
}

// Load loads the configuration from the default location.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration stored at configPath.
func LoadFrom(configPath string) (*Config, error) {
	// If it doesn't exist, write and return the default configuration
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening configuration: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := *DefaultConfig()
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: error parsing configuration: %v", common.ErrConfigLoad, err)
	}

	config.validate()
	return &config, nil
}

// validate clamps out-of-range values back to their defaults.
func (c *Config) validate() {
	def := DefaultConfig()

	if c.VPNBinary == "" {
		c.VPNBinary = def.VPNBinary
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
	if c.TelemetryInterval < 100*time.Millisecond {
		c.TelemetryInterval = def.TelemetryInterval
	}
	if c.PingHost == "" {
		c.PingHost = def.PingHost
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = def.TerminateTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = def.JoinTimeout
	}
	if c.TelemetryQueueSize <= 0 {
		c.TelemetryQueueSize = def.TelemetryQueueSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.FetchMaxBytes <= 0 {
		c.FetchMaxBytes = def.FetchMaxBytes
	}
	if c.MaxDecodedChars <= 0 {
		c.MaxDecodedChars = def.MaxDecodedChars
	}
	if c.FetchProxy != "" {
		if u, err := url.Parse(c.FetchProxy); err != nil || u.Host == "" {
			common.LogWarn("Ignoring invalid fetch_proxy %q", c.FetchProxy)
			c.FetchProxy = ""
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = def.LogLevel // Fallback to default
	}
}

// Retention returns the retention period as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ResolveConfigsDir returns the configured directory, or <data dir>/configs.
func (c *Config) ResolveConfigsDir() (string, error) {
	if c.ConfigsDir != "" {
		return c.ConfigsDir, nil
	}
	dataDir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, common.ConfigsDirName), nil
}

// Save saves the configuration to the default location.
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to configPath.
func (c *Config) SaveTo(configPath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: error saving configuration: %v", common.ErrConfigSave, err)
	}

	return nil
}

// Path returns the settings file location, honouring KINGZVPN_CONFIG.
func Path() (string, error) {
	if override := os.Getenv(EnvConfigPath); override != "" {
		return override, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
