// Package common provides shared constants, types, and utilities
// used across the KingzVPN client.
package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "KingzVPN"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "kingzvpn"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	IndexFileName       = "configs.yaml"
	HistoryFileName     = "history.db"
	CredentialsFileName = ".credentials"
	LogFileName         = "kingzvpn.log"
	ConfigsDirName      = "configs"
	OpenVPNExtension    = ".ovpn"
)

// Default timeouts and intervals.
const (
	// ProbeTimeout bounds the VPN executable version probe.
	ProbeTimeout = 3 * time.Second
	// TerminateTimeout is how long a graceful stop may take before a forced kill.
	TerminateTimeout = 5 * time.Second
	// JoinTimeout bounds the wait for each background activity on disconnect.
	JoinTimeout = 2 * time.Second
	// TelemetryInterval is the telemetry sampling cadence.
	TelemetryInterval = 1 * time.Second
	// PingTimeout bounds a single latency probe.
	PingTimeout = 2 * time.Second
	// FetchTimeout is the request timeout for remote imports.
	FetchTimeout = 30 * time.Second
	// WarningInterval is the minimum gap between OpenVPN warning notifications.
	WarningInterval = 1 * time.Second
	// RetentionPeriod is the age after which orphaned config files are swept.
	RetentionPeriod = 7 * 24 * time.Hour
)

// Size limits.
const (
	// FetchMaxBytes caps a remote import body.
	FetchMaxBytes = 1 << 20
	// MaxDecodedChars caps decoded text handed to the detector.
	MaxDecodedChars = 50000
	// TelemetryQueueSize is the capacity of the telemetry queue.
	TelemetryQueueSize = 16
	// NotificationQueueSize is the capacity of the notification channel.
	NotificationQueueSize = 64
)

// Defaults for the external tools.
const (
	DefaultVPNBinary = "openvpn"
	DefaultPingHost  = "8.8.8.8"
)
