package session

import (
	"time"

	"github.com/kingzvpn/client/store"
)

// Status is the session state.
type Status int

const (
	// StatusIdle indicates no active connection.
	StatusIdle Status = iota
	// StatusConnecting indicates the VPN process is running but the tunnel
	// is not up yet.
	StatusConnecting
	// StatusConnected indicates an established tunnel.
	StatusConnected
	// StatusDisconnecting indicates the connection is being torn down.
	StatusDisconnecting
	// StatusError indicates the last connection failed.
	StatusError
)

// String returns a human-readable representation of the session status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting..."
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Level is the severity of a notification.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a user-facing message.
type Notification struct {
	Level   Level
	Title   string
	Message string
	Err     error
	At      time.Time
}

// StatusEvent records a status transition.
type StatusEvent struct {
	Status Status
	Config *store.Config
	Err    error
	At     time.Time
}
