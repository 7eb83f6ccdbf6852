// Package notify delivers session notifications as desktop notifications
// over the org.freedesktop.Notifications D-Bus interface.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/session"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyCall = busName + ".Notify"

	defaultTimeoutMs = 5000

	// sendTimeout bounds one call to the notification daemon.
	sendTimeout = 2 * time.Second
)

// Urgency is the freedesktop urgency hint.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Icon names from the freedesktop icon theme.
const (
	IconVPN             = "network-vpn"
	IconVPNDisconnected = "network-vpn-disconnected"
	IconVPNAcquiring    = "network-vpn-acquiring"
	IconVPNError        = "network-vpn-error"
	IconWarning         = "dialog-warning"
)

// Sender shows one notification.
type Sender interface {
	Send(title, message, icon string, urgency Urgency) error
}

var _ common.Notifier = (*DesktopNotifier)(nil)

// DesktopNotifier implements common.Notifier and Sender on the session bus.
type DesktopNotifier struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	appName string
	timeout int32
	lastID  uint32
}

// NewDesktopNotifier connects to the session bus.
func NewDesktopNotifier(appName string) (*DesktopNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DesktopNotifier{conn: conn, appName: appName, timeout: defaultTimeoutMs}, nil
}

// Notify sends a notification with the default icon.
func (n *DesktopNotifier) Notify(title, message string) error {
	return n.Send(title, message, IconVPN, UrgencyNormal)
}

// NotifyWithIcon sends a notification with a custom icon.
func (n *DesktopNotifier) NotifyWithIcon(title, message, icon string) error {
	return n.Send(title, message, icon, UrgencyNormal)
}

// Send calls Notify on the notification daemon. Successive notifications
// replace the previous one so a flapping tunnel does not stack popups.
func (n *DesktopNotifier) Send(title, message, icon string, urgency Urgency) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	obj := n.conn.Object(busName, objectPath)
	call := obj.CallWithContext(ctx, notifyCall, 0,
		n.appName,
		n.lastID,
		icon,
		title,
		message,
		[]string{},
		hints(urgency),
		n.timeout,
	)
	if call.Err != nil {
		return fmt.Errorf("notification failed: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notification failed: %w", err)
	}
	n.lastID = id
	return nil
}

// Close releases the bus connection.
func (n *DesktopNotifier) Close() error {
	return n.conn.Close()
}

func hints(urgency Urgency) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"urgency":  dbus.MakeVariant(byte(urgency)),
		"category": dbus.MakeVariant("network"),
	}
}

// Style picks the icon and urgency for a session notification.
func Style(note session.Notification) (string, Urgency) {
	switch note.Level {
	case session.LevelError:
		return IconVPNError, UrgencyCritical
	case session.LevelWarning:
		return IconWarning, UrgencyNormal
	}
	switch note.Title {
	case "Connected":
		return IconVPN, UrgencyLow
	case "Disconnected":
		return IconVPNDisconnected, UrgencyLow
	}
	return IconVPN, UrgencyLow
}

// Forward returns a session notification subscriber that shows each
// notification through s. Failures are logged only.
func Forward(s Sender) func(session.Notification) {
	return func(note session.Notification) {
		icon, urgency := Style(note)
		if err := s.Send(common.AppName+": "+note.Title, note.Message, icon, urgency); err != nil {
			common.LogDebug("Desktop notification failed: %v", err)
		}
	}
}

// ForwardStatus returns a status subscriber that announces connection
// attempts, which have no session notification of their own.
func ForwardStatus(s Sender) func(session.StatusEvent) {
	return func(ev session.StatusEvent) {
		if ev.Status != session.StatusConnecting || ev.Config == nil {
			return
		}
		msg := "Connecting to " + ev.Config.Name + "..."
		if err := s.Send(common.AppName+": Connecting", msg, IconVPNAcquiring, UrgencyLow); err != nil {
			common.LogDebug("Desktop notification failed: %v", err)
		}
	}
}
