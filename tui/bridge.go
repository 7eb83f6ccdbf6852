package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/session"
	"github.com/kingzvpn/client/telemetry"
)

type statusMsg session.StatusEvent

type sampleMsg telemetry.Sample

type noteMsg session.Notification

// Source publishes session events. *session.Session implements it.
type Source interface {
	SubscribeTelemetry(fn func(telemetry.Sample)) func()
	SubscribeNotifications(fn func(session.Notification)) func()
	SubscribeStatus(fn func(session.StatusEvent)) func()
}

// Bridge turns session callbacks into tea messages on one channel.
// Callbacks never block: when the program falls behind, events are dropped.
type Bridge struct {
	ch     chan tea.Msg
	unsubs []func()
}

// NewBridge subscribes to src.
func NewBridge(src Source) *Bridge {
	b := &Bridge{ch: make(chan tea.Msg, common.NotificationQueueSize)}
	b.unsubs = []func(){
		src.SubscribeStatus(func(ev session.StatusEvent) { b.push(statusMsg(ev)) }),
		src.SubscribeTelemetry(func(s telemetry.Sample) { b.push(sampleMsg(s)) }),
		src.SubscribeNotifications(func(n session.Notification) { b.push(noteMsg(n)) }),
	}
	return b
}

func (b *Bridge) push(msg tea.Msg) {
	select {
	case b.ch <- msg:
	default:
		common.LogDebug("TUI: event queue full, dropping %T", msg)
	}
}

// Wait returns a command that delivers the next event.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return <-b.ch
	}
}

// Close unsubscribes from the source.
func (b *Bridge) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}
