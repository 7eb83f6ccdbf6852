package session

import (
	"sync"

	"github.com/kingzvpn/client/common"
	"github.com/kingzvpn/client/store"
	"github.com/kingzvpn/client/telemetry"
)

// dispatch is the single consumer of the telemetry queue, the pending
// status transitions and the notification channel. Every subscriber
// callback runs here.
func (s *Session) dispatch() {
	defer close(s.dispatchDone)
	for {
		select {
		case <-s.closed:
			s.flushStatus()
			return
		case <-s.statusReady:
			s.flushStatus()
		case sample := <-s.queue.C():
			for _, fn := range snapshot(&s.subMu, s.telemetrySubs) {
				fn(sample)
			}
		case n := <-s.notes:
			// A transition published before this notification goes first.
			s.flushStatus()
			for _, fn := range snapshot(&s.subMu, s.noteSubs) {
				fn(n)
			}
		}
	}
}

func (s *Session) flushStatus() {
	s.statusMu.Lock()
	pending := s.pendingStatus
	s.pendingStatus = nil
	s.statusMu.Unlock()
	if len(pending) == 0 {
		return
	}

	subs := snapshot(&s.subMu, s.statusSubs)
	for _, ev := range pending {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// snapshot copies the callbacks so they run without the lock held.
func snapshot[T any](mu *sync.RWMutex, subs map[int]func(T)) []func(T) {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]func(T), 0, len(subs))
	for _, fn := range subs {
		out = append(out, fn)
	}
	return out
}

func (s *Session) post(n Notification) {
	select {
	case s.notes <- n:
	default:
		common.LogWarn("Notification queue full, dropping %q", n.Title)
	}
}

func (s *Session) publishStatus(status Status, cfg *store.Config, err error) {
	common.LogDebug("Session status: %s", status)
	s.statusMu.Lock()
	s.pendingStatus = append(s.pendingStatus, StatusEvent{Status: status, Config: cfg, Err: err, At: s.now()})
	s.statusMu.Unlock()

	select {
	case s.statusReady <- struct{}{}:
	default:
	}
}

func (s *Session) notify(level Level, title string, err error) {
	s.post(Notification{Level: level, Title: title, Message: err.Error(), Err: err, At: s.now()})
}

func (s *Session) notifyMessage(level Level, title, message string) {
	s.post(Notification{Level: level, Title: title, Message: message, At: s.now()})
}

// SubscribeTelemetry registers fn for every telemetry sample. Callbacks run
// on the dispatcher goroutine and must not block. The returned function
// unsubscribes.
func (s *Session) SubscribeTelemetry(fn func(telemetry.Sample)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.telemetrySubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.telemetrySubs, id)
	}
}

// SubscribeNotifications registers fn for user-facing notifications.
func (s *Session) SubscribeNotifications(fn func(Notification)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.noteSubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.noteSubs, id)
	}
}

// SubscribeStatus registers fn for status transitions.
func (s *Session) SubscribeStatus(fn func(StatusEvent)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.statusSubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.statusSubs, id)
	}
}
