package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/kingzvpn/client/common"
)

// Options configures a Monitor. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Counters CounterSource
	Pinger   PingProbe
	Now      func() time.Time
}

// Monitor samples counters and latency on a fixed cadence until stopped.
type Monitor struct {
	interval time.Duration
	counters CounterSource
	pinger   PingProbe
	now      func() time.Time
	queue    *Queue

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	prev     Counters
	prevAt   time.Time
	havePrev bool
}

// NewMonitor creates a monitor that pushes samples to queue.
func NewMonitor(queue *Queue, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = common.TelemetryInterval
	}
	if opts.Counters == nil {
		opts.Counters = SystemCounters{}
	}
	if opts.Pinger == nil {
		opts.Pinger = NewCommandPinger("", 0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		interval: opts.Interval,
		counters: opts.Counters,
		pinger:   opts.Pinger,
		now:      opts.Now,
		queue:    queue,
	}
}

// Start primes the counter baseline and begins the sampling loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stopChan, m.done
	m.mu.Unlock()

	m.prime()
	common.LogInfo("Telemetry monitor started (interval: %v)", m.interval)

	go m.runLoop(stop, done)
}

// Stop signals the loop to exit. It does not wait; use Done for that.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
	common.LogInfo("Telemetry monitor stopped")
}

// Done is closed when the loop has exited. It is nil before Start.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// IsRunning reports whether the loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) prime() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()
	if c, err := m.counters.Read(ctx); err == nil {
		m.prev, m.prevAt, m.havePrev = c, m.now(), true
	}
}

func (m *Monitor) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := m.sample(stop)
			select {
			case <-stop:
				return
			default:
			}
			if !m.queue.Push(s) {
				common.LogDebug("Telemetry queue full, dropping sample")
			}
		}
	}
}

// sample takes one reading. Probe failures degrade to zero values.
func (m *Monitor) sample(stop <-chan struct{}) Sample {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s := Sample{}

	cur, err := m.counters.Read(ctx)
	now := m.now()
	if err != nil {
		common.LogDebug("Telemetry: counters unavailable: %v", err)
	} else {
		if m.havePrev {
			elapsed := now.Sub(m.prevAt)
			s.DownloadMbps = ComputeRate(m.prev.BytesRecv, cur.BytesRecv, elapsed)
			s.UploadMbps = ComputeRate(m.prev.BytesSent, cur.BytesSent, elapsed)
		}
		m.prev, m.prevAt, m.havePrev = cur, now, true
	}

	if rtt, err := m.pinger.Ping(ctx); err == nil {
		s.PingMs = int(rtt.Round(time.Millisecond) / time.Millisecond)
	}

	s.SampledAt = m.now()
	return s
}
