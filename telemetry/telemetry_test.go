package telemetry

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestComputeRate(t *testing.T) {
	tests := []struct {
		name    string
		prev    uint64
		cur     uint64
		elapsed time.Duration
		want    float64
	}{
		{"one megabit", 0, 131072, time.Second, 1},
		{"eight megabit", 1000, 1000 + 1_048_576, time.Second, 8},
		{"idle", 500, 500, time.Second, 0},
		{"wraparound uses current", 10_000_000, 131072, time.Second, 1},
		{"floored elapsed", 0, 13107, 0, 13107 * 8 / (1_048_576 * 0.1)},
		{"negative elapsed", 0, 13107, -time.Second, 13107 * 8 / (1_048_576 * 0.1)},
		{"two seconds", 0, 262144, 2 * time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRate(tt.prev, tt.cur, tt.elapsed)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeRate() = %v, want %v", got, tt.want)
			}
			if got < 0 {
				t.Errorf("ComputeRate() = %v, must not be negative", got)
			}
		})
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(2)

	for i := 0; i < 2; i++ {
		if !q.Push(Sample{PingMs: i}) {
			t.Fatalf("Push(%d) rejected below capacity", i)
		}
	}
	if q.Push(Sample{PingMs: 99}) {
		t.Error("Push() accepted beyond capacity")
	}
	if q.Len() != 2 || q.Dropped() != 1 {
		t.Errorf("Len() = %d, Dropped() = %d", q.Len(), q.Dropped())
	}

	// The oldest samples are kept; the overflow sample is gone.
	if s := <-q.C(); s.PingMs != 0 {
		t.Errorf("first sample = %d, want 0", s.PingMs)
	}

	if n := q.Drain(); n != 1 {
		t.Errorf("Drain() = %d, want 1", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Drain = %d", q.Len())
	}
}

func TestParseLatency(t *testing.T) {
	tests := []struct {
		output  string
		want    float64
		wantErr bool
	}{
		{"64 bytes from 8.8.8.8: icmp_seq=1 ttl=117 time=12.4 ms", 12.4, false},
		{"64 bytes from 1.1.1.1: icmp_seq=1 ttl=57 time=9 ms", 9, false},
		{"64 bytes from 127.0.0.1: icmp_seq=1 ttl=64 time<1 ms", 1, false},
		{"1 packets transmitted, 0 received, 100% packet loss", 0, true},
	}

	for _, tt := range tests {
		got, err := parseLatency([]byte(tt.output))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLatency(%q) error = %v", tt.output, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLatency(%q) = %v, want %v", tt.output, got, tt.want)
		}
	}
}

type fakeCounters struct {
	mu     sync.Mutex
	values []Counters
	calls  int
	err    error
}

func (f *fakeCounters) Read(context.Context) (Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Counters{}, f.err
	}
	i := f.calls
	if i >= len(f.values) {
		i = len(f.values) - 1
	}
	f.calls++
	return f.values[i], nil
}

type fakePinger struct {
	rtt time.Duration
	err error
}

func (f fakePinger) Ping(context.Context) (time.Duration, error) {
	return f.rtt, f.err
}

// steppingClock advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func TestMonitor_ProducesSamples(t *testing.T) {
	counters := &fakeCounters{values: []Counters{
		{BytesSent: 0, BytesRecv: 0},
		{BytesSent: 65536, BytesRecv: 131072},
		{BytesSent: 131072, BytesRecv: 262144},
	}}
	q := NewQueue(8)
	m := NewMonitor(q, Options{
		Interval: 10 * time.Millisecond,
		Counters: counters,
		Pinger:   fakePinger{rtt: 23 * time.Millisecond},
		Now:      steppingClock(500 * time.Millisecond),
	})

	m.Start()
	if !m.IsRunning() {
		t.Error("Monitor should be running after Start()")
	}

	var s Sample
	select {
	case s = <-q.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no sample produced")
	}
	m.Stop()

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop()")
	}
	if m.IsRunning() {
		t.Error("Monitor should not be running after Stop()")
	}

	// Baseline at t+0.5s, first tick reads at t+1.0s: 131072 bytes over 0.5s.
	if math.Abs(s.DownloadMbps-2) > 1e-9 {
		t.Errorf("DownloadMbps = %v, want 2", s.DownloadMbps)
	}
	if math.Abs(s.UploadMbps-1) > 1e-9 {
		t.Errorf("UploadMbps = %v, want 1", s.UploadMbps)
	}
	if s.PingMs != 23 {
		t.Errorf("PingMs = %d, want 23", s.PingMs)
	}
	if s.SampledAt.IsZero() {
		t.Error("SampledAt not set")
	}
}

func TestMonitor_FailuresYieldZero(t *testing.T) {
	q := NewQueue(4)
	m := NewMonitor(q, Options{
		Interval: 10 * time.Millisecond,
		Counters: &fakeCounters{err: errors.New("no counters")},
		Pinger:   fakePinger{err: errors.New("unreachable")},
	})

	m.Start()
	defer m.Stop()

	select {
	case s := <-q.C():
		if s.DownloadMbps != 0 || s.UploadMbps != 0 || s.PingMs != 0 {
			t.Errorf("sample = %+v, want zero values", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no sample produced")
	}
}

func TestMonitor_FullQueueDoesNotBlock(t *testing.T) {
	q := NewQueue(1)
	m := NewMonitor(q, Options{
		Interval: 5 * time.Millisecond,
		Counters: &fakeCounters{values: []Counters{{}}},
		Pinger:   fakePinger{},
	})

	m.Start()
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("sampler blocked on a full queue")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if q.Dropped() == 0 {
		t.Error("expected dropped samples")
	}
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	m := NewMonitor(NewQueue(1), Options{Counters: &fakeCounters{values: []Counters{{}}}, Pinger: fakePinger{}})
	m.Stop()
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()
}
