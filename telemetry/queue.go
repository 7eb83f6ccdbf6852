package telemetry

import "sync/atomic"

// Queue is a fixed-capacity sample buffer. Push never blocks: when the queue
// is full the new sample is dropped.
type Queue struct {
	ch      chan Sample
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to capacity samples.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan Sample, capacity)}
}

// Push enqueues s and reports whether it was accepted.
func (q *Queue) Push(s Sample) bool {
	select {
	case q.ch <- s:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// C returns the receive side for a single consumer.
func (q *Queue) C() <-chan Sample { return q.ch }

// Len returns the number of buffered samples.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many samples were discarded on overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Drain discards every buffered sample and returns how many were removed.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
