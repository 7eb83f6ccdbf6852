// Package telemetry samples network throughput and latency while a VPN
// session is active and hands the samples to a bounded, lossy queue.
package telemetry

import "time"

const (
	bitsPerByte  = 8
	bytesPerMbit = 1_048_576
	// minElapsed floors the sampling interval to avoid division blow-up on
	// a fast clock tick.
	minElapsed = 100 * time.Millisecond
)

// Sample is one telemetry snapshot.
type Sample struct {
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	PingMs       int       `json:"ping_ms"`
	SampledAt    time.Time `json:"sampled_at"`
}

// ComputeRate converts a counter delta over elapsed time into Mbit/s. A
// counter that went backwards (wraparound or interface reset) contributes
// its raw current value instead of a negative delta.
func ComputeRate(prev, cur uint64, elapsed time.Duration) float64 {
	var delta uint64
	if cur >= prev {
		delta = cur - prev
	} else {
		delta = cur
	}
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(delta) * bitsPerByte / (bytesPerMbit * elapsed.Seconds())
}
