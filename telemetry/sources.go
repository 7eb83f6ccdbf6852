package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/net"

	"github.com/kingzvpn/client/common"
)

// Counters are cumulative byte totals across all interfaces.
type Counters struct {
	BytesSent uint64
	BytesRecv uint64
}

// CounterSource reads cumulative network counters.
type CounterSource interface {
	Read(ctx context.Context) (Counters, error)
}

// PingProbe measures round-trip latency to a host.
type PingProbe interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// SystemCounters reads the host's aggregate interface counters.
type SystemCounters struct{}

// Read returns the summed counters of every interface.
func (SystemCounters) Read(ctx context.Context) (Counters, error) {
	stats, err := psnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return Counters{}, err
	}
	if len(stats) == 0 {
		return Counters{}, errors.New("no network counters available")
	}
	return Counters{BytesSent: stats[0].BytesSent, BytesRecv: stats[0].BytesRecv}, nil
}

var timePattern = regexp.MustCompile(`time[=<]([0-9]+\.?[0-9]*)`)

// CommandPinger runs the system ping command once per probe.
type CommandPinger struct {
	Host    string
	Timeout time.Duration
}

// NewCommandPinger creates a pinger for host.
func NewCommandPinger(host string, timeout time.Duration) *CommandPinger {
	if host == "" {
		host = common.DefaultPingHost
	}
	if timeout <= 0 {
		timeout = common.PingTimeout
	}
	return &CommandPinger{Host: host, Timeout: timeout}
}

// Ping sends a single echo request.
func (p *CommandPinger) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+time.Second)
	defer cancel()

	wait := int(p.Timeout.Round(time.Second) / time.Second)
	if wait < 1 {
		wait = 1
	}
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", strconv.Itoa(wait), strings.TrimSpace(p.Host))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, err
	}
	ms, err := parseLatency(stdout.Bytes())
	if err != nil {
		return 0, err
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func parseLatency(output []byte) (float64, error) {
	matches := timePattern.FindSubmatch(output)
	if len(matches) != 2 {
		return 0, errors.New("latency not found")
	}
	latency, err := strconv.ParseFloat(string(matches[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse latency %q: %w", matches[1], err)
	}
	return latency, nil
}
