package vpn

import (
	"bufio"
	"strings"

	"github.com/kingzvpn/client/common"
)

// ConnectedMarker is the line OpenVPN prints once the tunnel is up.
const ConnectedMarker = "initialization sequence completed"

// LineKind classifies one line of VPN output.
type LineKind int

const (
	LineInfo LineKind = iota
	LineWarning
	LineConnected
)

var warningMarkers = []string{"error", "fatal", "warn", "auth_failed"}

// ClassifyLine reports what a single output line means. The connected
// marker takes precedence over warning keywords.
func ClassifyLine(line string) LineKind {
	lower := strings.ToLower(line)
	if strings.Contains(lower, ConnectedMarker) {
		return LineConnected
	}
	for _, marker := range warningMarkers {
		if strings.Contains(lower, marker) {
			return LineWarning
		}
	}
	return LineInfo
}

// MonitorCallbacks receive events from Monitor. Nil callbacks are skipped.
type MonitorCallbacks struct {
	// OnLine receives every output line.
	OnLine func(line string)
	// OnWarning receives lines mentioning errors or warnings.
	OnWarning func(line string)
	// OnConnected fires once, on the first connected marker.
	OnConnected func()
	// OnExit fires after the output ends and the process exits, unless stop
	// was signalled first. err is the process wait error.
	OnExit func(err error)
}

// Monitor reads the process output line by line until EOF, checking stop
// between lines. It blocks; run it on its own goroutine.
func Monitor(h *Handle, stop <-chan struct{}, cb MonitorCallbacks) {
	scanner := bufio.NewScanner(h.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	connected := false
	for scanner.Scan() {
		select {
		case <-stop:
			return
		default:
		}

		line := scanner.Text()
		common.LogDebug("OpenVPN: %s", line)
		if cb.OnLine != nil {
			cb.OnLine(line)
		}

		switch ClassifyLine(line) {
		case LineConnected:
			if !connected {
				connected = true
				common.LogInfo("VPN: Connection established")
				if cb.OnConnected != nil {
					cb.OnConnected()
				}
			}
		case LineWarning:
			if cb.OnWarning != nil {
				cb.OnWarning(line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		common.LogDebug("VPN: Output stream closed: %v", err)
	}

	select {
	case <-h.Done():
	case <-stop:
		return
	}

	select {
	case <-stop:
		return
	default:
	}
	if cb.OnExit != nil {
		cb.OnExit(h.ExitErr())
	}
}
