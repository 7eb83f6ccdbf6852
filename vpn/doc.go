// Package vpn supervises the external OpenVPN process.
//
// # Architecture
//
//   - Supervisor: probes the executable, launches one process and stops it
//     with a two-phase SIGTERM/SIGKILL shutdown
//   - Handle: the running process, its combined output and its exit status
//   - Monitor: reads output line by line and reports warnings, the
//     connected marker and the final exit
//
// # Process lifecycle
//
//	NotStarted -> Launching -> Running -> Terminating -> Stopped
//
// Error is absorbing and reachable from every non-terminal state. A process
// that exits on its own moves from Running to Stopped (status 0) or Error.
//
// # Thread Safety
//
// Supervisor is safe for concurrent use. A Handle's output stream must be
// read by a single Monitor.
package vpn
