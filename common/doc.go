// Package common provides shared constants, types, utilities, and interfaces
// used throughout the KingzVPN client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: timeouts, size limits, and file names
//   - Errors: sentinel and typed errors matched with errors.Is
//   - Interfaces: abstractions for credential storage, notifications, and logging
//   - Logger: printf-style logging on top of zap with lumberjack file rotation
//   - Utils: directory resolution, ID generation, and file name sanitizing
//
// # Usage
//
//	common.LogInfo("Importing %s", sourceURL)
//
//	if errors.Is(err, common.ErrDuplicate) {
//	    // already imported, nothing to do
//	}
package common
