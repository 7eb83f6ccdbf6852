// Package common provides shared constants, types, and utilities
// used across the KingzVPN client.
package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Session errors.
	ErrNoConfigSelected    = errors.New("no configuration selected")
	ErrToolMissing         = errors.New("vpn executable not found")
	ErrAlreadyConnecting   = errors.New("connection attempt already in progress")
	ErrUnsupportedProtocol = errors.New("protocol not supported for connection")
	ErrNotRunning          = errors.New("no running vpn process")
	ErrAlreadyLaunched     = errors.New("vpn process already launched")

	// Config store errors.
	ErrValidation     = errors.New("invalid configuration")
	ErrDuplicate      = errors.New("configuration already imported")
	ErrConfigNotFound = errors.New("configuration not found")

	// Network errors.
	ErrNetwork = errors.New("network fetch failed")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")

	// Configuration file errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// ValidationError reports a malformed or incomplete configuration.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DuplicateError reports that an equivalent configuration is already stored.
type DuplicateError struct {
	ExistingID   string
	ExistingName string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("configuration already imported as %q", e.ExistingName)
}

// Is matches ErrDuplicate.
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
