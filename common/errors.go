// Package common provides shared constants, types, and utilities
// used across the VPN orchestrator.
package common

import "errors"

// Sentinel errors for session operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Request errors, returned synchronously to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials: server address and token are required")
	ErrAlreadyRunning     = errors.New("session already running")
	ErrClosed             = errors.New("orchestrator is shut down")

	// Session failures. These end the session; they are recorded on it and
	// never propagate past the orchestrator.
	ErrEngineConnect     = errors.New("engine connect failed")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrInterface         = errors.New("interface establishment failed")
	ErrEngineLink        = errors.New("engine link failed")
	ErrLivenessLost      = errors.New("tunnel liveness lost")

	// Termination causes for externally requested teardown.
	ErrStopped = errors.New("session stopped")
	ErrRevoked = errors.New("tunnel permission revoked")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// Platform errors.
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnsupported      = errors.New("not supported on this platform")
)

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
