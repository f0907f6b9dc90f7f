// Package common provides shared constants, types, and utilities
// used across the VPN orchestrator.
package common

// CredentialStore defines the interface for token storage.
// Implementations may use system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves the token for a server address.
	Store(server, token string) error
	// Get retrieves the token for a server address.
	Get(server string) (string, error)
	// Delete removes the token for a server address.
	Delete(server string) error
}

// NotificationType represents the severity of a status notification.
type NotificationType int

const (
	NotificationInfo NotificationType = iota
	NotificationSuccess
	NotificationWarning
	NotificationError
)

// Notification is a status line published to the user.
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// Notifier publishes status notifications.
// Implementations must not block for long; callers treat publication
// as fire-and-forget.
type Notifier interface {
	Notify(n Notification) error
}

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, args ...interface{})
	// Info logs an informational message.
	Info(msg string, args ...interface{})
	// Warn logs a warning message.
	Warn(msg string, args ...interface{})
	// Error logs an error message.
	Error(msg string, args ...interface{})
}
