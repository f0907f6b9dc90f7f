// Package notify publishes session status to the desktop.
package notify

import (
	"sync/atomic"

	"github.com/yllada/vpn-orchestrator/common"
)

// iconFor picks the freedesktop icon name for a notification.
func iconFor(t common.NotificationType) string {
	switch t {
	case common.NotificationSuccess:
		return "network-vpn"
	case common.NotificationWarning:
		return "dialog-warning"
	case common.NotificationError:
		return "network-vpn-error"
	default:
		return "network-vpn-acquiring"
	}
}

// urgencyFor maps a notification type to the freedesktop urgency byte:
// 0 low, 1 normal, 2 critical.
func urgencyFor(t common.NotificationType) byte {
	switch t {
	case common.NotificationError:
		return 2
	case common.NotificationWarning:
		return 1
	default:
		return 0
	}
}

// LogNotifier writes notifications to the application log. It is the
// fallback when no session bus is available.
type LogNotifier struct{}

// Notify logs n.
func (LogNotifier) Notify(n common.Notification) error {
	switch n.Type {
	case common.NotificationError:
		common.LogError("%s: %s", n.Title, n.Message)
	case common.NotificationWarning:
		common.LogWarn("%s: %s", n.Title, n.Message)
	default:
		common.LogInfo("%s: %s", n.Title, n.Message)
	}
	return nil
}

// Toggle forwards to a desktop notifier while enabled and to the log
// otherwise. It follows the show_notifications setting at runtime.
type Toggle struct {
	desktop common.Notifier
	enabled atomic.Bool
}

// NewToggle wraps desktop. A nil desktop notifier always logs.
func NewToggle(desktop common.Notifier, enabled bool) *Toggle {
	t := &Toggle{desktop: desktop}
	t.enabled.Store(enabled)
	return t
}

// SetEnabled switches desktop notifications on or off.
func (t *Toggle) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

// Notify publishes n.
func (t *Toggle) Notify(n common.Notification) error {
	if t.desktop == nil || !t.enabled.Load() {
		return LogNotifier{}.Notify(n)
	}
	return t.desktop.Notify(n)
}
