package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/vpn-orchestrator/common"
)

const (
	notificationsService = "org.freedesktop.Notifications"
	notificationsPath    = "/org/freedesktop/Notifications"
	notifyMethod         = notificationsService + ".Notify"
	closeMethod          = notificationsService + ".CloseNotification"
)

// DBusNotifier shows notifications through the freedesktop notification
// service. Each notification replaces the previous one, so the desktop
// carries a single, current status bubble for the tunnel.
type DBusNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu     sync.Mutex
	lastID uint32
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return &DBusNotifier{
		conn: conn,
		obj:  conn.Object(notificationsService, notificationsPath),
	}, nil
}

// Notify shows n, replacing the last notification.
func (d *DBusNotifier) Notify(n common.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgencyFor(n.Type)),
	}
	call := d.obj.Call(notifyMethod, 0,
		common.AppName,
		d.lastID,
		iconFor(n.Type),
		n.Title,
		n.Message,
		[]string{},
		hints,
		int32(-1),
	)
	if call.Err != nil {
		return fmt.Errorf("sending notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("reading notification id: %w", err)
	}
	d.lastID = id
	return nil
}

// Close dismisses the current notification and disconnects from the bus.
func (d *DBusNotifier) Close() error {
	d.mu.Lock()
	id := d.lastID
	d.lastID = 0
	d.mu.Unlock()

	if id != 0 {
		if call := d.obj.Call(closeMethod, 0, id); call.Err != nil {
			common.LogDebug("Closing notification %d: %v", id, call.Err)
		}
	}
	return d.conn.Close()
}
