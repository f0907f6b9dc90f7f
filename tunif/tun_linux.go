//go:build linux

package tunif

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yllada/vpn-orchestrator/common"
)

const (
	// Rule priorities: excluded uids must be matched before the tunnel table.
	excludePriority = 100
	tunnelPriority  = 101

	undoTimeout = 5 * time.Second
)

type runner func(ctx context.Context, name string, args ...string) error

type opener func(name string) (fd int, ifname string, err error)

// LinuxBuilder allocates TUN devices through /dev/net/tun and configures
// them with iproute2.
type LinuxBuilder struct {
	name  string
	table int

	run  runner
	open opener
}

// NewPlatformBuilder returns the builder for this platform.
func NewPlatformBuilder(name string, routeTable int) Builder {
	return &LinuxBuilder{
		name:  name,
		table: routeTable,
		run:   runCommand,
		open:  openTun,
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func openTun(name string) (int, string, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if os.IsPermission(err) {
			return -1, "", fmt.Errorf("%w: /dev/net/tun", common.ErrPermissionDenied)
		}
		return -1, "", fmt.Errorf("opening /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return -1, "", err
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return -1, "", fmt.Errorf("TUNSETIFF %s: %w", name, err)
	}
	return fd, ifr.Name(), nil
}

// Establish creates the device and applies cfg. Every step that succeeds
// registers its undo so a failure part way leaves nothing behind.
func (b *LinuxBuilder) Establish(ctx context.Context, cfg Config) (Interface, error) {
	fd, ifname, err := b.open(b.name)
	if err != nil {
		return nil, err
	}
	dev := &device{fd: fd, name: ifname, run: b.run}

	if err := b.configure(ctx, dev, cfg); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}

func (b *LinuxBuilder) configure(ctx context.Context, dev *device, cfg Config) error {
	table := strconv.Itoa(b.table)

	if err := b.run(ctx, "ip", "addr", "add", cfg.Address.String(), "dev", dev.name); err != nil {
		return err
	}
	if err := b.run(ctx, "ip", "link", "set", "dev", dev.name, "mtu", strconv.Itoa(cfg.MTU), "up"); err != nil {
		return err
	}

	for _, route := range cfg.Routes {
		args := []string{"route", "replace", route.Masked().String(), "dev", dev.name, "table", table}
		if err := b.run(ctx, "ip", family(route.Addr().Is6(), args)...); err != nil {
			return err
		}
		dev.undo(family(route.Addr().Is6(), []string{"route", "del", route.Masked().String(), "dev", dev.name, "table", table})...)
	}

	for _, app := range cfg.ExcludedApps {
		uid, err := lookupUID(app)
		if err != nil {
			return fmt.Errorf("excluding %q: %w", app, err)
		}
		rng := uid + "-" + uid
		if err := b.run(ctx, "ip", "rule", "add", "uidrange", rng, "lookup", "main", "priority", strconv.Itoa(excludePriority)); err != nil {
			return err
		}
		dev.undo("rule", "del", "uidrange", rng, "lookup", "main", "priority", strconv.Itoa(excludePriority))
	}

	if len(cfg.Routes) > 0 {
		if err := b.run(ctx, "ip", "rule", "add", "lookup", table, "priority", strconv.Itoa(tunnelPriority)); err != nil {
			return err
		}
		dev.undo("rule", "del", "lookup", table, "priority", strconv.Itoa(tunnelPriority))
	}

	if len(cfg.DNSServers) > 0 {
		args := []string{"dns", dev.name}
		for _, s := range cfg.DNSServers {
			args = append(args, s.String())
		}
		if err := b.run(ctx, "resolvectl", args...); err != nil {
			common.LogWarn("Could not set DNS on %s: %v", dev.name, err)
		} else if err := b.run(ctx, "resolvectl", "domain", dev.name, "~."); err != nil {
			common.LogWarn("Could not route DNS domains to %s: %v", dev.name, err)
		}
	}

	common.LogDebug("Configured %s: address %s, %d route(s), table %s", dev.name, cfg.Address, len(cfg.Routes), table)
	return nil
}

func family(v6 bool, args []string) []string {
	if v6 {
		return append([]string{"-6"}, args...)
	}
	return args
}

// lookupUID resolves an excluded application to the uid its traffic runs as.
// common.SelfApp is this process.
func lookupUID(app string) (string, error) {
	if app == common.SelfApp {
		return strconv.Itoa(os.Getuid()), nil
	}
	if _, err := strconv.Atoi(app); err == nil {
		return app, nil
	}
	u, err := user.Lookup(app)
	if err != nil {
		return "", err
	}
	return u.Uid, nil
}

type device struct {
	name string
	run  runner

	mu       sync.Mutex
	fd       int
	detached bool
	closed   bool
	undos    [][]string
}

func (d *device) undo(args ...string) {
	d.undos = append(d.undos, args)
}

func (d *device) DetachFd() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.detached {
		return -1, ErrDetached
	}
	d.detached = true
	return d.fd, nil
}

// Close removes rules and routes in reverse order and closes the descriptor
// unless it was detached. The kernel drops the device with its last fd.
func (d *device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	undos := d.undos
	d.undos = nil
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), undoTimeout)
	defer cancel()

	for i := len(undos) - 1; i >= 0; i-- {
		if err := d.run(ctx, "ip", undos[i]...); err != nil {
			common.LogWarn("Cleanup of %s failed: %v", d.name, err)
		}
	}

	if !d.detached {
		if err := unix.Close(d.fd); err != nil {
			return fmt.Errorf("closing %s: %w", d.name, err)
		}
	}
	common.LogInfo("Interface %s released", d.name)
	return nil
}
