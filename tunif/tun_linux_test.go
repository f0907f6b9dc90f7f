//go:build linux

package tunif

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sys/unix"
)

type recorder struct {
	mu     sync.Mutex
	cmds   []string
	failOn string
}

func (r *recorder) run(ctx context.Context, name string, args ...string) error {
	line := name + " " + strings.Join(args, " ")
	r.mu.Lock()
	r.cmds = append(r.cmds, line)
	r.mu.Unlock()
	if r.failOn != "" && strings.Contains(line, r.failOn) {
		return errors.New("exit status 2")
	}
	return nil
}

func (r *recorder) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.cmds...)
}

func pipeOpener(t *testing.T) opener {
	return func(name string) (int, string, error) {
		var fds [2]int
		if err := unix.Pipe(fds[:]); err != nil {
			t.Fatalf("Pipe() error = %v", err)
		}
		unix.Close(fds[1])
		return fds[0], name, nil
	}
}

func TestLinuxBuilderEstablishAndClose(t *testing.T) {
	rec := &recorder{}
	b := &LinuxBuilder{name: "veiltest", table: 51820, run: rec.run, open: pipeOpener(t)}

	iface, err := b.Establish(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	uid := strconv.Itoa(os.Getuid())
	want := []string{
		"ip addr add 10.8.0.2/24 dev veiltest",
		"ip link set dev veiltest mtu 1500 up",
		"ip route replace 0.0.0.0/0 dev veiltest table 51820",
		"ip rule add uidrange " + uid + "-" + uid + " lookup main priority 100",
		"ip rule add lookup 51820 priority 101",
		"resolvectl dns veiltest 1.1.1.1",
		"resolvectl domain veiltest ~.",
	}
	got := rec.commands()
	if len(got) != len(want) {
		t.Fatalf("commands = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if err := iface.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	iface.Close()

	cleanup := rec.commands()[len(want):]
	wantCleanup := []string{
		"ip rule del lookup 51820 priority 101",
		"ip rule del uidrange " + uid + "-" + uid + " lookup main priority 100",
		"ip route del 0.0.0.0/0 dev veiltest table 51820",
	}
	if len(cleanup) != len(wantCleanup) {
		t.Fatalf("cleanup = %q, want %q", cleanup, wantCleanup)
	}
	for i := range wantCleanup {
		if cleanup[i] != wantCleanup[i] {
			t.Errorf("cleanup[%d] = %q, want %q", i, cleanup[i], wantCleanup[i])
		}
	}
}

func TestLinuxBuilderRollsBackOnFailure(t *testing.T) {
	rec := &recorder{failOn: "rule add lookup"}
	b := &LinuxBuilder{name: "veiltest", table: 7, run: rec.run, open: pipeOpener(t)}

	if _, err := b.Establish(context.Background(), validConfig()); err == nil {
		t.Fatal("Establish() succeeded, want error")
	}

	cmds := rec.commands()
	last := cmds[len(cmds)-1]
	if last != "ip route del 0.0.0.0/0 dev veiltest table 7" {
		t.Errorf("last command = %q, want route removal", last)
	}
}

func TestLinuxBuilderDNSFailureIsNotFatal(t *testing.T) {
	rec := &recorder{failOn: "resolvectl"}
	b := &LinuxBuilder{name: "veiltest", table: 7, run: rec.run, open: pipeOpener(t)}

	iface, err := b.Establish(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	iface.Close()
}

func TestDeviceDetachSkipsClose(t *testing.T) {
	rec := &recorder{}
	b := &LinuxBuilder{name: "veiltest", table: 7, run: rec.run, open: pipeOpener(t)}

	iface, err := b.Establish(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}
	fd, err := iface.DetachFd()
	if err != nil {
		t.Fatalf("DetachFd() error = %v", err)
	}
	if err := iface.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Still open: the detached descriptor belongs to the caller now.
	if err := unix.Close(fd); err != nil {
		t.Errorf("closing detached fd: %v", err)
	}
}

func TestLookupUID(t *testing.T) {
	uid, err := lookupUID("1234")
	if err != nil || uid != "1234" {
		t.Errorf("lookupUID(1234) = %q, %v, want 1234", uid, err)
	}
	if _, err := lookupUID("no-such-user-veilnet"); err == nil {
		t.Error("lookupUID() for unknown user succeeded")
	}
}
