//go:build unix

package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

type fdResult struct {
	fd  int
	err error
}

// listenFd opens a one-shot unix socket that accepts a single descriptor
// sent with SCM_RIGHTS. The received descriptor, or the failure, is
// delivered on the returned channel. The socket is removed afterwards.
func listenFd(timeout time.Duration) (string, <-chan fdResult, error) {
	dir, err := os.MkdirTemp("", "tunnel-engine-")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "link.sock")

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}

	results := make(chan fdResult, 1)
	go func() {
		defer os.RemoveAll(dir)
		defer l.Close()

		l.SetDeadline(time.Now().Add(timeout))
		conn, err := l.AcceptUnix()
		if err != nil {
			results <- fdResult{fd: -1, err: err}
			return
		}
		defer conn.Close()

		fd, err := recvFd(conn)
		results <- fdResult{fd: fd, err: err}
	}()

	return path, results, nil
}

func recvFd(conn *net.UnixConn) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, err
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, err
	}
	if len(msgs) != 1 {
		return -1, fmt.Errorf("expected 1 control message, got %d", len(msgs))
	}

	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return -1, err
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return -1, fmt.Errorf("expected 1 descriptor, got %d", len(fds))
	}
	return fds[0], nil
}

// sendFd sends fd to the socket at path and closes the local copy on
// success.
func sendFd(ctx context.Context, path string, fd int) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return err
	}
	defer conn.Close()

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return fmt.Errorf("unexpected connection type %T", conn)
	}

	if _, _, err := uc.WriteMsgUnix([]byte{0}, unix.UnixRights(fd), nil); err != nil {
		return err
	}
	return unix.Close(fd)
}

func closeFd(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
