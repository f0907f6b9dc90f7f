//go:build unix

package cli

import (
	"os"
	"syscall"
)

// revocationSignals are the signals an external authority sends to withdraw
// the tunnel.
func revocationSignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1}
}
