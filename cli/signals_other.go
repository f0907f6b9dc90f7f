//go:build !unix

package cli

import "os"

func revocationSignals() []os.Signal {
	return nil
}
