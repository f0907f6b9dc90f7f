package vpn

import (
	"context"
	"fmt"
	"time"

	"github.com/yllada/vpn-orchestrator/common"
)

// LivenessProbe reports whether the tunnel is alive. Alive must return
// promptly once ctx is done.
type LivenessProbe interface {
	Alive(ctx context.Context) bool
}

// watchLiveness polls probe every interval until ctx is done or a check
// fails. A single failed check is fatal: the engine has already given up by
// the time it reports dead. A check cut short by ctx is not a failure.
func watchLiveness(ctx context.Context, interval time.Duration, probe LivenessProbe) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	checks := 0
	for {
		select {
		case <-ctx.Done():
			common.LogDebug("Liveness watch ended after %d check(s)", checks)
			return nil
		case <-ticker.C:
			checks++
			if !probe.Alive(ctx) {
				if ctx.Err() != nil {
					common.LogDebug("Liveness watch ended after %d check(s)", checks)
					return nil
				}
				return fmt.Errorf("%w: engine reported dead after %d check(s)", common.ErrLivenessLost, checks)
			}
		}
	}
}
