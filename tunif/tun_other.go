//go:build !linux

package tunif

import (
	"context"
	"fmt"
	"runtime"

	"github.com/yllada/vpn-orchestrator/common"
)

type unsupportedBuilder struct{}

// NewPlatformBuilder returns a builder that always fails on this platform.
func NewPlatformBuilder(name string, routeTable int) Builder {
	return unsupportedBuilder{}
}

func (unsupportedBuilder) Establish(ctx context.Context, cfg Config) (Interface, error) {
	return nil, fmt.Errorf("%w: tun devices on %s", common.ErrUnsupported, runtime.GOOS)
}
