//go:build !unix

package engine

import (
	"context"
	"time"

	"github.com/yllada/vpn-orchestrator/common"
)

type fdResult struct {
	fd  int
	err error
}

func listenFd(timeout time.Duration) (string, <-chan fdResult, error) {
	return "", nil, common.ErrUnsupported
}

func sendFd(ctx context.Context, path string, fd int) error {
	return common.ErrUnsupported
}

func closeFd(fd int) {}
