package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yllada/vpn-orchestrator/common"
)

// AliveTimeout bounds a single liveness check. An engine that does not answer
// in time is reported dead.
const AliveTimeout = 2 * time.Second

// Client is the orchestrator's handle to one engine instance. It maps engine
// failures onto the session error taxonomy, bounds blocking calls by a
// context, and makes Stop idempotent and infallible.
type Client struct {
	eng      Engine
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewClient wraps eng.
func NewClient(eng Engine) *Client {
	return &Client{
		eng:     eng,
		stopped: make(chan struct{}),
	}
}

// Connect starts the engine and returns the CIDR it was assigned.
// Failures wrap common.ErrEngineConnect.
func (c *Client) Connect(ctx context.Context, serverAddress, rendezvousHost string, rendezvousPort int, token string, insecure bool) (string, error) {
	opts := StartOptions{
		ServerAddress:  serverAddress,
		RendezvousHost: rendezvousHost,
		RendezvousPort: rendezvousPort,
		Token:          token,
		Insecure:       insecure,
	}

	if err := c.await(ctx, func() error { return c.eng.Start(ctx, opts) }); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrEngineConnect, err)
	}

	var cidr string
	err := c.await(ctx, func() error {
		var err error
		cidr, err = c.eng.CIDR()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: reading assigned address: %w", common.ErrEngineConnect, err)
	}
	return cidr, nil
}

// Link hands the descriptor to the engine. Failures wrap common.ErrEngineLink.
func (c *Client) Link(ctx context.Context, fd int) error {
	if err := c.await(ctx, func() error { return c.eng.Link(ctx, fd) }); err != nil {
		return fmt.Errorf("%w: %w", common.ErrEngineLink, err)
	}
	return nil
}

// IsAlive reports engine liveness. A stopped client is never alive.
func (c *Client) IsAlive() bool {
	return c.Alive(context.Background())
}

// Alive is IsAlive bounded by ctx and AliveTimeout. It returns false as soon
// as ctx is done, the client is stopped or the engine fails to answer.
func (c *Client) Alive(ctx context.Context) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, AliveTimeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				common.LogError("Engine liveness check panicked: %v", r)
				result <- false
			}
		}()
		result <- c.eng.IsAlive()
	}()

	select {
	case alive := <-result:
		return alive
	case <-c.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stop stops the engine once. Errors and panics from the engine are logged
// and swallowed: stop runs during teardown and must always complete.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		defer func() {
			if r := recover(); r != nil {
				common.LogError("Engine stop panicked: %v", r)
			}
		}()
		if err := c.eng.Stop(); err != nil {
			common.LogWarn("Engine stop failed: %v", err)
		}
	})
}

// await runs fn and returns its result, or ctx.Err() as soon as ctx is done.
// Engines that ignore their context are abandoned to finish on their own;
// the caller is expected to Stop the engine, which unblocks them.
func (c *Client) await(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("engine panicked: %v", r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
