// Package tunif provisions the virtual network interface a session routes
// through. A platform Builder does the work; Provisioner wraps it with
// validation, cancellation and the error taxonomy the orchestrator expects.
package tunif

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/yllada/vpn-orchestrator/common"
)

// ErrDetached is returned by DetachFd once the descriptor has been taken.
var ErrDetached = errors.New("descriptor already detached")

// Config describes the interface to establish.
type Config struct {
	Label        string
	Address      netip.Prefix
	DNSServers   []netip.Addr
	Routes       []netip.Prefix
	MTU          int
	ExcludedApps []string
}

// Interface is an established virtual interface.
type Interface interface {
	// DetachFd hands over the raw descriptor. After it succeeds, Close no
	// longer closes the descriptor.
	DetachFd() (int, error)
	Close() error
}

// Builder is the platform facility that allocates interfaces. Establish
// returns a nil Interface, not a typed nil pointer, whenever it fails.
type Builder interface {
	Establish(ctx context.Context, cfg Config) (Interface, error)
}

func (c Config) validate() error {
	if !c.Address.IsValid() {
		return fmt.Errorf("invalid client address %v", c.Address)
	}
	if c.MTU <= 0 {
		return fmt.Errorf("invalid mtu %d", c.MTU)
	}
	for _, r := range c.Routes {
		if !r.IsValid() {
			return fmt.Errorf("invalid route %v", r)
		}
	}
	for _, d := range c.DNSServers {
		if !d.IsValid() {
			return errors.New("invalid dns server")
		}
	}
	return nil
}

// Provisioner establishes interfaces through a Builder.
type Provisioner struct {
	builder Builder
}

// NewProvisioner returns a Provisioner backed by b.
func NewProvisioner(b Builder) *Provisioner {
	return &Provisioner{builder: b}
}

// Establish builds an interface for cfg. Failures wrap common.ErrInterface.
// If ctx is cancelled while the builder is still working, Establish returns
// at once and an interface the builder produces afterwards is closed.
func (p *Provisioner) Establish(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInterface, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		iface Interface
		err   error
	}
	done := make(chan result, 1)
	go func() {
		iface, err := p.builder.Establish(ctx, cfg)
		done <- result{iface, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrInterface, res.err)
		}
		if res.iface == nil {
			return nil, fmt.Errorf("%w: builder returned no interface", common.ErrInterface)
		}
		common.LogInfo("Interface %q established with %s (mtu %d)", cfg.Label, cfg.Address, cfg.MTU)
		return newHandle(res.iface), nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.iface != nil {
				common.LogDebug("Closing interface established after cancellation")
				res.iface.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Handle owns an established interface. DetachFd succeeds once; Close is
// idempotent.
type Handle struct {
	iface Interface

	mu       sync.Mutex
	detached bool
	closed   bool
}

func newHandle(iface Interface) *Handle {
	return &Handle{iface: iface}
}

// DetachFd transfers ownership of the raw descriptor to the caller.
func (h *Handle) DetachFd() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return -1, fmt.Errorf("%w: interface closed", common.ErrInterface)
	}
	if h.detached {
		return -1, ErrDetached
	}
	fd, err := h.iface.DetachFd()
	if err != nil {
		return -1, fmt.Errorf("%w: %w", common.ErrInterface, err)
	}
	h.detached = true
	return fd, nil
}

// Close releases the interface. Only the first call does anything.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	return h.iface.Close()
}
