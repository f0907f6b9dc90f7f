package engine

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"sync"
	"time"
)

// linkTimeout bounds how long the plugin waits for the descriptor after
// handing out a link endpoint.
const linkTimeout = 10 * time.Second

// stopTimeout bounds a remote stop before the plugin process is killed.
const stopTimeout = 5 * time.Second

// queryTimeout bounds the short queries CIDR and IsAlive.
const queryTimeout = 2 * time.Second

// StartArgs carries StartOptions over RPC.
type StartArgs struct {
	ServerAddress  string
	RendezvousHost string
	RendezvousPort int
	Token          string
	Insecure       bool
}

// CIDRReply is the reply of Plugin.CIDR.
type CIDRReply struct {
	CIDR string
	Err  string
}

// RPCClient is the host side of the engine plugin.
type RPCClient struct {
	client *rpc.Client
	kill   func()
}

// call issues an RPC and gives up when ctx is done. The remote call keeps
// running; Stop unblocks it.
func (g *RPCClient) call(ctx context.Context, method string, args, reply interface{}) error {
	call := g.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

func remoteError(resp string) error {
	if resp != "" {
		return errors.New(resp)
	}
	return nil
}

// Start asks the plugin to connect. ctx bounds the wait on the host side.
func (g *RPCClient) Start(ctx context.Context, opts StartOptions) error {
	args := &StartArgs{
		ServerAddress:  opts.ServerAddress,
		RendezvousHost: opts.RendezvousHost,
		RendezvousPort: opts.RendezvousPort,
		Token:          opts.Token,
		Insecure:       opts.Insecure,
	}
	var resp string
	if err := g.call(ctx, "Plugin.Start", args, &resp); err != nil {
		return err
	}
	return remoteError(resp)
}

// CIDR returns the address assigned to the remote engine.
func (g *RPCClient) CIDR() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var resp CIDRReply
	if err := g.call(ctx, "Plugin.CIDR", new(interface{}), &resp); err != nil {
		return "", err
	}
	return resp.CIDR, remoteError(resp.Err)
}

// Link passes fd to the plugin process over a one-shot unix socket, then
// asks the plugin to link it. The host's copy of fd is always closed.
func (g *RPCClient) Link(ctx context.Context, fd int) error {
	var endpoint string
	if err := g.call(ctx, "Plugin.LinkEndpoint", new(interface{}), &endpoint); err != nil {
		closeFd(fd)
		return err
	}
	if err := sendFd(ctx, endpoint, fd); err != nil {
		closeFd(fd)
		return fmt.Errorf("passing descriptor to engine: %w", err)
	}

	var resp string
	if err := g.call(ctx, "Plugin.Link", new(interface{}), &resp); err != nil {
		return err
	}
	return remoteError(resp)
}

// IsAlive reports remote liveness. A plugin that does not answer within
// queryTimeout is dead.
func (g *RPCClient) IsAlive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var alive bool
	if err := g.call(ctx, "Plugin.IsAlive", new(interface{}), &alive); err != nil {
		return false
	}
	return alive
}

// Stop stops the remote engine and then terminates the plugin process.
func (g *RPCClient) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	var resp string
	err := g.call(ctx, "Plugin.Stop", new(interface{}), &resp)
	if err == nil {
		err = remoteError(resp)
	}
	if g.kill != nil {
		g.kill()
	}
	return err
}

// RPCServer is the plugin side. Only RPC handlers are exported on it.
type RPCServer struct {
	impl Engine

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	pending <-chan fdResult
}

func newRPCServer(impl Engine) *RPCServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &RPCServer{impl: impl, ctx: ctx, cancel: cancel}
}

func errString(err error) string {
	if err != nil {
		return err.Error()
	}
	return ""
}

// Start connects the engine.
func (s *RPCServer) Start(args *StartArgs, resp *string) error {
	err := s.impl.Start(s.ctx, StartOptions{
		ServerAddress:  args.ServerAddress,
		RendezvousHost: args.RendezvousHost,
		RendezvousPort: args.RendezvousPort,
		Token:          args.Token,
		Insecure:       args.Insecure,
	})
	*resp = errString(err)
	return nil
}

// CIDR returns the assigned address.
func (s *RPCServer) CIDR(args interface{}, resp *CIDRReply) error {
	cidr, err := s.impl.CIDR()
	resp.CIDR = cidr
	resp.Err = errString(err)
	return nil
}

// LinkEndpoint opens a one-shot socket for the descriptor and returns its path.
func (s *RPCServer) LinkEndpoint(args interface{}, resp *string) error {
	path, pending, err := listenFd(linkTimeout)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = pending
	s.mu.Unlock()
	*resp = path
	return nil
}

// Link receives the descriptor from the pending endpoint and links it.
func (s *RPCServer) Link(args interface{}, resp *string) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		*resp = "no link endpoint requested"
		return nil
	}

	var res fdResult
	select {
	case res = <-pending:
	case <-s.ctx.Done():
		*resp = s.ctx.Err().Error()
		return nil
	}
	if res.err != nil {
		*resp = fmt.Sprintf("receiving descriptor: %v", res.err)
		return nil
	}

	if err := s.impl.Link(s.ctx, res.fd); err != nil {
		closeFd(res.fd)
		*resp = err.Error()
		return nil
	}
	*resp = ""
	return nil
}

// IsAlive reports engine liveness.
func (s *RPCServer) IsAlive(args interface{}, resp *bool) error {
	*resp = s.impl.IsAlive()
	return nil
}

// Stop cancels pending calls and stops the engine.
func (s *RPCServer) Stop(args interface{}, resp *string) error {
	s.cancel()
	*resp = errString(s.impl.Stop())
	return nil
}
