// Package gateway translates lifecycle signals from the host into
// orchestrator calls and publishes the resulting status.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yllada/vpn-orchestrator/common"
	"github.com/yllada/vpn-orchestrator/vpn"
)

// Signal is a lifecycle request delivered by the host.
type Signal interface {
	signal()
}

// StartRequested asks for a new session.
type StartRequested struct {
	ServerAddress string
	Token         string
}

// StopRequested asks to end the session on the user's behalf.
type StopRequested struct{}

// Revoked reports that the host withdrew permission to run the tunnel.
type Revoked struct{}

func (StartRequested) signal() {}
func (StopRequested) signal()  {}
func (Revoked) signal()        {}

// Orchestrator is the part of vpn.Orchestrator the gateway drives.
type Orchestrator interface {
	Start(serverAddress, token string) (*vpn.Session, error)
	Stop()
	Revoke()
	Shutdown()
	SetOnStateChange(callback func(vpn.Event))
}

// Gateway forwards signals to the orchestrator. Status publication runs on
// its own goroutine and never affects the tunnel.
type Gateway struct {
	orch     Orchestrator
	notifier common.Notifier

	mu     sync.RWMutex
	closed bool
	queue  chan common.Notification

	shutdownOnce sync.Once
	published    chan struct{}
}

// New creates a gateway and subscribes it to orch's state changes.
func New(orch Orchestrator, notifier common.Notifier) *Gateway {
	g := &Gateway{
		orch:      orch,
		notifier:  notifier,
		queue:     make(chan common.Notification, common.StatusQueueSize),
		published: make(chan struct{}),
	}
	orch.SetOnStateChange(g.onStateChange)
	go g.publishLoop()
	return g
}

// Handle applies sig. For StartRequested it returns the new session.
func (g *Gateway) Handle(sig Signal) (*vpn.Session, error) {
	switch s := sig.(type) {
	case StartRequested:
		session, err := g.orch.Start(s.ServerAddress, s.Token)
		if err != nil {
			common.LogWarn("Start request for %q rejected: %v", s.ServerAddress, err)
			return nil, err
		}
		return session, nil
	case StopRequested:
		g.orch.Stop()
		return nil, nil
	case Revoked:
		common.LogWarn("Tunnel permission revoked by host")
		g.orch.Revoke()
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown signal %T", sig)
	}
}

// Serve handles signals from ch in order until ctx is done or ch closes.
func (g *Gateway) Serve(ctx context.Context, ch <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if _, err := g.Handle(sig); err != nil {
				common.LogDebug("Signal %T: %v", sig, err)
			}
		}
	}
}

// Shutdown stops the session, rejects further starts and waits for pending
// status to be published.
func (g *Gateway) Shutdown() {
	g.shutdownOnce.Do(func() {
		g.orch.Shutdown()

		g.mu.Lock()
		g.closed = true
		close(g.queue)
		g.mu.Unlock()

		<-g.published
	})
}

func (g *Gateway) onStateChange(ev vpn.Event) {
	if n, ok := StatusFor(ev); ok {
		g.publish(n)
	}
}

// StatusFor returns the status notification for a state change, if the
// state is one the user is told about.
func StatusFor(ev vpn.Event) (common.Notification, bool) {
	n := common.Notification{Title: common.AppName}
	switch ev.State {
	case vpn.StateConnecting:
		n.Message = fmt.Sprintf("Connecting to %s...", ev.ServerAddress)
		n.Type = common.NotificationInfo
	case vpn.StateActive:
		n.Message = fmt.Sprintf("%s is active (%s)", common.AppName, ev.CIDR)
		n.Type = common.NotificationSuccess
	case vpn.StateTerminated:
		n.Message = disconnectedText(ev.Err)
		switch {
		case ev.Err == nil, errors.Is(ev.Err, common.ErrStopped):
			n.Type = common.NotificationInfo
		case errors.Is(ev.Err, common.ErrRevoked):
			n.Type = common.NotificationWarning
		default:
			n.Type = common.NotificationError
		}
	default:
		return common.Notification{}, false
	}
	return n, true
}

func disconnectedText(cause error) string {
	if cause == nil || errors.Is(cause, common.ErrStopped) {
		return "Disconnected"
	}
	return "Disconnected: " + cause.Error()
}

// publish queues n without blocking. When the queue is full the oldest
// pending notification is dropped, so the latest status always goes out.
func (g *Gateway) publish(n common.Notification) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.closed {
		return
	}
	for {
		select {
		case g.queue <- n:
			return
		default:
		}
		select {
		case old := <-g.queue:
			common.LogWarn("Status queue full, dropping %q", old.Message)
		default:
		}
	}
}

func (g *Gateway) publishLoop() {
	defer close(g.published)
	for n := range g.queue {
		g.deliver(n)
	}
}

func (g *Gateway) deliver(n common.Notification) {
	defer func() {
		if r := recover(); r != nil {
			common.LogError("Notifier panicked: %v", r)
		}
	}()
	if err := g.notifier.Notify(n); err != nil {
		common.LogWarn("Publishing status %q failed: %v", n.Message, err)
	}
}
