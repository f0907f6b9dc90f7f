package vpn

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/yllada/vpn-orchestrator/common"
	"github.com/yllada/vpn-orchestrator/engine"
	"github.com/yllada/vpn-orchestrator/tunif"
)

// Provisioner establishes the virtual interface for a session.
type Provisioner interface {
	Establish(ctx context.Context, cfg tunif.Config) (*tunif.Handle, error)
}

// OrchestratorConfig holds tunables of the orchestrator.
type OrchestratorConfig struct {
	// LivenessInterval is how often an active session polls the engine.
	LivenessInterval time.Duration
}

// DefaultOrchestratorConfig returns the defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		LivenessInterval: common.MonitorInterval,
	}
}

var (
	dnsServers   = []netip.Addr{netip.MustParseAddr(common.DNSServer)}
	defaultRoute = []netip.Prefix{netip.MustParsePrefix(common.DefaultRoute)}
	excludedApps = []string{common.SelfApp}
)

// Orchestrator runs at most one session at a time and guarantees that its
// engine and interface are released together, exactly once, whichever way
// the session ends.
type Orchestrator struct {
	engines     engine.Factory
	provisioner Provisioner

	mu            sync.Mutex
	config        OrchestratorConfig
	current       *Session
	closed        bool
	pending       []Event
	onStateChange func(Event)

	// notifyMu serialises observer calls so events arrive in order.
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// NewOrchestrator creates an orchestrator that builds a fresh engine from
// engines for every session.
func NewOrchestrator(engines engine.Factory, provisioner Provisioner, config OrchestratorConfig) *Orchestrator {
	if config.LivenessInterval <= 0 {
		config.LivenessInterval = common.MonitorInterval
	}
	return &Orchestrator{
		engines:     engines,
		provisioner: provisioner,
		config:      config,
	}
}

// SetOnStateChange sets a callback for session state transitions. Events are
// delivered in order, outside the orchestrator lock. The callback must not
// call Stop, Revoke or Shutdown.
func (o *Orchestrator) SetOnStateChange(callback func(Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onStateChange = callback
}

// UpdateConfig replaces the configuration. Running sessions keep theirs.
func (o *Orchestrator) UpdateConfig(config OrchestratorConfig) {
	if config.LivenessInterval <= 0 {
		config.LivenessInterval = common.MonitorInterval
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = config
}

// Start validates the credentials and schedules the connect sequence in the
// background. It returns as soon as the session exists.
func (o *Orchestrator) Start(serverAddress, token string) (*Session, error) {
	creds := Credentials{ServerAddress: serverAddress, Token: token}
	if err := creds.validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, common.ErrClosed
	}
	if cur := o.current; cur != nil && cur.state.Running() {
		o.mu.Unlock()
		return nil, common.ErrAlreadyRunning
	}

	s := newSession(creds, &o.mu)
	o.current = s
	o.transition(s, StateConnecting)
	interval := o.config.LivenessInterval
	o.wg.Add(1)
	o.mu.Unlock()

	common.LogInfo("Session %s: connecting to %s (token %s)", s.id, serverAddress, common.RedactToken(token))
	o.flush()

	go o.run(s, interval)
	return s, nil
}

// Stop ends the current session and returns once it is Terminated. It is
// safe to call in any state and any number of times.
func (o *Orchestrator) Stop() {
	o.terminate(common.ErrStopped)
}

// Revoke is Stop triggered by an external authority withdrawing the tunnel
// permission. The teardown is identical.
func (o *Orchestrator) Revoke() {
	o.terminate(common.ErrRevoked)
}

// Shutdown stops the current session and rejects further starts.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.Stop()
	o.wg.Wait()
}

// IsActive reports whether a session is Active and its engine is alive.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	s := o.current
	if s == nil || s.state != StateActive || s.engine == nil {
		o.mu.Unlock()
		return false
	}
	eng := s.engine
	o.mu.Unlock()

	return eng.IsAlive()
}

// State returns the state of the current session, or StateIdle.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return StateIdle
	}
	return o.current.state
}

// Current returns the most recent session, or nil if none was started.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

func (o *Orchestrator) terminate(cause error) {
	o.mu.Lock()
	s := o.current
	if s == nil {
		o.mu.Unlock()
		return
	}
	if s.state.Running() && s.stopCause == nil {
		s.stopCause = cause
		if s.state != StateStopping {
			o.transition(s, StateStopping)
		}
		s.cancel()
		common.LogInfo("Session %s: stopping (%v)", s.id, cause)
	}
	o.mu.Unlock()

	o.flush()
	<-s.done
}

// transition moves s to state and queues an event. Callers hold o.mu.
func (o *Orchestrator) transition(s *Session, state State) {
	s.state = state
	o.pending = append(o.pending, s.event())
}

// advance moves s from one state to the next unless the session was
// cancelled or moved elsewhere in the meantime. apply runs under the lock.
func (o *Orchestrator) advance(s *Session, from, to State, apply func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s.ctx.Err() != nil || s.state != from {
		return false
	}
	if apply != nil {
		apply()
	}
	o.transition(s, to)
	return true
}

// flush delivers queued events in order.
func (o *Orchestrator) flush() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	for {
		o.mu.Lock()
		events := o.pending
		o.pending = nil
		callback := o.onStateChange
		o.mu.Unlock()

		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			if callback != nil {
				o.deliver(callback, ev)
			}
		}
	}
}

func (o *Orchestrator) deliver(callback func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			common.LogError("State change callback panicked: %v", r)
		}
	}()
	callback(ev)
}

// resources are handles the task owns before they are installed on the
// session.
type resources struct {
	engine *engine.Client
	iface  *tunif.Handle
}

// run is the supervised task of a session. Whatever happens, it ends with
// teardown.
func (o *Orchestrator) run(s *Session, interval time.Duration) {
	defer o.wg.Done()

	var res resources
	probe, err := o.connect(s, &res)
	if err == nil {
		err = watchLiveness(s.ctx, interval, probe)
	}
	o.teardown(s, &res, err)
}

// connect performs connect, establish and link. On success the session is
// Active and owns both handles; the returned probe watches its engine.
func (o *Orchestrator) connect(s *Session, res *resources) (LivenessProbe, error) {
	ctx := s.ctx

	eng, err := o.engines(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: creating engine: %w", common.ErrEngineConnect, err)
	}
	res.engine = engine.NewClient(eng)

	raw, err := res.engine.Connect(ctx, s.creds.ServerAddress, common.RendezvousHost, common.RendezvousPort, s.creds.Token, false)
	if err != nil {
		return nil, err
	}

	prefix, err := ParseCIDR(raw)
	if err != nil {
		return nil, err
	}
	if !o.advance(s, StateConnecting, StateEstablishing, func() { s.cidr = raw }) {
		return nil, errCancelled
	}
	o.flush()
	common.LogInfo("Session %s: assigned %s", s.id, raw)

	iface, err := o.provisioner.Establish(ctx, tunif.Config{
		Label:        common.SessionLabel,
		Address:      prefix,
		DNSServers:   dnsServers,
		Routes:       defaultRoute,
		MTU:          common.TunnelMTU,
		ExcludedApps: excludedApps,
	})
	if err != nil {
		return nil, err
	}
	res.iface = iface

	installed := o.advance(s, StateEstablishing, StateLinked, func() {
		s.engine, s.iface = res.engine, res.iface
		res.engine, res.iface = nil, nil
	})
	if !installed {
		return nil, errCancelled
	}
	o.flush()

	o.mu.Lock()
	client, handle := s.engine, s.iface
	o.mu.Unlock()
	if client == nil || handle == nil {
		return nil, errCancelled
	}

	fd, err := handle.DetachFd()
	if err != nil {
		return nil, err
	}
	if err := client.Link(ctx, fd); err != nil {
		return nil, err
	}
	if !client.Alive(ctx) {
		if ctx.Err() != nil {
			return nil, errCancelled
		}
		return nil, fmt.Errorf("%w: engine not alive after link", common.ErrLivenessLost)
	}

	if !o.advance(s, StateLinked, StateActive, func() { s.activeAt = time.Now() }) {
		return nil, errCancelled
	}
	o.flush()
	common.LogInfo("Session %s: active on %s", s.id, raw)
	return client, nil
}

// teardown releases the session's handles exactly once, engine first, and
// marks it Terminated.
func (o *Orchestrator) teardown(s *Session, res *resources, cause error) {
	o.mu.Lock()
	if s.stopCause != nil {
		cause = s.stopCause
	} else if cause == nil || errors.Is(cause, errCancelled) {
		cause = common.ErrStopped
	}

	eng, iface := s.engine, s.iface
	s.engine, s.iface = nil, nil
	if eng == nil {
		eng = res.engine
	}
	if iface == nil {
		iface = res.iface
	}
	res.engine, res.iface = nil, nil
	o.mu.Unlock()

	if eng != nil {
		eng.Stop()
	}
	if iface != nil {
		if err := iface.Close(); err != nil {
			common.LogWarn("Session %s: closing interface: %v", s.id, err)
		}
	}

	o.mu.Lock()
	s.err = cause
	o.transition(s, StateTerminated)
	s.cancel()
	o.mu.Unlock()

	switch {
	case errors.Is(cause, common.ErrStopped), errors.Is(cause, common.ErrRevoked):
		common.LogInfo("Session %s: terminated (%v)", s.id, cause)
	default:
		common.LogError("Session %s: terminated: %v", s.id, cause)
	}

	o.flush()
	close(s.done)
}
