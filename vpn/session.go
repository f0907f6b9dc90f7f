package vpn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yllada/vpn-orchestrator/engine"
	"github.com/yllada/vpn-orchestrator/tunif"
)

// Session is one run of the tunnel, from start to Terminated. A Session is
// never restarted; a new start creates a new one.
//
// All mutable fields are guarded by the owning Orchestrator's lock.
type Session struct {
	id        string
	creds     Credentials
	createdAt time.Time

	mu *sync.Mutex

	state     State
	cidr      string
	activeAt  time.Time
	err       error
	stopCause error

	engine *engine.Client
	iface  *tunif.Handle

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(creds Credentials, mu *sync.Mutex) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.NewString(),
		creds:     creds,
		createdAt: time.Now(),
		mu:        mu,
		state:     StateIdle,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// ServerAddress returns the server this session connects to.
func (s *Session) ServerAddress() string {
	return s.creds.ServerAddress
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CIDR returns the address assigned by the engine, or "" before connect.
func (s *Session) CIDR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cidr
}

// Err returns why the session terminated. It is nil until Terminated.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Uptime returns how long the session has been active.
func (s *Session) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive || s.activeAt.IsZero() {
		return 0
	}
	return time.Since(s.activeAt)
}

// Done is closed once the session is Terminated and its resources released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// event snapshots the session. Callers hold the lock.
func (s *Session) event() Event {
	return Event{
		SessionID:     s.id,
		ServerAddress: s.creds.ServerAddress,
		State:         s.state,
		CIDR:          s.cidr,
		Err:           s.err,
	}
}

// Event describes a state transition of a session.
type Event struct {
	SessionID     string
	ServerAddress string
	State         State
	CIDR          string
	// Err is the termination cause, set on StateTerminated.
	Err error
}
