// Package engine wraps the external secure-tunnel engine.
//
// The engine performs the handshake, key exchange and packet relay; this
// package only drives it. Engines are reached either in-process (a host
// supplies an Engine directly) or as a go-plugin subprocess speaking net/rpc.
package engine

import "context"

// StartOptions are the parameters of an engine connect.
type StartOptions struct {
	ServerAddress  string
	RendezvousHost string
	RendezvousPort int
	Token          string
	Insecure       bool
}

// Engine is the contract of the secure-tunnel engine.
type Engine interface {
	// Start performs the handshake with the server.
	Start(ctx context.Context, opts StartOptions) error
	// CIDR returns the client address assigned by the server after Start,
	// in "address/prefix" form.
	CIDR() (string, error)
	// Link hands the raw interface descriptor to the engine, which owns it
	// from then on.
	Link(ctx context.Context, fd int) error
	// IsAlive reports whether the tunnel is carrying traffic.
	IsAlive() bool
	// Stop tears the engine down and releases everything it owns.
	Stop() error
}

// Factory creates a fresh engine for one session.
type Factory func(ctx context.Context) (Engine, error)
