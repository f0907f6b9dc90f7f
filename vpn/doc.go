// Package vpn implements the session lifecycle of the VeilNet tunnel.
//
// This package turns a server address and token into a live, routable
// tunnel and tears it down cleanly on every exit path:
//
//   - Session: one run of the tunnel, from start to Terminated
//   - Orchestrator: owns the current session, its supervised task and the
//     hand-off of the interface descriptor from the provisioner to the engine
//   - Liveness watch: polls the engine while the session is active
//
// # Session Flow
//
// A typical session:
//
//  1. The gateway calls Orchestrator.Start with the credentials
//  2. The engine connects and reports the assigned CIDR
//  3. The interface is established for that address with a catch-all route
//  4. The interface descriptor is detached and linked into the engine
//  5. The session is Active until stopped, revoked or the engine dies
//
// # States
//
//	Idle -> Connecting -> Establishing -> Linked -> Active
//	Connecting | Establishing | Linked | Active -> Stopping -> Terminated
//	any -> Terminated (failure)
//
// Terminated is final. A new Start creates a new Session.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Session state and both handles
// sit behind the orchestrator's single lock, so exactly one teardown runs per
// session even when Stop races a failure.
package vpn
