// Package common provides shared constants, types, utilities, and interfaces
// used throughout the VPN orchestrator.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: rendezvous endpoint, interface parameters, timeouts, file names
//   - Errors: Sentinel errors for the session failure taxonomy
//   - Interfaces: Abstractions for status notification, token storage, and logging
//   - Logger: hclog-backed logging with optional rotated file output
//   - Utils: Config directory resolution and small helpers
//
// # Usage
//
//	import "github.com/yllada/vpn-orchestrator/common"
//
//	common.LogInfo("Connecting to %s", server)
//
//	if errors.Is(err, common.ErrAlreadyRunning) {
//	    // A session is already live
//	}
package common
