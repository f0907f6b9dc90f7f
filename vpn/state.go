package vpn

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/yllada/vpn-orchestrator/common"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateIdle means no session has been started.
	StateIdle State = iota
	// StateConnecting means the engine handshake is in progress.
	StateConnecting
	// StateEstablishing means the interface is being provisioned.
	StateEstablishing
	// StateLinked means the interface exists and is being handed to the engine.
	StateLinked
	// StateActive means traffic flows through the tunnel.
	StateActive
	// StateStopping means a stop or revoke is tearing the session down.
	StateStopping
	// StateTerminated is final. Every resource has been released.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateEstablishing:
		return "Establishing"
	case StateLinked:
		return "Linked"
	case StateActive:
		return "Active"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Running reports whether a session in this state blocks a new start.
func (s State) Running() bool {
	return s != StateIdle && s != StateTerminated
}

// Credentials identify the server and authorise the session.
type Credentials struct {
	ServerAddress string
	Token         string
}

func (c Credentials) validate() error {
	if strings.TrimSpace(c.ServerAddress) == "" {
		return fmt.Errorf("%w: server address is empty", common.ErrInvalidCredentials)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: token is empty", common.ErrInvalidCredentials)
	}
	return nil
}

// ParseCIDR parses the engine-assigned address. The string is split on its
// first '/'; the prefix must be a decimal length valid for the address
// family. Anything else is a protocol violation.
func ParseCIDR(raw string) (netip.Prefix, error) {
	addrPart, bitsPart, ok := strings.Cut(raw, "/")
	if !ok {
		return netip.Prefix{}, fmt.Errorf("%w: CIDR %q has no prefix length", common.ErrProtocolViolation, raw)
	}

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: CIDR %q: %w", common.ErrProtocolViolation, raw, err)
	}
	if addr.Zone() != "" {
		return netip.Prefix{}, fmt.Errorf("%w: CIDR %q carries a zone", common.ErrProtocolViolation, raw)
	}

	if bitsPart == "" || strings.TrimLeft(bitsPart, "0123456789") != "" {
		return netip.Prefix{}, fmt.Errorf("%w: CIDR %q has a non-numeric prefix length", common.ErrProtocolViolation, raw)
	}
	bits, err := strconv.Atoi(bitsPart)
	if err != nil || bits > addr.BitLen() {
		return netip.Prefix{}, fmt.Errorf("%w: CIDR %q prefix length out of range", common.ErrProtocolViolation, raw)
	}

	return netip.PrefixFrom(addr, bits), nil
}

var errCancelled = errors.New("session cancelled")
