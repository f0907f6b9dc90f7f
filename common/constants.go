// Package common provides shared constants, types, and utilities
// used across the VPN orchestrator.
package common

import "time"

// Application metadata.
const (
	// AppID is the unique identifier for the application.
	AppID = "app.veilnet.orchestrator"
	// AppName is the display name of the application.
	AppName = "VeilNet"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "vpn-orchestrator"
)

// File names used by the application.
const (
	ConfigFileName      = "config.yaml"
	CredentialsFileName = ".credentials"
	LogFileName         = "vpn-orchestrator.log"
)

// Rendezvous endpoint handed to the engine on every connect.
const (
	RendezvousHost = "nats.veilnet.app"
	RendezvousPort = 30422
)

// Interface configuration applied to every session. These are part of the
// contract with the platform and are not user configurable.
const (
	// SessionLabel names the virtual interface session on the host.
	SessionLabel = "VeilNet"
	// DNSServer is the only resolver pushed to the interface.
	DNSServer = "1.1.1.1"
	// DefaultRoute is the catch-all route installed on the interface.
	DefaultRoute = "0.0.0.0/0"
	// TunnelMTU is the MTU of the virtual interface.
	TunnelMTU = 1500
	// SelfApp marks the host application in an exclusion list.
	SelfApp = "self"
)

// Default timeouts and intervals.
const (
	// MonitorInterval is how often to poll engine liveness.
	MonitorInterval = 1 * time.Second
	// ManagementTimeout is the timeout for local API requests.
	ManagementTimeout = 5 * time.Second
	// StatusQueueSize bounds pending status publications.
	StatusQueueSize = 16
)

// Local control API.
const (
	DefaultAPIListen = "127.0.0.1:1993"
)
