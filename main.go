// Package main provides the entry point for the VeilNet orchestrator.
// The orchestrator turns a server address and token into a live tunnel:
// it drives the tunnel engine plugin, provisions the TUN interface and hands
// the interface to the engine, and tears both down on every exit path.
//
// Usage:
//
//	vpn-orchestrator [run]                 run the daemon
//	vpn-orchestrator up -s SERVER [-t TOKEN] [--remember]
//	vpn-orchestrator down
//	vpn-orchestrator status
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/yllada/vpn-orchestrator/cli"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	version := appVersion
	if buildTime != "unknown" {
		version = fmt.Sprintf("%s (build %s, commit %s)", appVersion, buildTime, commitSHA)
	}

	var c cli.CLI
	ctx := kong.Parse(&c,
		kong.Name("vpn-orchestrator"),
		kong.Description("VeilNet tunnel session orchestrator"),
		kong.UsageOnError(),
		cli.Vars(version),
	)

	if err := ctx.Run(&c.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
