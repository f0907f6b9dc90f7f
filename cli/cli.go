// Package cli provides the command-line interface of the orchestrator.
// The default command runs the daemon; up, down and status talk to a running
// daemon over its local control API.
package cli

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"

	"github.com/yllada/vpn-orchestrator/common"
	"github.com/yllada/vpn-orchestrator/config"
)

// Globals are flags shared by every command.
type Globals struct {
	Verbose bool   `help:"Enable verbose logging"`
	Config  string `short:"c" help:"Path to the configuration file" type:"path" env:"VEILNET_CONFIG"`
	API     string `help:"Address of the daemon control API" default:"${api}" env:"VEILNET_API"`
}

// configPath returns the configuration file to use.
func (g *Globals) configPath() (string, error) {
	if g.Config != "" {
		return g.Config, nil
	}
	return config.DefaultPath()
}

// CLI is the command-line grammar.
type CLI struct {
	Globals

	Version kong.VersionFlag `short:"v" help:"Print the version and exit"`
	Run     Run              `cmd:"run" default:"true" help:"Run the session daemon"`
	Up      Up               `cmd:"up" help:"Start a tunnel session on the running daemon"`
	Down    Down             `cmd:"down" help:"Stop the tunnel session"`
	Status  Status           `cmd:"status" help:"Show the tunnel session"`
}

// Vars returns the interpolation variables for the kong parser.
func Vars(version string) kong.Vars {
	return kong.Vars{
		"version": version,
		"api":     common.DefaultAPIListen,
	}
}

// Down stops the session on the running daemon.
type Down struct{}

// Run stops the session and reports how it ended.
func (cmd *Down) Run(g *Globals) error {
	health, err := newClient(g.API).down()
	if err != nil {
		return err
	}
	if health.LastError != "" {
		fmt.Printf("✓ Disconnected (%s)\n", health.LastError)
		return nil
	}
	fmt.Println("✓ Disconnected")
	return nil
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
