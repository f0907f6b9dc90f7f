package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/yllada/vpn-orchestrator/api"
	"github.com/yllada/vpn-orchestrator/vpn"
)

const pollInterval = 500 * time.Millisecond

// Up starts a session on the running daemon.
type Up struct {
	Server   string        `short:"s" required:"" help:"Address of the VeilNet server" env:"VEILNET_SERVER"`
	Token    string        `short:"t" help:"Session token, keep it secret; prompted for when omitted" env:"VEILNET_TOKEN"`
	Remember bool          `short:"r" help:"Store the token in the keyring for this server"`
	Wait     time.Duration `help:"How long to wait for the session to become active, 0 to return immediately" default:"30s"`
}

// Run prompts for a missing token, starts the session and waits for it.
func (cmd *Up) Run(g *Globals) error {
	token := cmd.Token
	if token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		var err error
		token, err = promptToken(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}
	}

	c := newClient(g.API)
	resp, err := c.up(api.UpRequest{Server: cmd.Server, Token: token, Remember: cmd.Remember})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	fmt.Printf("Connecting to %s...\n", cmd.Server)

	if cmd.Wait <= 0 {
		fmt.Printf("Session %s is %s\n", resp.SessionID, resp.State)
		return nil
	}
	return waitActive(c, resp.SessionID, cmd.Wait)
}

// promptToken reads a token without echo. An empty answer leaves the
// lookup to the daemon's keyring.
func promptToken(in *os.File, out io.Writer) (string, error) {
	fmt.Fprint(out, "Token (empty to use the stored one): ")
	raw, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// waitActive polls the daemon until session id is Active or Terminated.
func waitActive(c *client, id string, wait time.Duration) error {
	timeout := time.After(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("session not active after %s", wait)
		case <-ticker.C:
			h, err := c.health()
			if err != nil {
				return err
			}
			if h.SessionID != id {
				return fmt.Errorf("session %s was replaced by %s", id, h.SessionID)
			}
			switch h.State {
			case vpn.StateActive.String():
				fmt.Printf("✓ Connected (%s)\n", h.CIDR)
				return nil
			case vpn.StateTerminated.String():
				if h.LastError != "" {
					return fmt.Errorf("connection failed: %s", h.LastError)
				}
				return fmt.Errorf("session stopped before it became active")
			}
		}
	}
}
