package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/yllada/vpn-orchestrator/api"
)

// Status shows the daemon's current session.
type Status struct{}

// Run prints the session table.
func (cmd *Status) Run(g *Globals) error {
	h, err := newClient(g.API).health()
	if err != nil {
		return err
	}
	printHealth(os.Stdout, h)
	return nil
}

// printHealth writes the session as a table.
func printHealth(out io.Writer, h *api.Health) {
	if h.SessionID == "" {
		fmt.Fprintln(out, "No tunnel session.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSERVER\tSTATE\tUPTIME\tADDRESS")
	fmt.Fprintln(w, "-------\t------\t-----\t------\t-------")

	shortID := h.SessionID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	uptime := "-"
	if h.Active {
		uptime = formatDuration(time.Duration(h.UptimeSeconds * float64(time.Second)))
	}
	addr := h.CIDR
	if addr == "" {
		addr = "-"
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID, h.Server, h.State, uptime, addr)
	w.Flush()

	if h.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", h.LastError)
	}
}
