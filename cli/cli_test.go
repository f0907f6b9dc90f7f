package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"

	"github.com/yllada/vpn-orchestrator/api"
	"github.com/yllada/vpn-orchestrator/common"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{2*time.Minute + 5*time.Second, "2m 5s"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3h 4m 5s"},
		{26 * time.Hour, "26h 0m 0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func parse(t *testing.T, args ...string) (*CLI, string) {
	t.Helper()
	var c CLI
	parser, err := kong.New(&c, Vars("test"), kong.Exit(func(int) { t.Fatalf("unexpected exit") }))
	if err != nil {
		t.Fatalf("kong.New() error = %v", err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return &c, ctx.Command()
}

func TestParse(t *testing.T) {
	c, cmd := parse(t)
	if cmd != "run" {
		t.Errorf("default command = %q, want %q", cmd, "run")
	}
	if c.API != common.DefaultAPIListen {
		t.Errorf("API = %q, want %q", c.API, common.DefaultAPIListen)
	}

	c, cmd = parse(t, "up", "-s", "vpn.example.com", "-t", "secret", "--remember", "--wait", "0s")
	if cmd != "up" {
		t.Errorf("command = %q, want %q", cmd, "up")
	}
	if c.Up.Server != "vpn.example.com" || c.Up.Token != "secret" || !c.Up.Remember || c.Up.Wait != 0 {
		t.Errorf("Up = %+v", c.Up)
	}

	c, _ = parse(t, "--verbose", "--api", "127.0.0.1:9000", "status")
	if !c.Verbose || c.API != "127.0.0.1:9000" {
		t.Errorf("Globals = %+v", c.Globals)
	}
}

func TestNewClientAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:1993", "http://127.0.0.1:1993"},
		{"http://localhost:8080", "http://localhost:8080"},
	}
	for _, tt := range tests {
		if got := newClient(tt.in).base.String(); got != tt.want {
			t.Errorf("newClient(%q).base = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// daemon is a stand-in for the control API.
type daemon struct {
	states []string
	up     api.UpRequest
	status int
}

func (d *daemon) server(t *testing.T) *httptest.Server {
	t.Helper()
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /up", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&d.up); err != nil {
			t.Errorf("decode /up body: %v", err)
		}
		if d.status != 0 {
			w.WriteHeader(d.status)
			json.NewEncoder(w).Encode(map[string]string{"detail": "failed to start session: already running"})
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"session_id": "abc", "state": "Connecting"})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		state := d.states[min(polls, len(d.states)-1)]
		polls++
		h := api.Health{State: state, SessionID: "abc", Server: "vpn.example.com"}
		if state == "Active" {
			h.Active = true
			h.CIDR = "10.8.0.2/24"
		}
		if state == "Terminated" {
			h.LastError = "liveness lost"
		}
		json.NewEncoder(w).Encode(h)
	})
	mux.HandleFunc("DELETE /down", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.Health{State: "Terminated", SessionID: "abc"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientUp(t *testing.T) {
	d := &daemon{states: []string{"Connecting"}}
	srv := d.server(t)

	resp, err := newClient(srv.URL).up(api.UpRequest{Server: "vpn.example.com", Token: "secret", Remember: true})
	if err != nil {
		t.Fatalf("up() error = %v", err)
	}
	if resp.SessionID != "abc" {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, "abc")
	}
	if d.up.Server != "vpn.example.com" || d.up.Token != "secret" || !d.up.Remember {
		t.Errorf("request = %+v", d.up)
	}
}

func TestClientUpError(t *testing.T) {
	d := &daemon{states: []string{"Active"}, status: http.StatusConflict}
	srv := d.server(t)

	_, err := newClient(srv.URL).up(api.UpRequest{Server: "vpn.example.com", Token: "secret"})
	if err == nil {
		t.Fatal("up() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "already running") {
		t.Errorf("up() error = %v, want status and detail", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	if _, err := newClient(addr).health(); err == nil {
		t.Error("health() error = nil, want error")
	}
}

func TestWaitActive(t *testing.T) {
	tests := []struct {
		name    string
		states  []string
		wantErr string
	}{
		{"active", []string{"Connecting", "Establishing", "Active"}, ""},
		{"failed", []string{"Connecting", "Terminated"}, "liveness lost"},
		{"timeout", []string{"Connecting"}, "not active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &daemon{states: tt.states}
			srv := d.server(t)

			err := waitActive(newClient(srv.URL), "abc", 3*time.Second)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("waitActive() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("waitActive() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestPrintHealth(t *testing.T) {
	var buf bytes.Buffer
	printHealth(&buf, &api.Health{State: "Idle"})
	if got := buf.String(); got != "No tunnel session.\n" {
		t.Errorf("printHealth(idle) = %q", got)
	}

	buf.Reset()
	printHealth(&buf, &api.Health{
		State:         "Active",
		Active:        true,
		SessionID:     "0123456789abcdef",
		Server:        "vpn.example.com",
		CIDR:          "10.8.0.2/24",
		UptimeSeconds: 125,
	})
	out := buf.String()
	for _, want := range []string{"01234567", "vpn.example.com", "Active", "2m 5s", "10.8.0.2/24"} {
		if !strings.Contains(out, want) {
			t.Errorf("printHealth() = %q, missing %q", out, want)
		}
	}
	if strings.Contains(out, "89abcdef") {
		t.Errorf("printHealth() = %q, want truncated session id", out)
	}
}
