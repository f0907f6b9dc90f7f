package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yllada/vpn-orchestrator/common"
	"github.com/yllada/vpn-orchestrator/engine"
	"github.com/yllada/vpn-orchestrator/gateway"
	"github.com/yllada/vpn-orchestrator/keyring"
	"github.com/yllada/vpn-orchestrator/tunif"
	"github.com/yllada/vpn-orchestrator/vpn"
)

type stubEngine struct {
	mu    sync.Mutex
	token string
	alive bool
}

func (e *stubEngine) Start(ctx context.Context, opts engine.StartOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.token = opts.Token
	e.alive = true
	return nil
}

func (e *stubEngine) CIDR() (string, error)                  { return "10.8.0.2/24", nil }
func (e *stubEngine) Link(ctx context.Context, fd int) error { return nil }

func (e *stubEngine) IsAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

func (e *stubEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alive = false
	return nil
}

func (e *stubEngine) lastToken() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

type stubIface struct{}

func (stubIface) DetachFd() (int, error) { return 3, nil }
func (stubIface) Close() error           { return nil }

type stubBuilder struct{}

func (stubBuilder) Establish(ctx context.Context, cfg tunif.Config) (tunif.Interface, error) {
	return stubIface{}, nil
}

type fixture struct {
	api    *API
	orch   *vpn.Orchestrator
	engine *stubEngine
	creds  *keyring.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	eng := &stubEngine{}
	orch := vpn.NewOrchestrator(func(ctx context.Context) (engine.Engine, error) {
		return eng, nil
	}, tunif.NewProvisioner(stubBuilder{}), vpn.OrchestratorConfig{LivenessInterval: 10 * time.Millisecond})

	gw := gateway.New(orch, gatewayNotifier{})
	t.Cleanup(gw.Shutdown)

	creds := keyring.NewLocal(t.TempDir())
	return &fixture{
		api:    New(gw, orch, creds),
		orch:   orch,
		engine: eng,
		creds:  creds,
	}
}

type gatewayNotifier struct{}

func (gatewayNotifier) Notify(common.Notification) error { return nil }

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.api.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: decoding %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode, out
}

func (f *fixture) waitActive(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !f.orch.IsActive() {
		if time.Now().After(deadline) {
			t.Fatalf("session never became active (state %v)", f.orch.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestUpDownHealth(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Fatalf("GET /health = %d, want %d", code, http.StatusOK)
	}
	if body["state"] != "Idle" {
		t.Errorf("state = %v, want Idle", body["state"])
	}

	code, body = f.do(t, http.MethodPost, "/up", `{"server":"vpn.example.com","token":"tok123"}`)
	if code != http.StatusAccepted {
		t.Fatalf("POST /up = %d (%v), want %d", code, body, http.StatusAccepted)
	}
	if body["session_id"] == "" {
		t.Error("session_id is empty")
	}
	f.waitActive(t)

	code, body = f.do(t, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Fatalf("GET /health = %d, want %d", code, http.StatusOK)
	}
	if body["state"] != "Active" || body["active"] != true {
		t.Errorf("health = %v, want Active", body)
	}
	if body["cidr"] != "10.8.0.2/24" {
		t.Errorf("cidr = %v, want 10.8.0.2/24", body["cidr"])
	}
	if body["server"] != "vpn.example.com" {
		t.Errorf("server = %v, want vpn.example.com", body["server"])
	}

	code, body = f.do(t, http.MethodPost, "/up", `{"server":"vpn.example.com","token":"tok123"}`)
	if code != http.StatusConflict {
		t.Errorf("second POST /up = %d, want %d", code, http.StatusConflict)
	}

	code, body = f.do(t, http.MethodDelete, "/down", "")
	if code != http.StatusOK {
		t.Fatalf("DELETE /down = %d, want %d", code, http.StatusOK)
	}
	if body["state"] != "Terminated" || body["active"] != false {
		t.Errorf("health after down = %v, want Terminated", body)
	}
	if _, ok := body["last_error"]; ok {
		t.Errorf("last_error = %v after a user stop", body["last_error"])
	}

	code, _ = f.do(t, http.MethodDelete, "/down", "")
	if code != http.StatusOK {
		t.Errorf("repeated DELETE /down = %d, want %d", code, http.StatusOK)
	}
}

func TestUpValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"server":`, http.StatusBadRequest},
		{"empty server", `{"server":"","token":"tok123"}`, http.StatusBadRequest},
		{"no stored token", `{"server":"vpn.example.com"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, body := f.do(t, http.MethodPost, "/up", tt.body)
			if code != tt.want {
				t.Errorf("POST /up = %d (%v), want %d", code, body, tt.want)
			}
			if f.orch.Current() != nil {
				t.Error("a session was created for a rejected request")
			}
		})
	}
}

func TestUpRemembersToken(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/up", `{"server":"vpn.example.com","token":"tok123","remember":true}`)
	if code != http.StatusAccepted {
		t.Fatalf("POST /up = %d (%v), want %d", code, body, http.StatusAccepted)
	}
	f.waitActive(t)

	stored, err := f.creds.Get("vpn.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored != "tok123" {
		t.Errorf("stored token = %q, want tok123", stored)
	}

	f.do(t, http.MethodDelete, "/down", "")

	code, body = f.do(t, http.MethodPost, "/up", `{"server":"vpn.example.com"}`)
	if code != http.StatusAccepted {
		t.Fatalf("POST /up with stored token = %d (%v), want %d", code, body, http.StatusAccepted)
	}
	f.waitActive(t)
	if got := f.engine.lastToken(); got != "tok123" {
		t.Errorf("engine token = %q, want tok123", got)
	}
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)

	if code, body := f.do(t, http.MethodPost, "/up", `{"server":"vpn.example.com","token":"tok123"}`); code != http.StatusAccepted {
		t.Fatalf("POST /up = %d (%v)", code, body)
	}
	f.waitActive(t)

	code, body := f.do(t, http.MethodPost, "/revoke", "")
	if code != http.StatusOK {
		t.Fatalf("POST /revoke = %d, want %d", code, http.StatusOK)
	}
	if body["state"] != "Terminated" {
		t.Errorf("state = %v, want Terminated", body["state"])
	}
	if body["last_error"] != common.ErrRevoked.Error() {
		t.Errorf("last_error = %v, want %q", body["last_error"], common.ErrRevoked.Error())
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{common.ErrInvalidCredentials, http.StatusBadRequest},
		{common.ErrAlreadyRunning, http.StatusConflict},
		{common.ErrClosed, http.StatusServiceUnavailable},
		{common.ErrEngineConnect, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
