package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/yllada/vpn-orchestrator/api"
	"github.com/yllada/vpn-orchestrator/common"
)

// client talks to the daemon's control API.
type client struct {
	base *url.URL
	http *http.Client
}

func newClient(addr string) *client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		base = &url.URL{Scheme: "http", Host: common.DefaultAPIListen}
	}
	return &client{
		base: base,
		http: &http.Client{Timeout: 2 * common.ManagementTimeout},
	}
}

type upResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (c *client) up(req api.UpRequest) (*upResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}
	resp := &upResponse{}
	if err := c.do(http.MethodPost, "/up", body, http.StatusAccepted, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) down() (*api.Health, error) {
	health := &api.Health{}
	if err := c.do(http.MethodDelete, "/down", nil, http.StatusOK, health); err != nil {
		return nil, err
	}
	return health, nil
}

func (c *client) health() (*api.Health, error) {
	health := &api.Health{}
	if err := c.do(http.MethodGet, "/health", nil, http.StatusOK, health); err != nil {
		return nil, err
	}
	return health, nil
}

func (c *client) do(method, path string, body []byte, want int, out any) error {
	u := *c.base
	u.Path = path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.base.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != want {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Detail)
		}
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}
