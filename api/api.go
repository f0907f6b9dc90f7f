// Package api serves the local control API of the daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/yllada/vpn-orchestrator/common"
	"github.com/yllada/vpn-orchestrator/gateway"
	"github.com/yllada/vpn-orchestrator/vpn"
)

// Controller accepts lifecycle signals.
type Controller interface {
	Handle(sig gateway.Signal) (*vpn.Session, error)
}

// StatusSource reports the current session.
type StatusSource interface {
	Current() *vpn.Session
	State() vpn.State
	IsActive() bool
}

// UpRequest is the body of POST /up. An empty token is looked up in the
// credential store by server address.
type UpRequest struct {
	Server   string `json:"server"`
	Token    string `json:"token"`
	Remember bool   `json:"remember"`
}

// Health is the body of GET /health.
type Health struct {
	State         string  `json:"state"`
	Active        bool    `json:"active"`
	SessionID     string  `json:"session_id,omitempty"`
	Server        string  `json:"server,omitempty"`
	CIDR          string  `json:"cidr,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	LastError     string  `json:"last_error,omitempty"`
}

// API is the local control API of the daemon.
type API struct {
	app    *fiber.App
	ctrl   Controller
	status StatusSource
	creds  common.CredentialStore
}

// New builds the API. creds may be nil, which disables token lookup and
// remember.
func New(ctrl Controller, status StatusSource, creds common.CredentialStore) *API {
	a := &API{
		ctrl:   ctrl,
		status: status,
		creds:  creds,
		app: fiber.New(fiber.Config{
			AppName:               common.AppName,
			DisableStartupMessage: true,
			ReadTimeout:           common.ManagementTimeout,
			WriteTimeout:          common.ManagementTimeout,
		}),
	}

	a.app.Post("/up", a.handleUp)
	a.app.Delete("/down", a.handleDown)
	a.app.Post("/revoke", a.handleRevoke)
	a.app.Get("/health", a.handleHealth)
	return a
}

// App returns the underlying fiber app.
func (a *API) App() *fiber.App {
	return a.app
}

// Listen serves on addr until Shutdown.
func (a *API) Listen(addr string) error {
	common.LogInfo("Control API listening on %s", addr)
	return a.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (a *API) Shutdown(ctx context.Context) error {
	return a.app.ShutdownWithContext(ctx)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return fiber.StatusBadRequest
	case errors.Is(err, common.ErrAlreadyRunning):
		return fiber.StatusConflict
	case errors.Is(err, common.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (a *API) handleUp(c *fiber.Ctx) error {
	req := &UpRequest{}
	if err := json.Unmarshal(c.Body(), req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"detail": "failed to parse request body",
		})
	}

	token := req.Token
	if token == "" && req.Server != "" && a.creds != nil {
		stored, err := a.creds.Get(req.Server)
		switch {
		case err == nil:
			token = stored
		case errors.Is(err, common.ErrCredentialsNotFound):
		default:
			common.LogWarn("Looking up token for %s: %v", req.Server, err)
		}
	}

	session, err := a.ctrl.Handle(gateway.StartRequested{ServerAddress: req.Server, Token: token})
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"detail": fmt.Sprintf("failed to start session: %v", err),
		})
	}

	if req.Remember && req.Token != "" && a.creds != nil {
		if err := a.creds.Store(req.Server, req.Token); err != nil {
			common.LogWarn("Could not remember token for %s: %v", req.Server, err)
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"session_id": session.ID(),
		"state":      session.State().String(),
	})
}

func (a *API) handleDown(c *fiber.Ctx) error {
	if _, err := a.ctrl.Handle(gateway.StopRequested{}); err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"detail": fmt.Sprintf("failed to stop session: %v", err),
		})
	}
	return c.JSON(a.health())
}

func (a *API) handleRevoke(c *fiber.Ctx) error {
	if _, err := a.ctrl.Handle(gateway.Revoked{}); err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"detail": fmt.Sprintf("failed to revoke session: %v", err),
		})
	}
	return c.JSON(a.health())
}

func (a *API) handleHealth(c *fiber.Ctx) error {
	return c.JSON(a.health())
}

func (a *API) health() Health {
	h := Health{
		State:  a.status.State().String(),
		Active: a.status.IsActive(),
	}
	s := a.status.Current()
	if s == nil {
		return h
	}
	h.SessionID = s.ID()
	h.Server = s.ServerAddress()
	h.CIDR = s.CIDR()
	h.UptimeSeconds = s.Uptime().Seconds()
	if err := s.Err(); err != nil && !errors.Is(err, common.ErrStopped) {
		h.LastError = err.Error()
	}
	return h
}
