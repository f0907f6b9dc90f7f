package engine

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

const pluginName = "engine"

// Handshake is shared by the host and the engine plugin binary.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TUNNEL_ENGINE",
	MagicCookieValue: "tunnel-engine",
}

// Plugin exposes an Engine over go-plugin's net/rpc protocol.
type Plugin struct {
	Impl Engine
}

func (p *Plugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return newRPCServer(p.Impl), nil
}

func (Plugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// PluginMap returns the plugin set served by engine binaries. impl may be
// nil on the host side.
func PluginMap(impl Engine) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		pluginName: &Plugin{Impl: impl},
	}
}

// Serve runs impl as an engine plugin. It is called from the engine binary's
// main and does not return.
func Serve(impl Engine) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap(impl),
	})
}

// NewPluginEngine launches the engine binary at path and returns a handle to
// it. Stopping the returned engine also terminates the subprocess.
func NewPluginEngine(path string, logger hclog.Logger) (Engine, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap(nil),
		Cmd:              exec.Command(path),
		Logger:           logger,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("connecting to engine plugin %s: %w", path, err)
	}

	raw, err := rpcClient.Dispense(pluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispensing engine plugin: %w", err)
	}

	eng, ok := raw.(*RPCClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("engine plugin returned %T", raw)
	}
	eng.kill = client.Kill
	return eng, nil
}

// PluginFactory returns a Factory that launches one plugin subprocess per
// session.
func PluginFactory(path string, logger hclog.Logger) Factory {
	return func(ctx context.Context) (Engine, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewPluginEngine(path, logger)
	}
}
