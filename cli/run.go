package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yllada/vpn-orchestrator/api"
	"github.com/yllada/vpn-orchestrator/common"
	"github.com/yllada/vpn-orchestrator/config"
	"github.com/yllada/vpn-orchestrator/engine"
	"github.com/yllada/vpn-orchestrator/gateway"
	"github.com/yllada/vpn-orchestrator/keyring"
	"github.com/yllada/vpn-orchestrator/notify"
	"github.com/yllada/vpn-orchestrator/tunif"
	"github.com/yllada/vpn-orchestrator/vpn"
)

// Run runs the daemon until SIGINT or SIGTERM.
type Run struct{}

// Run wires the daemon and blocks until shutdown.
func (cmd *Run) Run(g *Globals) error {
	path, err := g.configPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level := cfg.Level()
	if g.Verbose {
		level = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       level,
		EnableFile:  true,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	common.LogInfo("Starting %s daemon", common.AppName)

	factory := engine.PluginFactory(cfg.Engine.PluginPath, common.GetLogger().HCLog().Named("engine"))
	provisioner := tunif.NewProvisioner(tunif.NewPlatformBuilder(cfg.Interface.Name, cfg.Interface.RouteTable))
	orch := vpn.NewOrchestrator(factory, provisioner, vpn.OrchestratorConfig{
		LivenessInterval: cfg.LivenessInterval,
	})

	var desktop common.Notifier
	if d, err := notify.NewDBusNotifier(); err != nil {
		common.LogWarn("Desktop notifications unavailable, logging status instead: %v", err)
	} else {
		desktop = d
		defer d.Close()
	}
	notifier := notify.NewToggle(desktop, cfg.ShowNotifications)
	gw := gateway.New(orch, notifier)

	creds := keyring.New(filepath.Dir(path))
	server := api.New(gw, orch, creds)

	go func() {
		err := config.Watch(ctx, path, func(c *config.Config) {
			if !g.Verbose {
				common.GetLogger().SetLevel(c.Level())
			}
			notifier.SetEnabled(c.ShowNotifications)
			orch.UpdateConfig(vpn.OrchestratorConfig{LivenessInterval: c.LivenessInterval})
		})
		if err != nil {
			common.LogWarn("Config watch disabled: %v", err)
		}
	}()

	signals := make(chan gateway.Signal, 1)
	go gw.Serve(ctx, signals)
	go forwardRevocations(ctx, signals)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- server.Listen(cfg.API.Listen)
	}()

	select {
	case <-ctx.Done():
		common.LogInfo("Received shutdown signal, stopping...")
	case err = <-listenErr:
		common.LogError("Control API stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), common.ManagementTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		common.LogWarn("Control API shutdown: %v", serr)
	}
	gw.Shutdown()

	common.LogInfo("%s daemon stopped", common.AppName)
	return err
}

// forwardRevocations turns the host's revocation signal into Revoked.
func forwardRevocations(ctx context.Context, out chan<- gateway.Signal) {
	sigs := revocationSignals()
	if len(sigs) == 0 {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			common.LogInfo("Received %v, revoking the tunnel", sig)
			select {
			case out <- gateway.Revoked{}:
			case <-ctx.Done():
				return
			}
		}
	}
}
