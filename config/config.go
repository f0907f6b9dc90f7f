// Package config provides configuration management for the VPN orchestrator.
// It handles loading, saving, and watching the daemon settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-orchestrator/common"
)

// Config represents the daemon configuration.
// Protocol parameters of the tunnel (rendezvous endpoint, DNS, MTU, routes)
// are fixed in package common and are not configurable.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// ShowNotifications enables desktop status notifications.
	ShowNotifications bool `yaml:"show_notifications"`
	// LivenessInterval is how often an active session polls the engine.
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	// API configures the local control API.
	API APIConfig `yaml:"api"`
	// Engine locates the tunnel engine plugin.
	Engine EngineConfig `yaml:"engine"`
	// Interface holds host-side settings for the Linux TUN builder.
	Interface InterfaceConfig `yaml:"interface"`
}

// APIConfig configures the local control API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// EngineConfig locates the engine plugin binary.
type EngineConfig struct {
	PluginPath string `yaml:"plugin_path"`
}

// InterfaceConfig holds host-side TUN settings.
type InterfaceConfig struct {
	// Name is the TUN device name requested from the kernel.
	Name string `yaml:"name"`
	// RouteTable is the routing table that carries the catch-all route.
	RouteTable int `yaml:"route_table"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		ShowNotifications: true,
		LivenessInterval:  common.MonitorInterval,
		API: APIConfig{
			Listen: common.DefaultAPIListen,
		},
		Engine: EngineConfig{
			PluginPath: "/usr/libexec/veilnet/tunnel-engine",
		},
		Interface: InterfaceConfig{
			Name:       "veilnet",
			RouteTable: 51820,
		},
	}
}

// DefaultPath returns the config file path in the user's config directory.
func DefaultPath() (string, error) {
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.ConfigFileName), nil
}

// Load loads the configuration from path.
// If the file doesn't exist, it creates one with default values.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", common.ErrConfigLoad, path, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate verifies configuration values, falling back to defaults where a
// value is unusable.
func (c *Config) validate() error {
	defaults := DefaultConfig()

	if _, ok := common.ParseLogLevel(c.LogLevel); !ok {
		c.LogLevel = defaults.LogLevel
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = defaults.LivenessInterval
	}
	if strings.TrimSpace(c.API.Listen) == "" {
		c.API.Listen = defaults.API.Listen
	}
	if strings.TrimSpace(c.Interface.Name) == "" {
		c.Interface.Name = defaults.Interface.Name
	}
	if len(c.Interface.Name) > 15 {
		return fmt.Errorf("interface name %q exceeds 15 characters", c.Interface.Name)
	}
	if c.Interface.RouteTable <= 0 {
		c.Interface.RouteTable = defaults.Interface.RouteTable
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() common.LogLevel {
	level, _ := common.ParseLogLevel(c.LogLevel)
	return level
}

// Save saves the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}
