package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// cliConfig is the YAML configuration for the qga tool.
//
// Example:
//
//	socket_dir: /var/lib/libvirt/qemu/channel/target
//	timeout: 30s
//	vms:
//	  web01: /tmp/web01-qga.sock
type cliConfig struct {
	// SocketDir overrides the libvirt channel directory searched by -vm.
	SocketDir string `yaml:"socket_dir"`

	// VMs maps a domain name to an explicit socket path, taking precedence
	// over the socket_dir search.
	VMs map[string]string `yaml:"vms"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// loadConfigFile reads a YAML configuration file. Environment variables in
// the file are expanded. A missing file is not an error when optional is
// set.
func loadConfigFile(path string, optional bool) (*cliConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return &cliConfig{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg cliConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.TimeoutRaw != "" {
		cfg.Timeout, err = time.ParseDuration(cfg.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing timeout %q: %w", cfg.TimeoutRaw, err)
		}
	}

	return &cfg, nil
}

// loadConfig resolves the configuration file path from the -config flag,
// the QGA_CONFIG environment variable, or the per-user default location.
// Only explicitly named files are required to exist.
func loadConfig(flagPath string) (*cliConfig, error) {
	if flagPath != "" {
		return loadConfigFile(flagPath, false)
	}
	if path := os.Getenv("QGA_CONFIG"); path != "" {
		return loadConfigFile(path, false)
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return &cliConfig{}, nil
	}
	return loadConfigFile(filepath.Join(dir, "qga", "config.yaml"), true)
}
