package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/vmtunnel"
	ConfigFileName = "config.hcl"
	StateDirName   = "tunnels"
	EventsDBName   = "events.db"
)

// Config is the global configuration instance, set once at startup by the
// root command.
var Config *Configuration

// Configuration represents the complete vmtunnel configuration.
type Configuration struct {
	ConfigPath string   // Directory containing config, state and journal
	Executable string   // Tunneling command, resolved through PATH
	StateDir   string   // Directory holding one record file per tunnel
	EventsDB   string   // Path to the event journal, empty disables it
	Defaults   Defaults // Per-tunnel defaults
}

// Defaults are the per-tunnel settings applied when a create call leaves
// them unset.
type Defaults struct {
	RemotePort    int           // Remote port to forward to
	Timeout       time.Duration // Readiness timeout
	ProbeInterval time.Duration // Cadence of readiness probes
	ShowWindow    bool          // Run tunnels with a visible console
}

// HCL parsing structs

type hclConfig struct {
	Executable string       `hcl:"executable,optional"`
	StateDir   string       `hcl:"state_dir,optional"`
	EventsDB   string       `hcl:"events_db,optional"`
	Defaults   *hclDefaults `hcl:"defaults,block"`
}

type hclDefaults struct {
	RemotePort    int    `hcl:"remote_port,optional"`
	Timeout       string `hcl:"timeout,optional"`
	ProbeInterval string `hcl:"probe_interval,optional"`
	ShowWindow    bool   `hcl:"show_window,optional"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig(configPath string) *Configuration {
	return &Configuration{
		ConfigPath: configPath,
		Executable: "gcloud",
		StateDir:   filepath.Join(configPath, StateDirName),
		EventsDB:   filepath.Join(configPath, EventsDBName),
		Defaults: Defaults{
			RemotePort:    22,
			Timeout:       30 * time.Second,
			ProbeInterval: 500 * time.Millisecond,
		},
	}
}

// LoadConfig reads config.hcl from configPath, applying defaults for every
// setting the file leaves out. A missing file is not an error - first run
// works with defaults alone.
func LoadConfig(configPath string) (*Configuration, error) {
	cfg := DefaultConfig(configPath)

	filename := filepath.Join(configPath, ConfigFileName)
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, nil
	}

	var hclCfg hclConfig
	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if hclCfg.Executable != "" {
		cfg.Executable = ExpandPath(hclCfg.Executable)
	}
	if hclCfg.StateDir != "" {
		cfg.StateDir = ExpandPath(hclCfg.StateDir)
	}
	if hclCfg.EventsDB != "" {
		cfg.EventsDB = ExpandPath(hclCfg.EventsDB)
	}

	if d := hclCfg.Defaults; d != nil {
		if d.RemotePort != 0 {
			cfg.Defaults.RemotePort = d.RemotePort
		}
		if d.Timeout != "" {
			timeout, err := time.ParseDuration(d.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid defaults.timeout: %w", err)
			}
			cfg.Defaults.Timeout = timeout
		}
		if d.ProbeInterval != "" {
			interval, err := time.ParseDuration(d.ProbeInterval)
			if err != nil {
				return nil, fmt.Errorf("invalid defaults.probe_interval: %w", err)
			}
			cfg.Defaults.ProbeInterval = interval
		}
		cfg.Defaults.ShowWindow = d.ShowWindow
	}

	return cfg, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
