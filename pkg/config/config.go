/*
Package config loads the Forge3D host's YAML configuration document
(spec.md section 6). Every setting except the HTTP listen port is
file-based; the listen port comes from a single environment variable,
FORGE3D_PORT, so operators can run multiple hosts side by side without
editing the shared config file.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// BridgeConfig configures the InferenceBridge (spec.md section 6).
type BridgeConfig struct {
	Command                string `yaml:"command"`
	PortRangeLow            int    `yaml:"port_range_low"`
	PortRangeHigh           int    `yaml:"port_range_high"`
	StartupTimeoutSeconds   int    `yaml:"startup_timeout_s"`
	SingleStageTimeoutSeconds int  `yaml:"single_stage_timeout_s"`
	FullTimeoutSeconds      int    `yaml:"full_timeout_s"`
	HealthIntervalSeconds   int    `yaml:"health_interval_s"`
	HealthFailuresToCrash   int    `yaml:"health_failures_to_crash"`
	RestartBudget           int    `yaml:"restart_budget"`
}

// TelemetryConfig sizes the TelemetryHub's ring buffers (spec.md section 6).
type TelemetryConfig struct {
	RingSize       int `yaml:"ring_size"`
	LatencyWindow  int `yaml:"latency_window"`
}

// Config is the full YAML document spec.md section 6 enumerates.
type Config struct {
	AssetRoot string          `yaml:"asset_root"`
	StorePath string          `yaml:"store_path"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Port is resolved from FORGE3D_PORT, not the YAML document.
	Port int `yaml:"-"`
}

const defaultPort = 8088

// Default returns a Config with the defaults spec.md's state-machine
// timing constants imply, before any file or environment override is
// applied.
func Default() Config {
	return Config{
		AssetRoot: "./data/assets",
		StorePath: "./data/store",
		Bridge: BridgeConfig{
			Command:                   "forge3d-worker",
			PortRangeLow:              8001,
			PortRangeHigh:             8010,
			StartupTimeoutSeconds:     30,
			SingleStageTimeoutSeconds: 180,
			FullTimeoutSeconds:        360,
			HealthIntervalSeconds:     10,
			HealthFailuresToCrash:     3,
			RestartBudget:             3,
		},
		Telemetry: TelemetryConfig{
			RingSize:      100,
			LatencyWindow: 1000,
		},
		Port: defaultPort,
	}
}

// Load reads path, merges it over Default(), and resolves the listen
// port from FORGE3D_PORT. An empty path is not an error: the host runs
// on defaults alone.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if raw := os.Getenv("FORGE3D_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: FORGE3D_PORT=%q is not an integer: %w", raw, err)
		}
		cfg.Port = port
	}

	return cfg, cfg.Validate()
}

// Validate checks the invariants the rest of the host assumes hold.
func (c Config) Validate() error {
	if c.AssetRoot == "" {
		return fmt.Errorf("config: asset_root must not be empty")
	}
	if c.StorePath == "" {
		return fmt.Errorf("config: store_path must not be empty")
	}
	if c.Bridge.PortRangeLow <= 0 || c.Bridge.PortRangeHigh < c.Bridge.PortRangeLow {
		return fmt.Errorf("config: bridge.port_range [%d, %d] is invalid", c.Bridge.PortRangeLow, c.Bridge.PortRangeHigh)
	}
	if c.Bridge.Command == "" {
		return fmt.Errorf("config: bridge.command must not be empty")
	}
	return nil
}

func (b BridgeConfig) StartupTimeout() time.Duration {
	return time.Duration(b.StartupTimeoutSeconds) * time.Second
}

func (b BridgeConfig) SingleStageTimeout() time.Duration {
	return time.Duration(b.SingleStageTimeoutSeconds) * time.Second
}

func (b BridgeConfig) FullTimeout() time.Duration {
	return time.Duration(b.FullTimeoutSeconds) * time.Second
}

func (b BridgeConfig) HealthInterval() time.Duration {
	return time.Duration(b.HealthIntervalSeconds) * time.Second
}
