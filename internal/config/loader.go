package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr            string   `json:"addr" yaml:"addr" toml:"addr"`
	ControlPlaneURL string   `json:"control_plane_url" yaml:"control_plane_url" toml:"control_plane_url"`
	TextGenURL      string   `json:"textgen_url" yaml:"textgen_url" toml:"textgen_url"`
	ImageGenURL     string   `json:"imagegen_url" yaml:"imagegen_url" toml:"imagegen_url"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// Scheduling knobs. Zero picks the arbiter package defaults.
	WaitTimeoutSec   int `json:"wait_timeout_sec" yaml:"wait_timeout_sec" toml:"wait_timeout_sec"`
	SettleDelaySec   int `json:"settle_delay_sec" yaml:"settle_delay_sec" toml:"settle_delay_sec"`
	PriorityTextGen  int `json:"priority_textgen" yaml:"priority_textgen" toml:"priority_textgen"`
	PriorityImageGen int `json:"priority_imagegen" yaml:"priority_imagegen" toml:"priority_imagegen"`

	// VRAM gating knobs. Zero picks the vram package defaults.
	VRAMThresholdPercent float64 `json:"vram_threshold_percent" yaml:"vram_threshold_percent" toml:"vram_threshold_percent"`
	VRAMMinFreeMB        int     `json:"vram_min_free_mb" yaml:"vram_min_free_mb" toml:"vram_min_free_mb"`
	VRAMMonitorDisabled  bool    `json:"vram_monitor_disabled" yaml:"vram_monitor_disabled" toml:"vram_monitor_disabled"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
