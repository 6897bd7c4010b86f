package vram

import "time"

// Defaults applied when corresponding MonitorConfig fields are unset.
const (
	defaultPollInterval     = 5 * time.Second
	defaultThresholdPercent = 90.0
	defaultMinFreeMB        = 1024
)

// MonitorConfig encapsulates all tunables for Monitor construction.
type MonitorConfig struct {
	// Disabled turns the monitor into an always-available stub. Gating is
	// skipped entirely, matching a deployment without NVIDIA tooling.
	Disabled bool
	// PollInterval is the delay between availability checks in WaitForAvailable.
	PollInterval time.Duration
	// ThresholdPercent marks the card as busy when usage reaches it.
	ThresholdPercent float64
	// MinFreeMB is the free-memory floor used when a request carries no
	// size hint of its own.
	MinFreeMB int
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ThresholdPercent <= 0 {
		c.ThresholdPercent = defaultThresholdPercent
	}
	if c.MinFreeMB <= 0 {
		c.MinFreeMB = defaultMinFreeMB
	}
	return c
}
