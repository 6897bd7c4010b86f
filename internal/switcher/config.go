package switcher

import "time"

// Defaults applied when corresponding SwitcherConfig fields are unset.
const (
	defaultSwitchTimeout     = 120 * time.Second
	defaultAPITimeout        = 5 * time.Second
	defaultProbeTimeout      = 2 * time.Second
	defaultReadyWait         = 30 * time.Second
	defaultReadyPollInterval = 2 * time.Second

	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 2 * time.Second
	defaultRetryMultiplier = 2.0
)

// RetryPolicy bounds retries around flaky control-plane calls. One policy is
// shared by every mutating operation instead of ad hoc sleeps per call site.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultRetryAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultRetryBaseDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = defaultRetryMultiplier
	}
	return p
}

// SwitcherConfig encapsulates all tunables for Switcher construction.
type SwitcherConfig struct {
	// ControlPlaneURL is the base URL of the process management API. Empty
	// disables remote switching; availability then rests on direct probes.
	ControlPlaneURL string
	// TextGenURL / ImageGenURL are the service endpoints used for direct
	// health probes.
	TextGenURL  string
	ImageGenURL string

	// SwitchTimeout bounds a single switch call; stopping one process and
	// cold-starting the other can take a while.
	SwitchTimeout time.Duration
	// APITimeout bounds control-plane liveness and status calls.
	APITimeout time.Duration
	// ProbeTimeout bounds direct service health probes.
	ProbeTimeout time.Duration
	// ReadyWait and ReadyPollInterval govern the post-switch readiness poll.
	ReadyWait         time.Duration
	ReadyPollInterval time.Duration

	// DisableRestore turns RestorePrevious into a no-op.
	DisableRestore bool

	Retry RetryPolicy
}

func (c SwitcherConfig) withDefaults() SwitcherConfig {
	if c.SwitchTimeout <= 0 {
		c.SwitchTimeout = defaultSwitchTimeout
	}
	if c.APITimeout <= 0 {
		c.APITimeout = defaultAPITimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.ReadyWait <= 0 {
		c.ReadyWait = defaultReadyWait
	}
	if c.ReadyPollInterval <= 0 {
		c.ReadyPollInterval = defaultReadyPollInterval
	}
	c.Retry = c.Retry.withDefaults()
	return c
}
