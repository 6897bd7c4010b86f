package arbiter

import "time"

// Wait budgets callers commonly pass to Acquire. The default ceiling covers
// worst-case process switches; the presets match the two request classes the
// chat layer issues.
const (
	DefaultWaitTimeout  = 300 * time.Second
	LightRequestTimeout = 60 * time.Second
	BatchRequestTimeout = 120 * time.Second
)

// Defaults applied when corresponding ArbiterConfig fields are unset.
const (
	defaultPriorityTextGen  = 5
	defaultPriorityImageGen = 10
	defaultPriorityOther    = 1

	defaultSettleDelay         = 2 * time.Second
	defaultServiceReadyTimeout = 60 * time.Second
	defaultServicePollInterval = 2 * time.Second
)

// ArbiterConfig encapsulates all tunables for Arbiter construction.
type ArbiterConfig struct {
	// PriorityTextGen / PriorityImageGen weight the queue. Image generation
	// outranks text by default: it needs the whole card and its callers
	// already expect multi-second latencies.
	PriorityTextGen  int
	PriorityImageGen int

	// WaitTimeout is the admission ceiling used when Acquire gets none.
	WaitTimeout time.Duration

	// SettleDelay is how long to wait after a process switch before
	// trusting VRAM numbers; the stopped process needs a moment to give
	// its memory back.
	SettleDelay time.Duration

	// ServiceReadyTimeout / ServicePollInterval govern waiting for a
	// not-yet-running service during queue promotion.
	ServiceReadyTimeout time.Duration
	ServicePollInterval time.Duration

	// DisableRestoreTextGen turns off the switch back to the text backend
	// after an image generation lease is released.
	DisableRestoreTextGen bool
}

func (c ArbiterConfig) withDefaults() ArbiterConfig {
	if c.PriorityTextGen <= 0 {
		c.PriorityTextGen = defaultPriorityTextGen
	}
	if c.PriorityImageGen <= 0 {
		c.PriorityImageGen = defaultPriorityImageGen
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.ServiceReadyTimeout <= 0 {
		c.ServiceReadyTimeout = defaultServiceReadyTimeout
	}
	if c.ServicePollInterval <= 0 {
		c.ServicePollInterval = defaultServicePollInterval
	}
	return c
}
