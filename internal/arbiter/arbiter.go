package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"arbiterd/pkg/types"
)

// SwitchController is what the arbiter needs from the process switcher.
type SwitchController interface {
	SwitchTo(ctx context.Context, svc types.ServiceType, forceRestart bool) bool
	CheckAPIAvailable(ctx context.Context) bool
	CheckServiceAvailable(ctx context.Context, svc types.ServiceType) bool
	RestorePrevious(ctx context.Context) bool
}

// Telemetry is what the arbiter needs from the VRAM monitor.
type Telemetry interface {
	Usage() types.UsageSnapshot
	IsAvailable(requiredMB int) bool
	WaitForAvailable(ctx context.Context, timeout time.Duration, requiredMB int) bool
}

// Arbiter serializes GPU access between mutually exclusive services. At most
// one lease is outstanding at any time; everyone else waits on a priority
// queue ordered by service weight and arrival time.
type Arbiter struct {
	cfg      ArbiterConfig
	log      zerolog.Logger
	switcher SwitchController
	vram     Telemetry

	mu        sync.Mutex
	queue     requestQueue
	current   *Lease
	admitting bool // an admission sequence is running outside the lock
	fallback  bool // VRAM telemetry unusable, admit on switch success alone

	totalRequests int64
	totalTimeouts int64
	totalWait     time.Duration
	totalUsage    time.Duration
}

// New builds an Arbiter and takes an initial reading of VRAM telemetry to
// decide whether to start in fallback mode.
func New(sw SwitchController, vram Telemetry, cfg ArbiterConfig, log zerolog.Logger) *Arbiter {
	a := &Arbiter{
		cfg:      cfg.withDefaults(),
		log:      log,
		switcher: sw,
		vram:     vram,
	}
	a.refreshFallback()
	log.Info().
		Bool("fallback", a.fallbackActive()).
		Dur("wait_timeout", a.cfg.WaitTimeout).
		Msg("gpu arbiter ready")
	return a
}

// refreshFallback re-reads telemetry availability. Fallback mode means VRAM
// numbers cannot be trusted, so admission skips the memory gate rather than
// blocking every request on a dead sensor.
func (a *Arbiter) refreshFallback() {
	available := a.vram.Usage().Available
	a.mu.Lock()
	entered := !available && !a.fallback
	left := available && a.fallback
	a.fallback = !available
	a.mu.Unlock()
	if entered {
		a.log.Warn().Msg("vram telemetry unavailable, entering fallback mode")
	}
	if left {
		a.log.Info().Msg("vram telemetry recovered, leaving fallback mode")
	}
}

func (a *Arbiter) fallbackActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallback
}

func (a *Arbiter) priorityFor(svc types.ServiceType) int {
	switch svc {
	case types.ServiceTextGen:
		return a.cfg.PriorityTextGen
	case types.ServiceImageGen:
		return a.cfg.PriorityImageGen
	default:
		return defaultPriorityOther
	}
}

// settle pauses after a process switch so the outgoing process can hand its
// VRAM back before the gate reads the numbers.
func (a *Arbiter) settle(ctx context.Context) {
	if a.cfg.SettleDelay <= 0 {
		return
	}
	select {
	case <-time.After(a.cfg.SettleDelay):
	case <-ctx.Done():
	}
}

// switchProcess runs the best-effort switch. A false return is logged and
// tolerated: the memory gate afterwards is the real arbiter of admission.
func (a *Arbiter) switchProcess(ctx context.Context, svc types.ServiceType) {
	if !a.switcher.SwitchTo(ctx, svc, false) {
		a.log.Warn().Str("service", string(svc)).Msg("process switch reported failure")
	}
}

// waitForService polls the direct probe until svc answers or the ready
// window closes.
func (a *Arbiter) waitForService(ctx context.Context, svc types.ServiceType) bool {
	deadline := time.Now().Add(a.cfg.ServiceReadyTimeout)
	for {
		if a.switcher.CheckServiceAvailable(ctx, svc) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(a.cfg.ServicePollInterval):
		case <-ctx.Done():
			return false
		}
	}
}

// setQueueGauge mirrors queue length into Prometheus. Callers hold a.mu.
func (a *Arbiter) setQueueGauge() {
	queueLengthGauge.Set(float64(len(a.queue)))
}

// shortID trims a UUID for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
