package vram

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"arbiterd/pkg/types"
)

// querier is a single telemetry backend. Implementations must be safe for
// concurrent use.
type querier interface {
	// usage returns used and total device memory in MB.
	usage() (usedMB, totalMB uint64, err error)
	name() string
}

// Monitor reports GPU memory headroom and answers "can a workload of this
// size start now". It is a read-only probe: when no backend works it
// degrades to always-available rather than blocking callers on a signal
// nobody can observe.
type Monitor struct {
	cfg MonitorConfig
	log zerolog.Logger
	q   querier
}

// NewMonitor probes telemetry backends in preference order (NVML, then
// nvidia-smi) and returns a Monitor bound to the first that works. A Monitor
// with no working backend is still usable; it just cannot gate anything.
func NewMonitor(cfg MonitorConfig, log zerolog.Logger) *Monitor {
	m := &Monitor{cfg: cfg.withDefaults(), log: log}
	if m.cfg.Disabled {
		log.Info().Msg("vram monitor disabled by config")
		return m
	}
	if q, err := newNVMLQuerier(); err == nil {
		m.q = q
		log.Info().Str("method", q.name()).Msg("vram telemetry initialized")
		return m
	} else {
		log.Debug().Err(err).Msg("nvml unavailable, trying nvidia-smi")
	}
	if q, err := newSMIQuerier(); err == nil {
		m.q = q
		log.Info().Str("method", q.name()).Msg("vram telemetry initialized")
		return m
	} else {
		log.Warn().Err(err).Msg("no vram telemetry backend available")
	}
	return m
}

// newMonitorWith wires an explicit backend; used by tests.
func newMonitorWith(cfg MonitorConfig, log zerolog.Logger, q querier) *Monitor {
	return &Monitor{cfg: cfg.withDefaults(), log: log, q: q}
}

// Usage returns the current memory snapshot. Available=false means no
// backend answered and the numbers carry no information.
func (m *Monitor) Usage() types.UsageSnapshot {
	if m.cfg.Disabled {
		return types.UsageSnapshot{Available: true, Method: "disabled"}
	}
	if m.q == nil {
		return types.UsageSnapshot{Method: "unavailable"}
	}
	used, total, err := m.q.usage()
	if err != nil {
		m.log.Warn().Err(err).Str("method", m.q.name()).Msg("vram query failed")
		return types.UsageSnapshot{Method: "unavailable"}
	}
	snap := types.UsageSnapshot{
		UsedMB:    used,
		TotalMB:   total,
		FreeMB:    total - used,
		Available: true,
		Method:    m.q.name(),
	}
	if total > 0 {
		snap.UsagePercent = float64(used) / float64(total) * 100
	}
	return snap
}

// IsAvailable reports whether a workload needing requiredMB can start.
// Unavailable telemetry yields true: inability to observe VRAM must never
// wedge the whole system, the mutual-exclusion lease still serializes use.
func (m *Monitor) IsAvailable(requiredMB int) bool {
	if m.cfg.Disabled {
		return true
	}
	snap := m.Usage()
	if !snap.Available {
		m.log.Warn().Msg("vram telemetry unavailable, admitting without gating")
		return true
	}
	if snap.UsagePercent >= m.cfg.ThresholdPercent {
		m.log.Warn().
			Float64("usage_percent", snap.UsagePercent).
			Float64("threshold", m.cfg.ThresholdPercent).
			Msg("vram over threshold")
		return false
	}
	minRequired := requiredMB
	if minRequired <= 0 {
		minRequired = m.cfg.MinFreeMB
	}
	if snap.FreeMB < uint64(minRequired) {
		m.log.Warn().
			Uint64("free_mb", snap.FreeMB).
			Int("required_mb", minRequired).
			Msg("not enough free vram")
		return false
	}
	return true
}

// WaitForAvailable polls IsAvailable until it returns true, the timeout
// elapses, or ctx is canceled.
func (m *Monitor) WaitForAvailable(ctx context.Context, timeout time.Duration, requiredMB int) bool {
	if m.cfg.Disabled {
		return true
	}
	start := time.Now()
	deadline := start.Add(timeout)
	for {
		if m.IsAvailable(requiredMB) {
			if waited := time.Since(start); waited > m.cfg.PollInterval {
				m.log.Info().Dur("waited", waited).Msg("vram became available")
			}
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.log.Warn().Dur("timeout", timeout).Msg("timed out waiting for vram")
			return false
		}
		pause := m.cfg.PollInterval
		if pause > remaining {
			pause = remaining
		}
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return false
		}
	}
}

// Processes lists processes currently holding GPU memory. Best effort via
// nvidia-smi regardless of which backend answers memory queries; an empty
// slice means none found or the tool is missing.
func (m *Monitor) Processes() []types.GPUProcess {
	if m.cfg.Disabled {
		return nil
	}
	procs, err := listGPUProcesses()
	if err != nil {
		m.log.Debug().Err(err).Msg("gpu process listing failed")
		return nil
	}
	return procs
}
