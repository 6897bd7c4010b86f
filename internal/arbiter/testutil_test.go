package arbiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"arbiterd/pkg/types"
)

// fakeSwitcher records process operations and answers probes from flags.
type fakeSwitcher struct {
	mu       sync.Mutex
	current  types.ServiceType
	switches []types.ServiceType
	restores int
	apiUp    bool
	// svcDown marks services that fail direct probes; failAll makes every
	// SwitchTo report failure.
	svcDown map[types.ServiceType]bool
	failAll bool
}

func newFakeSwitcher() *fakeSwitcher {
	return &fakeSwitcher{apiUp: true, svcDown: map[types.ServiceType]bool{}}
}

func (f *fakeSwitcher) SwitchTo(_ context.Context, svc types.ServiceType, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return false
	}
	f.switches = append(f.switches, svc)
	f.current = svc
	return true
}

func (f *fakeSwitcher) CheckAPIAvailable(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.apiUp
}

func (f *fakeSwitcher) CheckServiceAvailable(_ context.Context, svc types.ServiceType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.svcDown[svc]
}

func (f *fakeSwitcher) RestorePrevious(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores++
	return true
}

func (f *fakeSwitcher) switchLog() []types.ServiceType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ServiceType(nil), f.switches...)
}

func (f *fakeSwitcher) restoreCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restores
}

// fakeVRAM is telemetry with two switches: whether the sensor works at all
// and whether the memory gate admits.
type fakeVRAM struct {
	sensorUp atomic.Bool
	admit    atomic.Bool
}

func newFakeVRAM() *fakeVRAM {
	v := &fakeVRAM{}
	v.sensorUp.Store(true)
	v.admit.Store(true)
	return v
}

func (v *fakeVRAM) Usage() types.UsageSnapshot {
	return types.UsageSnapshot{
		UsedMB:    2048,
		TotalMB:   24576,
		FreeMB:    22528,
		Available: v.sensorUp.Load(),
		Method:    "fake",
	}
}

func (v *fakeVRAM) IsAvailable(int) bool {
	if !v.sensorUp.Load() {
		return true
	}
	return v.admit.Load()
}

func (v *fakeVRAM) WaitForAvailable(ctx context.Context, timeout time.Duration, requiredMB int) bool {
	deadline := time.Now().Add(timeout)
	for {
		if v.IsAvailable(requiredMB) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return false
		}
	}
}

func fastArbiter(t *testing.T, sw SwitchController, vram Telemetry) *Arbiter {
	t.Helper()
	return New(sw, vram, ArbiterConfig{
		WaitTimeout:         2 * time.Second,
		SettleDelay:         time.Millisecond,
		ServiceReadyTimeout: 20 * time.Millisecond,
		ServicePollInterval: time.Millisecond,
	}, zerolog.Nop())
}

// waitFor polls cond until it holds or the window closes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
