package arbiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbiterd/pkg/types"
)

func TestAcquireImmediateGrant(t *testing.T) {
	sw := newFakeSwitcher()
	a := fastArbiter(t, sw, newFakeVRAM())

	lease, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Service != types.ServiceTextGen {
		t.Fatalf("lease service = %q", lease.Service)
	}
	st := a.Status()
	if !st.GPULocked || st.CurrentService != types.ServiceTextGen {
		t.Fatalf("status after grant: %+v", st)
	}
	log := sw.switchLog()
	if len(log) == 0 || log[0] != types.ServiceTextGen {
		t.Fatalf("expected switch to textgen, got %v", log)
	}
	a.Release(lease.ID)
	if st := a.Status(); st.GPULocked {
		t.Fatalf("gpu still locked after release")
	}
}

func TestMutualExclusion(t *testing.T) {
	a := fastArbiter(t, newFakeSwitcher(), newFakeVRAM())

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.With(context.Background(), AcquireOptions{Service: types.ServiceTextGen}, func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				if n > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, n)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			if err != nil {
				t.Errorf("with: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Fatalf("observed %d concurrent holders", got)
	}
}

func TestPriorityOrdering(t *testing.T) {
	a := fastArbiter(t, newFakeSwitcher(), newFakeVRAM())

	holder, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen})
	if err != nil {
		t.Fatalf("holder acquire: %v", err)
	}

	order := make(chan types.ServiceType, 2)
	startWaiter := func(svc types.ServiceType) {
		go func() {
			lease, err := a.Acquire(context.Background(), AcquireOptions{Service: svc})
			if err != nil {
				t.Errorf("waiter %s: %v", svc, err)
				return
			}
			order <- svc
			a.Release(lease.ID)
		}()
	}

	// Low priority first, high priority second; the grant order must invert.
	startWaiter(types.ServiceTextGen)
	if !waitFor(t, time.Second, func() bool { return a.Status().QueueLength == 1 }) {
		t.Fatalf("first waiter never queued")
	}
	startWaiter(types.ServiceImageGen)
	if !waitFor(t, time.Second, func() bool { return a.Status().QueueLength == 2 }) {
		t.Fatalf("second waiter never queued")
	}

	a.Release(holder.ID)
	first, second := <-order, <-order
	if first != types.ServiceImageGen || second != types.ServiceTextGen {
		t.Fatalf("grant order = %s, %s", first, second)
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	a := fastArbiter(t, newFakeSwitcher(), newFakeVRAM())

	holder, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen})
	if err != nil {
		t.Fatalf("holder acquire: %v", err)
	}

	order := make(chan string, 2)
	startWaiter := func(tag string) {
		go func() {
			lease, err := a.Acquire(context.Background(), AcquireOptions{
				Service:     types.ServiceTextGen,
				RequesterID: tag,
			})
			if err != nil {
				t.Errorf("waiter %s: %v", tag, err)
				return
			}
			order <- tag
			a.Release(lease.ID)
		}()
	}

	startWaiter("first")
	if !waitFor(t, time.Second, func() bool { return a.Status().QueueLength == 1 }) {
		t.Fatalf("first waiter never queued")
	}
	startWaiter("second")
	if !waitFor(t, time.Second, func() bool { return a.Status().QueueLength == 2 }) {
		t.Fatalf("second waiter never queued")
	}

	a.Release(holder.ID)
	if first, second := <-order, <-order; first != "first" || second != "second" {
		t.Fatalf("grant order = %s, %s", first, second)
	}
}

func TestTimeoutCleansQueue(t *testing.T) {
	a := fastArbiter(t, newFakeSwitcher(), newFakeVRAM())

	holder, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen})
	if err != nil {
		t.Fatalf("holder acquire: %v", err)
	}

	_, err = a.Acquire(context.Background(), AcquireOptions{
		Service: types.ServiceImageGen,
		Timeout: 30 * time.Millisecond,
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if st := a.Status(); st.QueueLength != 0 {
		t.Fatalf("queue not cleaned after timeout: %d entries", st.QueueLength)
	}
	if st := a.Status(); st.Metrics.TotalTimeouts != 1 {
		t.Fatalf("timeout not counted: %+v", a.Status().Metrics)
	}

	// The abandoned entry must not block later grants.
	a.Release(holder.ID)
	lease, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceImageGen})
	if err != nil {
		t.Fatalf("acquire after timeout: %v", err)
	}
	a.Release(lease.ID)
}

func TestContextCancelCleansQueue(t *testing.T) {
	a := fastArbiter(t, newFakeSwitcher(), newFakeVRAM())

	holder, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen})
	if err != nil {
		t.Fatalf("holder acquire: %v", err)
	}
	defer a.Release(holder.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := a.Acquire(ctx, AcquireOptions{Service: types.ServiceImageGen})
		done <- err
	}()
	if !waitFor(t, time.Second, func() bool { return a.Status().QueueLength == 1 }) {
		t.Fatalf("waiter never queued")
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled acquire did not return")
	}
	if st := a.Status(); st.QueueLength != 0 {
		t.Fatalf("queue not cleaned after cancel: %d entries", st.QueueLength)
	}
}

func TestAcquireToleratesSwitchFailure(t *testing.T) {
	// A failed switch signal is not fatal: the service may be reachable
	// anyway, and the memory gate has the final say.
	sw := newFakeSwitcher()
	sw.failAll = true
	a := fastArbiter(t, sw, newFakeVRAM())

	lease, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen})
	if err != nil {
		t.Fatalf("acquire with failing switch: %v", err)
	}
	a.Release(lease.ID)
}

func TestFailFastWhenServiceUnreachable(t *testing.T) {
	sw := newFakeSwitcher()
	sw.apiUp = false
	sw.svcDown[types.ServiceImageGen] = true
	a := fastArbiter(t, sw, newFakeVRAM())

	start := time.Now()
	_, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceImageGen})
	if !IsResourceUnavailable(err) {
		t.Fatalf("expected resource unavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("fail-fast took %s", elapsed)
	}
}

func TestFallbackModeSkipsMemoryGate(t *testing.T) {
	vram := newFakeVRAM()
	vram.sensorUp.Store(false)
	vram.admit.Store(false)
	a := fastArbiter(t, newFakeSwitcher(), vram)

	lease, err := a.Acquire(context.Background(), AcquireOptions{Service: types.ServiceTextGen, RequiredMemoryMB: 8000})
	if err != nil {
		t.Fatalf("fallback acquire: %v", err)
	}
	if !a.Status().Metrics.FallbackMode {
		t.Fatalf("fallback mode not reported")
	}
	a.Release(lease.ID)

	// Sensor recovery lifts fallback on the next status read.
	vram.sensorUp.Store(true)
	if a.Status().Metrics.FallbackMode {
		t.Fatalf("fallback mode stuck after sensor recovery")
	}
}

func TestMemoryGateDelaysGrant(t *testing.T) {
	vram := newFakeVRAM()
	vram.admit.Store(false)
	a := fastArbiter(t, newFakeSwitcher(), vram)

	done := make(chan error, 1)
	var lease *Lease
	go func() {
		var err error
		lease, err = a.Acquire(context.Background(), AcquireOptions{
			Service:          types.ServiceTextGen,
			RequiredMemoryMB: 4000,
			Timeout:          2 * time.Second,
		})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("granted despite closed memory gate: err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	vram.admit.Store(true)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire after gate opened: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("grant did not follow the gate opening")
	}
	a.Release(lease.ID)
}

func TestMemoryGateTimeout(t *testing.T) {
	vram := newFakeVRAM()
	vram.admit.Store(false)
	a := fastArbiter(t, newFakeSwitcher(), vram)

	_, err := a.Acquire(context.Background(), AcquireOptions{
		Service:          types.ServiceTextGen,
		RequiredMemoryMB: 4000,
		Timeout:          40 * time.Millisecond,
	})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
