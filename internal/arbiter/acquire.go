package arbiter

import (
	"container/heap"
	"context"
	"time"

	"github.com/google/uuid"
)

// Acquire requests exclusive GPU use for opts.Service. It returns a Lease
// once the GPU is free, the right process is active, and enough VRAM is
// available, or an error when the wait budget expires, the context is
// cancelled, or the service can never be reached.
func (a *Arbiter) Acquire(ctx context.Context, opts AcquireOptions) (*Lease, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.cfg.WaitTimeout
	}
	req := &request{
		id:               uuid.NewString(),
		service:          opts.Service,
		priority:         a.priorityFor(opts.Service),
		requesterID:      opts.RequesterID,
		createdAt:        time.Now(),
		requiredMemoryMB: opts.RequiredMemoryMB,
		grant:            make(chan *Lease, 1),
		index:            -1,
	}

	a.mu.Lock()
	a.totalRequests++
	a.mu.Unlock()
	requestsTotal.WithLabelValues(string(req.service)).Inc()
	a.log.Info().
		Str("request_id", shortID(req.id)).
		Str("service", string(req.service)).
		Str("requester", req.requesterID).
		Int("priority", req.priority).
		Msg("gpu requested")

	// Fail fast instead of queueing for a service that cannot come up:
	// control plane gone and the target not answering on its own.
	if !a.switcher.CheckAPIAvailable(ctx) && !a.switcher.CheckServiceAvailable(ctx, req.service) {
		a.log.Warn().
			Str("request_id", shortID(req.id)).
			Str("service", string(req.service)).
			Msg("rejecting request, no path to service")
		return nil, ErrResourceUnavailable(req.service)
	}

	deadline := time.Now().Add(timeout)
	a.refreshFallback()

	// Immediate admission: resource free, nobody mid-admission, nobody
	// queued ahead of us.
	a.mu.Lock()
	if a.current == nil && !a.admitting && len(a.queue) == 0 {
		a.admitting = true
		a.mu.Unlock()
		if lease := a.admit(ctx, req); lease != nil {
			a.log.Info().
				Str("lease_id", shortID(lease.ID)).
				Str("service", string(req.service)).
				Msg("gpu granted immediately")
			return lease, nil
		}
		a.mu.Lock()
	}
	heap.Push(&a.queue, req)
	a.setQueueGauge()
	position := req.index + 1
	idle := a.current == nil && !a.admitting
	a.mu.Unlock()

	a.log.Info().
		Str("request_id", shortID(req.id)).
		Str("service", string(req.service)).
		Int("position", position).
		Dur("timeout", timeout).
		Msg("queued for gpu")

	// The GPU can be idle here when immediate admission failed its memory
	// gate or when a promotion stalled earlier; kick the queue so the best
	// waiter (possibly us) gets another look.
	if idle {
		a.promote(ctx)
	}

	// Under memory pressure, camp on telemetry in the background and kick
	// the queue once the gate opens. Releases kick the queue themselves,
	// so this only matters when VRAM frees up without one.
	var pressure chan bool
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	if len(req.grant) == 0 && !a.fallbackActive() && !a.vram.IsAvailable(req.requiredMemoryMB) {
		pressure = make(chan bool, 1)
		go func() {
			pressure <- a.vram.WaitForAvailable(waitCtx, time.Until(deadline), req.requiredMemoryMB)
		}()
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		select {
		case lease := <-req.grant:
			waited := time.Since(req.createdAt)
			a.mu.Lock()
			a.totalWait += waited
			a.mu.Unlock()
			waitSecondsTotal.Add(waited.Seconds())
			a.log.Info().
				Str("lease_id", shortID(lease.ID)).
				Str("service", string(req.service)).
				Dur("waited", waited).
				Msg("gpu granted after wait")
			return lease, nil
		case opened := <-pressure:
			pressure = nil
			if opened {
				a.promote(ctx)
			}
			// A closed gate means the wait window expired; the timer is
			// about to fire and settle the outcome.
		case <-ctx.Done():
			return nil, a.fail(req, timeout, ctx.Err())
		case <-timer.C:
			return nil, a.fail(req, timeout, nil)
		}
	}
}

// admit runs the admission sequence for req with the GPU known to be free.
// Caller has set a.admitting; admit clears it. Returns nil when the memory
// gate rejects and the request must queue instead.
func (a *Arbiter) admit(ctx context.Context, req *request) *Lease {
	a.switchProcess(ctx, req.service)
	a.settle(ctx)
	ok := a.fallbackActive() || a.vram.IsAvailable(req.requiredMemoryMB)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.admitting = false
	if !ok || a.current != nil {
		return nil
	}
	lease := &Lease{
		ID:         req.id,
		Service:    req.service,
		AcquiredAt: time.Now(),
		req:        req,
	}
	a.current = lease
	lockedGauge.Set(1)
	return lease
}

// fail finalizes a request that gave up waiting. ctxErr non-nil means the
// caller's context ended; otherwise the wait budget expired.
func (a *Arbiter) fail(req *request, timeout time.Duration, ctxErr error) error {
	if lease := a.abandon(req); lease != nil {
		// The grant raced the deadline; hand the GPU straight back so the
		// next waiter is not stuck behind a lease nobody holds.
		a.Release(lease.ID)
	}
	if ctxErr != nil {
		a.log.Info().
			Str("request_id", shortID(req.id)).
			Str("service", string(req.service)).
			Msg("gpu request cancelled")
		return ctxErr
	}
	a.mu.Lock()
	a.totalTimeouts++
	a.mu.Unlock()
	timeoutsTotal.WithLabelValues(string(req.service)).Inc()
	a.log.Warn().
		Str("request_id", shortID(req.id)).
		Str("service", string(req.service)).
		Dur("timeout", timeout).
		Msg("gpu request timed out")
	return ErrTimeout(req.service, timeout)
}

// abandon removes req from the queue and marks it dead so a concurrent
// promotion skips it. If a grant already landed, it is returned for the
// caller to release.
func (a *Arbiter) abandon(req *request) *Lease {
	a.mu.Lock()
	defer a.mu.Unlock()
	req.abandoned = true
	if a.queue.remove(req) {
		a.setQueueGauge()
	}
	select {
	case lease := <-req.grant:
		return lease
	default:
		return nil
	}
}
