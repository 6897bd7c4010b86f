package arbiter

import (
	"container/heap"
	"context"
	"time"

	"arbiterd/pkg/types"
)

// Release returns the GPU held by leaseID. Releasing a lease that is not the
// current one (stale ID, double release) is a logged no-op so buggy callers
// cannot free a lease they no longer own.
//
// After a successful release the post-release process policy runs, then at
// most one queued request is promoted. Promotion happens synchronously, so a
// waiter already queued wins the GPU before an Acquire that arrives later.
func (a *Arbiter) Release(leaseID string) {
	a.mu.Lock()
	if a.current == nil || a.current.ID != leaseID {
		a.mu.Unlock()
		a.log.Warn().
			Str("lease_id", shortID(leaseID)).
			Msg("release ignored, lease is not current")
		return
	}
	lease := a.current
	lease.released = true
	a.current = nil
	held := time.Since(lease.AcquiredAt)
	a.totalUsage += held
	a.mu.Unlock()

	lockedGauge.Set(0)
	usageSecondsTotal.Add(held.Seconds())
	a.log.Info().
		Str("lease_id", shortID(lease.ID)).
		Str("service", string(lease.Service)).
		Dur("held", held).
		Msg("gpu released")

	ctx := context.Background()
	a.restoreAfter(ctx, lease.Service)
	a.promote(ctx)
}

// restoreAfter applies the post-release process policy. Image generation is
// a guest on the card: when it lets go, the text backend comes back so chat
// traffic never pays a switch on its next request. A released text backend
// stays put. Anything else restores whatever ran before the lease cycle.
func (a *Arbiter) restoreAfter(ctx context.Context, released types.ServiceType) {
	switch {
	case released == types.ServiceImageGen && !a.cfg.DisableRestoreTextGen:
		a.log.Info().Msg("restoring text backend after image generation")
		if !a.switcher.SwitchTo(ctx, types.ServiceTextGen, false) {
			a.log.Warn().Msg("text backend restore failed")
		}
	case released == types.ServiceTextGen:
		a.log.Debug().Msg("text backend released, leaving process as is")
	default:
		a.switcher.RestorePrevious(ctx)
	}
}

// promote hands the GPU to the best queued request, if any. It pops in
// priority order, skips abandoned entries, and runs the same admission
// sequence as a fresh request. A request that cannot be admitted right now
// goes back on the queue and promotion stops; the next release tries again.
func (a *Arbiter) promote(ctx context.Context) {
	for {
		a.mu.Lock()
		if a.current != nil || a.admitting || len(a.queue) == 0 {
			a.mu.Unlock()
			return
		}
		req := heap.Pop(&a.queue).(*request)
		a.setQueueGauge()
		if req.abandoned {
			a.mu.Unlock()
			continue
		}
		a.admitting = true
		a.mu.Unlock()

		if !a.reachable(ctx, req.service) {
			a.log.Warn().
				Str("request_id", shortID(req.id)).
				Str("service", string(req.service)).
				Msg("promotion stalled, service unreachable")
			a.requeue(req)
			return
		}
		a.switchProcess(ctx, req.service)
		a.settle(ctx)
		if !a.fallbackActive() && !a.vram.IsAvailable(req.requiredMemoryMB) {
			a.log.Debug().
				Str("request_id", shortID(req.id)).
				Msg("promotion stalled, vram gate closed")
			a.requeue(req)
			return
		}

		a.mu.Lock()
		a.admitting = false
		if req.abandoned {
			a.mu.Unlock()
			continue
		}
		lease := &Lease{
			ID:         req.id,
			Service:    req.service,
			AcquiredAt: time.Now(),
			req:        req,
		}
		a.current = lease
		// grant is buffered; sending under the lock keeps abandon from
		// missing a lease it must hand back.
		req.grant <- lease
		a.mu.Unlock()
		lockedGauge.Set(1)
		a.log.Info().
			Str("lease_id", shortID(lease.ID)).
			Str("service", string(req.service)).
			Msg("promoted from queue")
		return
	}
}

// reachable decides whether promoting a request for svc can succeed: the
// service answers directly, or the control plane is up to start it and the
// service comes up within the ready window.
func (a *Arbiter) reachable(ctx context.Context, svc types.ServiceType) bool {
	if a.switcher.CheckServiceAvailable(ctx, svc) {
		return true
	}
	if !a.switcher.CheckAPIAvailable(ctx) {
		return false
	}
	a.switchProcess(ctx, svc)
	return a.waitForService(ctx, svc)
}

// requeue puts a request back after a stalled promotion, unless its waiter
// already gave up.
func (a *Arbiter) requeue(req *request) {
	a.mu.Lock()
	a.admitting = false
	if !req.abandoned {
		heap.Push(&a.queue, req)
		a.setQueueGauge()
	}
	a.mu.Unlock()
}
