package arbiter

import (
	"context"
	"sort"
	"time"

	"arbiterd/pkg/types"
)

const statusQueuePreview = 10

// Status reports a point-in-time snapshot for the operator API. It also
// re-probes telemetry so a recovered sensor lifts fallback mode without
// waiting for the next request.
func (a *Arbiter) Status() types.ArbiterStatus {
	a.refreshFallback()
	snap := a.vram.Usage()
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	st := types.ArbiterStatus{
		GPULocked:   a.current != nil,
		QueueLength: len(a.queue),
		VRAM:        snap,
	}
	if a.current != nil {
		st.CurrentService = a.current.Service
	}

	// Heap order is only approximate; sort a copy for display.
	pending := make([]*request, 0, len(a.queue))
	for _, req := range a.queue {
		if !req.abandoned {
			pending = append(pending, req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].priority != pending[j].priority {
			return pending[i].priority > pending[j].priority
		}
		return pending[i].createdAt.Before(pending[j].createdAt)
	})
	if len(pending) > statusQueuePreview {
		pending = pending[:statusQueuePreview]
	}
	for _, req := range pending {
		st.Queue = append(st.Queue, types.QueueEntry{
			RequestID:      shortID(req.id),
			ServiceType:    req.service,
			Priority:       req.priority,
			WaitingSeconds: now.Sub(req.createdAt).Seconds(),
		})
	}

	granted := a.totalRequests - a.totalTimeouts
	if granted < 1 {
		granted = 1
	}
	total := a.totalRequests
	if total < 1 {
		total = 1
	}
	st.Metrics = types.ArbiterMetrics{
		TotalRequests: a.totalRequests,
		TotalTimeouts: a.totalTimeouts,
		TimeoutRate:   float64(a.totalTimeouts) / float64(total),
		AvgWaitSec:    a.totalWait.Seconds() / float64(granted),
		AvgUsageSec:   a.totalUsage.Seconds() / float64(granted),
		FallbackMode:  a.fallback,
	}
	return st
}

// Ready reports whether the arbiter can plausibly satisfy a request: the
// control plane answers, or at least the text backend does on its own.
func (a *Arbiter) Ready(ctx context.Context) bool {
	if a.switcher.CheckAPIAvailable(ctx) {
		return true
	}
	return a.switcher.CheckServiceAvailable(ctx, types.ServiceTextGen)
}
