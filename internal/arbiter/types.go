package arbiter

import (
	"time"

	"arbiterd/pkg/types"
)

// AcquireOptions describes a single GPU request.
type AcquireOptions struct {
	// Service the caller wants active on the GPU. Required.
	Service types.ServiceType

	// RequesterID is an opaque caller tag, used only for logging.
	RequesterID string

	// RequiredMemoryMB is an optional VRAM hint. Zero means "no specific
	// requirement"; admission then falls back to the usage threshold alone.
	RequiredMemoryMB int

	// Timeout caps the wait for admission. Zero means the configured
	// arbiter-wide default.
	Timeout time.Duration
}

// request is a queued acquisition. It lives on the arbiter's heap until it is
// granted, times out, or is cancelled.
type request struct {
	id               string
	service          types.ServiceType
	priority         int
	requesterID      string
	createdAt        time.Time
	requiredMemoryMB int

	// grant carries the lease from the promoter to the waiting Acquire
	// call. Buffered so the promoter never blocks on a dead waiter.
	grant chan *Lease

	// index is the heap slot, -1 when not queued. abandoned marks a
	// request whose waiter gave up; both are guarded by the arbiter mutex.
	index     int
	abandoned bool
}

// Lease is proof of GPU ownership. Holders must pass its ID back to Release
// exactly once when done.
type Lease struct {
	ID         string
	Service    types.ServiceType
	AcquiredAt time.Time

	req      *request
	released bool
}
